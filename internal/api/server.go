// Package api serves the viewer page, the viewer websocket and the model
// download for one session.
package api

import (
	"context"
	_ "embed"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"time"

	"mcc/internal/artifact"
	"mcc/internal/logging"
	"mcc/internal/metrics"
	"mcc/internal/notify"
)

//go:embed viewer/index.html
var viewerHTML []byte

const (
	readHeaderTimeout = 5 * time.Second
	statusLogLimit    = 50
)

// Hub is the part of notify.Hub the server needs.
type Hub interface {
	Subscribe(transport notify.Transport) (notify.ViewerChannel, error)
	Unsubscribe(id string)
	Stats() notify.Stats
}

type ServerOptions struct {
	ArtifactPath   string
	Hub            Hub
	Exporter       artifact.Exporter
	// Validator fills the watertight and volume fields of /model/info.
	Validator      artifact.Validator
	Quality        artifact.Quality
	Metrics        *metrics.Registry
	Logger         *logging.Logger
	AllowedOrigins []string
	// Status returns the session snapshot embedded in /api/session.
	Status func() any
}

type Server struct {
	artifactPath   string
	hub            Hub
	models         *modelCache
	infos          *infoCache
	metrics        *metrics.Registry
	logger         *logging.Logger
	allowedOrigins []string
	status         func() any
	httpServer     *http.Server
}

func NewServer(options ServerOptions) (*Server, error) {
	if options.Hub == nil {
		return nil, errors.New("hub is required")
	}
	if options.ArtifactPath == "" {
		return nil, errors.New("artifact path is required")
	}
	quality := options.Quality
	if quality == "" {
		quality = artifact.QualityStandard
	}
	logger := options.Logger.WithCategory("api")
	server := &Server{
		artifactPath:   options.ArtifactPath,
		hub:            options.Hub,
		models:         newModelCache(options.Exporter, quality),
		infos:          newInfoCache(options.Validator, logger),
		metrics:        options.Metrics,
		logger:         logger,
		allowedOrigins: options.AllowedOrigins,
		status:         options.Status,
	}
	server.httpServer = &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return server, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", securityHeadersHandler(cacheControlNoCache, s.handleIndex))
	mux.HandleFunc("/ws", s.serveViewer)
	mux.HandleFunc("/model.stl", restHandler(s.logger, s.handleModel))
	mux.HandleFunc("/model/info", restHandler(s.logger, s.handleModelInfo))
	mux.HandleFunc("/api/session", restHandler(s.logger, s.handleSession))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return loggingMiddleware(s.logger, mux)
}

// Serve blocks until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("viewer server listening", map[string]string{"addr": listener.Addr().String()})
	return s.httpServer.Serve(listener)
}

// Shutdown stops accepting requests and waits for in-flight ones. Viewer
// websockets are hijacked and must be closed through the hub first.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		_ = s.httpServer.Close()
	}
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(viewerHTML)
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return methodNotAllowed(w, "GET, HEAD")
	}
	data, err := s.models.Load(r.Context(), s.artifactPath)
	if err != nil {
		return modelError(err)
	}
	w.Header().Set("Content-Type", "model/stl")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(data)
	}
	return nil
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	info, err := s.infos.Load(r.Context(), s.artifactPath, s.models.Load)
	if err != nil {
		return modelError(err)
	}
	writeJSON(w, http.StatusOK, info)
	return nil
}

func modelError(err error) *apiError {
	if errors.Is(err, fs.ErrNotExist) {
		return &apiError{Status: http.StatusNotFound, Message: "no model loaded"}
	}
	if errors.Is(err, errNoExporter) {
		return &apiError{Status: http.StatusServiceUnavailable, Message: err.Error()}
	}
	return &apiError{Status: http.StatusBadGateway, Message: err.Error()}
}

type sessionResponse struct {
	Session      any                `json:"session,omitempty"`
	ArtifactPath string             `json:"artifact_path"`
	Viewers      int                `json:"viewers"`
	MessagesSent uint64             `json:"messages_sent"`
	Pruned       uint64             `json:"viewers_pruned"`
	Logs         []logging.LogEntry `json:"logs,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	stats := s.hub.Stats()
	response := sessionResponse{
		ArtifactPath: s.artifactPath,
		Viewers:      stats.Viewers,
		MessagesSent: stats.Sent,
		Pruned:       stats.Pruned,
		Logs:         recentLogs(s.logger, statusLogLimit),
	}
	if s.status != nil {
		response.Session = s.status()
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

func recentLogs(logger *logging.Logger, limit int) []logging.LogEntry {
	buffer := logger.Buffer()
	if buffer == nil {
		return nil
	}
	entries := buffer.List()
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// artifactStamp identifies one on-disk revision of the artifact.
type artifactStamp struct {
	modTime int64
	size    int64
}

func stampOf(path string) (artifactStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return artifactStamp{}, err
	}
	return artifactStamp{modTime: info.ModTime().UnixNano(), size: info.Size()}, nil
}

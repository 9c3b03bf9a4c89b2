package api

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"mcc/internal/artifact"
	"mcc/internal/logging"
)

// modelInfo is the /model/info payload shown in the viewer's info panel.
// Fields that need the validator are omitted when it is unavailable.
type modelInfo struct {
	Name         string              `json:"name"`
	Dimensions   artifact.Dimensions `json:"dimensions"`
	Triangles    int                 `json:"triangles"`
	Vertices     int                 `json:"vertices,omitempty"`
	Volume       *float64            `json:"volume"`
	SurfaceArea  *float64            `json:"surface_area,omitempty"`
	IsWatertight *bool               `json:"is_watertight,omitempty"`
	IsPrintable  *bool               `json:"is_printable,omitempty"`
	Issues       []artifact.Issue    `json:"issues,omitempty"`
}

// infoCache keeps the last model info keyed like modelCache. Results
// without a validation report are not cached so a transient toolchain
// failure is retried on the next request.
type infoCache struct {
	validator artifact.Validator
	logger    *logging.Logger

	mu    sync.Mutex
	stamp artifactStamp
	info  *modelInfo
}

func newInfoCache(validator artifact.Validator, logger *logging.Logger) *infoCache {
	return &infoCache{validator: validator, logger: logger}
}

// Load returns the info for path, exporting the mesh through mesh on a miss.
func (c *infoCache) Load(ctx context.Context, path string, mesh func(context.Context, string) ([]byte, error)) (modelInfo, error) {
	stamp, err := stampOf(path)
	if err != nil {
		return modelInfo{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info != nil && c.stamp == stamp {
		return *c.info, nil
	}

	data, err := mesh(ctx, path)
	if err != nil {
		return modelInfo{}, err
	}
	summary, err := artifact.SummarizeSTL(data)
	if err != nil {
		return modelInfo{}, fmt.Errorf("%w: %v", artifact.ErrToolchain, err)
	}
	info := modelInfo{
		Name:       strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Dimensions: summary.Dimensions(),
		Triangles:  summary.Triangles,
	}
	if c.validator == nil {
		c.stamp, c.info = stamp, &info
		return info, nil
	}

	report, err := c.validator.Validate(ctx, path)
	if err != nil {
		c.logger.Warn("model validation failed", map[string]string{"path": path, "error": err.Error()})
		return info, nil
	}
	applyReport(&info, report)
	c.stamp, c.info = stamp, &info
	return info, nil
}

func applyReport(info *modelInfo, report artifact.Report) {
	if report.TriangleCount > 0 {
		info.Triangles = report.TriangleCount
	}
	info.Vertices = report.VertexCount
	if report.IsWatertight {
		volume := report.Volume
		info.Volume = &volume
	}
	area := report.SurfaceArea
	info.SurfaceArea = &area
	watertight, printable := report.IsWatertight, report.IsPrintable
	info.IsWatertight = &watertight
	info.IsPrintable = &printable
	info.Issues = report.Issues
}

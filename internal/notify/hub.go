// Package notify fans notifications out to connected viewers.
//
// A Hub owns its registry of viewer channels on a single run-loop goroutine.
// Subscribe, Unsubscribe, Broadcast and Close are requests to that loop.
// Every channel has a bounded outbox drained by its own writer goroutine, so
// a slow viewer never delays the others: a full outbox or a failed write
// removes the channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mcc/internal/logging"
	"mcc/internal/metrics"
	"mcc/internal/watcher"

	"github.com/google/uuid"
)

const (
	DefaultOutboxSize   = 16
	DefaultWriteTimeout = 5 * time.Second
	// TerminalWriteTimeout bounds the final message written on stop.
	TerminalWriteTimeout = 250 * time.Millisecond
)

var (
	ErrHubClosed   = errors.New("hub closed")
	ErrChannelSend = errors.New("channel send failed")
)

// Prune reasons reported in HubEvent and metrics.
const (
	ReasonOutboxFull   = "outbox_full"
	ReasonSendFailed   = "send_failed"
	ReasonDisconnected = "disconnected"
	ReasonClosed       = "hub_closed"
)

// SignalSource is the consumer side of a change bridge.
type SignalSource interface {
	Ready() <-chan struct{}
	Attach()
	Drain() []watcher.ChangeSignal
}

type HubEventKind string

const (
	EventConnected HubEventKind = "viewer_connected"
	EventRemoved   HubEventKind = "viewer_removed"
)

type HubEvent struct {
	Kind      HubEventKind
	ChannelID string
	Reason    string
	Err       error
}

type Options struct {
	OutboxSize   int
	WriteTimeout time.Duration
	Logger       *logging.Logger
	Metrics      *metrics.Registry
	// Observer is called on the run loop and must not block.
	Observer func(HubEvent)
}

// ViewerChannel identifies one connected viewer.
type ViewerChannel struct {
	ID          string
	ConnectedAt time.Time
}

type Stats struct {
	Viewers int
	Sent    uint64
	Pruned  uint64
}

type viewer struct {
	info      ViewerChannel
	transport Transport
	outbox    chan Message
	quit      chan struct{}
	quitOnce  sync.Once
	terminal  *Message

	// ctx parents every regular send; stop cancels it so a stuck write
	// returns at once.
	ctx    context.Context
	cancel context.CancelFunc
}

func (v *viewer) stop(terminal *Message) {
	v.quitOnce.Do(func() {
		v.terminal = terminal
		close(v.quit)
		v.cancel()
	})
}

type subscribeRequest struct {
	transport Transport
	reply     chan subscribeResult
}

type subscribeResult struct {
	channel ViewerChannel
	err     error
}

type sendFailure struct {
	id  string
	err error
}

type Hub struct {
	outboxSize   int
	writeTimeout time.Duration
	logger       *logging.Logger
	metrics      *metrics.Registry
	observer     func(HubEvent)

	subscribeCh   chan subscribeRequest
	unsubscribeCh chan string
	broadcastCh   chan Message
	failureCh     chan sendFailure
	attachCh      chan SignalSource
	closeCh       chan Message

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	writers   sync.WaitGroup

	viewerCount atomic.Int64
	sent        atomic.Uint64
	pruned      atomic.Uint64

	// Owned by the run loop.
	viewers map[string]*viewer
	source  SignalSource
}

// NewHub starts the run loop. Callers must Close the hub to release it.
func NewHub(options Options) *Hub {
	outboxSize := options.OutboxSize
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	writeTimeout := options.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	hub := &Hub{
		outboxSize:    outboxSize,
		writeTimeout:  writeTimeout,
		logger:        options.Logger.WithCategory("hub"),
		metrics:       options.Metrics,
		observer:      options.Observer,
		subscribeCh:   make(chan subscribeRequest),
		unsubscribeCh: make(chan string),
		broadcastCh:   make(chan Message),
		failureCh:     make(chan sendFailure),
		attachCh:      make(chan SignalSource),
		closeCh:       make(chan Message),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
		viewers:       make(map[string]*viewer),
	}
	go hub.run()
	return hub
}

// Subscribe registers transport and starts its writer.
func (h *Hub) Subscribe(transport Transport) (ViewerChannel, error) {
	if transport == nil {
		return ViewerChannel{}, errors.New("transport is required")
	}
	reply := make(chan subscribeResult, 1)
	select {
	case h.subscribeCh <- subscribeRequest{transport: transport, reply: reply}:
	case <-h.done:
		return ViewerChannel{}, ErrHubClosed
	}
	result := <-reply
	return result.channel, result.err
}

// Unsubscribe removes a channel and closes its transport. Unknown IDs are
// ignored.
func (h *Hub) Unsubscribe(id string) {
	select {
	case h.unsubscribeCh <- id:
	case <-h.done:
	}
}

// Broadcast offers message to every channel.
func (h *Hub) Broadcast(message Message) error {
	select {
	case h.broadcastCh <- message:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Attach makes the run loop drain source and broadcast one Reload per
// drained signal.
func (h *Hub) Attach(source SignalSource) error {
	if source == nil {
		return errors.New("signal source is required")
	}
	select {
	case h.attachCh <- source:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Close sends terminal to every channel, closes every transport and waits
// for the writers to finish. Later calls are no-ops.
func (h *Hub) Close(terminal Message) {
	h.closeOnce.Do(func() {
		select {
		case h.closeCh <- terminal:
		case <-h.stopped:
		}
		<-h.stopped
		h.writers.Wait()
	})
}

// Done is closed once the hub stops accepting requests.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) Count() int {
	return int(h.viewerCount.Load())
}

func (h *Hub) Stats() Stats {
	return Stats{
		Viewers: h.Count(),
		Sent:    h.sent.Load(),
		Pruned:  h.pruned.Load(),
	}
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		var ready <-chan struct{}
		if h.source != nil {
			ready = h.source.Ready()
		}
		select {
		case request := <-h.subscribeCh:
			request.reply <- subscribeResult{channel: h.add(request.transport)}
		case id := <-h.unsubscribeCh:
			h.remove(id, ReasonDisconnected, nil, nil)
		case message := <-h.broadcastCh:
			h.fanout(message)
		case failure := <-h.failureCh:
			h.remove(failure.id, ReasonSendFailed, failure.err, nil)
		case source := <-h.attachCh:
			h.source = source
			source.Attach()
		case <-ready:
			for range h.source.Drain() {
				h.fanout(Reload())
			}
		case terminal := <-h.closeCh:
			close(h.done)
			for id := range h.viewers {
				h.remove(id, ReasonClosed, nil, &terminal)
			}
			h.logger.Info("hub closed", map[string]string{"message.type": string(terminal.Type)})
			return
		}
	}
}

func (h *Hub) add(transport Transport) ViewerChannel {
	ctx, cancel := context.WithCancel(context.Background())
	v := &viewer{
		info:      ViewerChannel{ID: uuid.NewString(), ConnectedAt: time.Now().UTC()},
		transport: transport,
		outbox:    make(chan Message, h.outboxSize),
		quit:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	h.viewers[v.info.ID] = v
	h.viewerCount.Store(int64(len(h.viewers)))
	h.metrics.SetViewers(len(h.viewers))
	h.writers.Add(1)
	go h.write(v)
	h.logger.Debug("viewer connected", map[string]string{"channel.id": v.info.ID})
	h.notify(HubEvent{Kind: EventConnected, ChannelID: v.info.ID})
	return v.info
}

func (h *Hub) remove(id string, reason string, err error, terminal *Message) {
	v, ok := h.viewers[id]
	if !ok {
		return
	}
	delete(h.viewers, id)
	h.viewerCount.Store(int64(len(h.viewers)))
	h.metrics.SetViewers(len(h.viewers))
	v.stop(terminal)

	if reason == ReasonOutboxFull || reason == ReasonSendFailed {
		h.pruned.Add(1)
		h.metrics.IncPrune(reason)
		fields := map[string]string{"channel.id": id, "reason": reason}
		if err != nil {
			fields["error"] = err.Error()
		}
		h.logger.Warn("viewer pruned", fields)
	}
	h.notify(HubEvent{Kind: EventRemoved, ChannelID: id, Reason: reason, Err: err})
}

func (h *Hub) fanout(message Message) {
	h.metrics.IncBroadcast(string(message.Type))
	for id, v := range h.viewers {
		select {
		case v.outbox <- message:
		default:
			h.remove(id, ReasonOutboxFull, fmt.Errorf("%w: outbox full", ErrChannelSend), nil)
		}
	}
}

func (h *Hub) notify(event HubEvent) {
	if h.observer != nil {
		h.observer(event)
	}
}

// write drains the outbox until the channel is stopped or a send fails.
// On stop, a terminal message is written before the transport closes,
// unless stop interrupted a send in flight.
func (h *Hub) write(v *viewer) {
	defer h.writers.Done()
	defer func() {
		_ = v.transport.Close()
	}()

	for {
		select {
		case <-v.quit:
			h.finish(v)
			return
		default:
		}
		select {
		case <-v.quit:
			h.finish(v)
			return
		case message := <-v.outbox:
			ctx, cancel := context.WithTimeout(v.ctx, h.writeTimeout)
			err := h.send(ctx, v, message)
			cancel()
			if err == nil {
				continue
			}
			if v.ctx.Err() != nil {
				return
			}
			select {
			case h.failureCh <- sendFailure{id: v.info.ID, err: err}:
			case <-v.quit:
			case <-h.done:
			}
			return
		}
	}
}

func (h *Hub) finish(v *viewer) {
	if v.terminal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), TerminalWriteTimeout)
	defer cancel()
	_ = h.send(ctx, v, *v.terminal)
}

func (h *Hub) send(ctx context.Context, v *viewer, message Message) error {
	if err := v.transport.Send(ctx, message); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelSend, err)
	}
	h.sent.Add(1)
	h.metrics.IncSend()
	return nil
}

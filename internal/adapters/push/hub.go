// Package push carries contribution records from the store to clients over
// a WebSocket. On connect a subscriber receives the full history as
// {"records": [...]}, then one record object per accepted submission.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/okian/orbit/internal/domain/model"
	"github.com/okian/orbit/pkg/logger"
	"github.com/okian/orbit/pkg/metrics"
)

const (
	defaultSendBuffer = 256
	writeWait         = 10 * time.Second
)

// SnapshotFunc returns the history sent to a new subscriber.
type SnapshotFunc func(ctx context.Context) ([]model.ContributionRecord, error)

type peer struct {
	out  chan []byte
	once sync.Once
	gone chan struct{}
}

func (p *peer) drop() {
	p.once.Do(func() { close(p.gone) })
}

// Hub fans records out to connected subscribers. A subscriber that cannot
// keep up is disconnected; it reconnects and starts over from a fresh
// snapshot.
type Hub struct {
	snapshot   SnapshotFunc
	sendBuffer int
	log        logger.Logger

	mu     sync.Mutex
	peers  map[*peer]struct{}
	closed bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSendBuffer sets how many messages may queue per subscriber.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithHubLogger sets a custom logger.
func WithHubLogger(l logger.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHub creates a hub that greets subscribers with snapshot.
func NewHub(snapshot SnapshotFunc, opts ...HubOption) *Hub {
	h := &Hub{
		snapshot:   snapshot,
		sendBuffer: defaultSendBuffer,
		peers:      make(map[*peer]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logger.Get().Named("push-hub")
	}
	return h
}

// Handler returns the WebSocket endpoint. Any origin is accepted; kiosks
// do not send one.
func (h *Hub) Handler() http.Handler {
	return websocket.Server{
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   h.serve,
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// register adds a peer and queues its snapshot. Holding the lock across
// the snapshot orders it before any record broadcast afterwards.
func (h *Hub) register(ctx context.Context) (*peer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	records, err := h.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if records == nil {
		records = []model.ContributionRecord{}
	}
	first, err := json.Marshal(model.BootstrapPayload{Records: records})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	p := &peer{out: make(chan []byte, h.sendBuffer), gone: make(chan struct{})}
	p.out <- first
	h.peers[p] = struct{}{}
	metrics.UpdatePushSubscribers(len(h.peers))
	return p, nil
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[p]; ok {
		delete(h.peers, p)
		p.drop()
		metrics.UpdatePushSubscribers(len(h.peers))
	}
}

func (h *Hub) serve(ws *websocket.Conn) {
	ctx := ws.Request().Context()
	defer func() { _ = ws.Close() }()

	p, err := h.register(ctx)
	if err != nil {
		h.log.Warn(ctx, "refusing subscriber", logger.Error(err))
		return
	}
	defer h.unregister(p)

	// The server's request deadlines must not cut a long-lived subscription.
	_ = ws.SetReadDeadline(time.Time{})

	// Subscribers never send; a read only returns when the peer goes away.
	go func() {
		var discard []byte
		for {
			if err := websocket.Message.Receive(ws, &discard); err != nil {
				p.drop()
				return
			}
		}
	}()

	for {
		select {
		case msg := <-p.out:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := websocket.Message.Send(ws, string(msg)); err != nil {
				h.log.Debug(ctx, "subscriber write failed", logger.Error(err))
				return
			}
		case <-p.gone:
			return
		}
	}
}

// Broadcast sends one accepted record to every subscriber.
func (h *Hub) Broadcast(ctx context.Context, rec model.ContributionRecord) error {
	msg, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return h.send(ctx, msg)
}

// BroadcastSnapshot replaces every subscriber's history, e.g. after a reset.
func (h *Hub) BroadcastSnapshot(ctx context.Context, records []model.ContributionRecord) error {
	if records == nil {
		records = []model.ContributionRecord{}
	}
	msg, err := json.Marshal(model.BootstrapPayload{Records: records})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return h.send(ctx, msg)
}

func (h *Hub) send(ctx context.Context, msg []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	for p := range h.peers {
		select {
		case p.out <- msg:
		default:
			h.log.Warn(ctx, "dropping slow subscriber", logger.Error(ErrSlowPeer))
			delete(h.peers, p)
			p.drop()
		}
	}
	metrics.UpdatePushSubscribers(len(h.peers))
	return nil
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for p := range h.peers {
		delete(h.peers, p)
		p.drop()
	}
	metrics.UpdatePushSubscribers(0)
	return nil
}

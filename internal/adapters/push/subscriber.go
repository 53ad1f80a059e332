package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/net/websocket"

	"github.com/okian/orbit/pkg/logger"
	"github.com/okian/orbit/pkg/metrics"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
	defaultOrigin     = "http://localhost/"
)

// MessageHandler receives one raw push payload. Errors are logged and the
// connection stays up.
type MessageHandler func(ctx context.Context, data []byte) error

// Subscriber keeps a push connection open, reconnecting with capped
// exponential backoff. Every reconnect is followed by a fresh snapshot from
// the hub, so no delta is lost across a drop.
type Subscriber struct {
	url        string
	origin     string
	handler    MessageHandler
	minBackoff time.Duration
	maxBackoff time.Duration
	log        logger.Logger
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithOrigin sets the Origin header sent on the handshake.
func WithOrigin(origin string) SubscriberOption {
	return func(s *Subscriber) {
		if origin != "" {
			s.origin = origin
		}
	}
}

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(minDelay, maxDelay time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if minDelay > 0 {
			s.minBackoff = minDelay
		}
		if maxDelay >= s.minBackoff {
			s.maxBackoff = maxDelay
		}
	}
}

// WithSubscriberLogger sets a custom logger.
func WithSubscriberLogger(l logger.Logger) SubscriberOption {
	return func(s *Subscriber) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSubscriber creates a subscriber for the ws:// or wss:// url.
func NewSubscriber(url string, handler MessageHandler, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		url:        url,
		origin:     defaultOrigin,
		handler:    handler,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("push-subscriber")
	}
	return s
}

// Run connects and reads until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	delay := s.minBackoff
	for {
		delivered, err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if delivered > 0 {
			delay = s.minBackoff
		}
		metrics.RecordTransportFailure("push")
		s.log.Warn(ctx, "push channel dropped",
			logger.Error(err),
			logger.Int("delivered", delivered),
			logger.Duration("retry_in", delay),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		metrics.RecordPushReconnect()
		delay *= 2
		if delay > s.maxBackoff {
			delay = s.maxBackoff
		}
	}
}

// session runs one connection and returns how many messages it delivered.
func (s *Subscriber) session(ctx context.Context) (int, error) {
	cfg, err := websocket.NewConfig(s.url, s.origin)
	if err != nil {
		return 0, fmt.Errorf("push config: %w", err)
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("push dial: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = conn.Close()
	}()

	s.log.Info(ctx, "push channel connected", logger.String("url", s.url))

	delivered := 0
	for {
		var msg []byte
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			return delivered, fmt.Errorf("push read: %w", err)
		}
		delivered++
		if err := s.handler(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn(ctx, "push message rejected", logger.Error(err))
		}
	}
}

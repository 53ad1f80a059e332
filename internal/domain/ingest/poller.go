package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/orbit/internal/domain/model"
	"github.com/okian/orbit/pkg/logger"
	"github.com/okian/orbit/pkg/metrics"
)

// Default poller configuration constants.
const (
	defaultPollInterval = 5 * time.Second
	defaultFetchTimeout = 10 * time.Second
)

// Fetcher reads the full contribution history from the store.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]model.ContributionRecord, error)
}

// Sequencer issues fetch sequence numbers.
type Sequencer interface {
	NextSeq() uint64
}

// Sink receives fetched bootstraps, usually the ingest queue.
type Sink func(ctx context.Context, e Event) error

// Poller fetches the history on a fixed interval. Fetches may overlap; the
// sequence number taken when each one starts lets the ingestor drop the
// slower, older ones.
type Poller struct {
	fetcher  Fetcher
	seq      Sequencer
	sink     Sink
	interval time.Duration
	timeout  time.Duration
	onError  func(ctx context.Context, err error)
	log      logger.Logger

	wg sync.WaitGroup
}

// PollerOption applies a configuration option to the Poller.
type PollerOption func(*Poller)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithFetchTimeout bounds each fetch.
func WithFetchTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithFetchErrorHandler is called after every failed fetch.
func WithFetchErrorHandler(fn func(ctx context.Context, err error)) PollerOption {
	return func(p *Poller) { p.onError = fn }
}

// WithPollerLogger sets a custom logger.
func WithPollerLogger(l logger.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPoller creates a poller that hands fetched histories to sink.
func NewPoller(f Fetcher, seq Sequencer, sink Sink, opts ...PollerOption) *Poller {
	p := &Poller{
		fetcher:  f,
		seq:      seq,
		sink:     sink,
		interval: defaultPollInterval,
		timeout:  defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Get().Named("poller")
	}
	return p
}

// Run fetches immediately and then on every tick until ctx is done. It
// waits for in-flight fetches before returning.
func (p *Poller) Run(ctx context.Context) {
	defer p.wg.Wait()

	p.spawn(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.spawn(ctx)
		}
	}
}

func (p *Poller) spawn(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.FetchOnce(ctx)
	}()
}

// FetchOnce runs one sequenced fetch and hands the result to the sink.
func (p *Poller) FetchOnce(ctx context.Context) error {
	seq := p.seq.NextSeq()

	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	records, err := p.fetcher.FetchAll(fetchCtx)
	metrics.RecordFetchLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.RecordTransportFailure("fetch")
		p.log.Warn(ctx, "fetch failed; keeping last good working set",
			logger.Uint64("seq", seq), logger.Error(err))
		if p.onError != nil {
			p.onError(ctx, err)
		}
		return fmt.Errorf("fetch %d: %w", seq, err)
	}

	if err := p.sink(ctx, Bootstrap(seq, SourcePoll, records)); err != nil {
		p.log.Warn(ctx, "could not queue fetched bootstrap",
			logger.Uint64("seq", seq), logger.Error(err))
		return err
	}
	return nil
}

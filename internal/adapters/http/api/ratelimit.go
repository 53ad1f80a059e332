package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 3 * time.Minute
	limiterSweepEvery = time.Minute
)

// SubmitterLimiter keeps one token bucket per submitter id. Buckets idle
// for longer than limiterIdleTTL are dropped on the next sweep.
type SubmitterLimiter struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSubmitterLimiter allows rps submissions per second per submitter with
// the given burst. A non-positive rps disables limiting and returns nil.
func NewSubmitterLimiter(rps float64, burst int) *SubmitterLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &SubmitterLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow reports whether submitter may submit now. A nil limiter allows all.
func (l *SubmitterLimiter) Allow(submitter string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterSweepEvery {
		for id, v := range l.visitors {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(l.visitors, id)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[submitter]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[submitter] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Len returns the number of tracked submitters.
func (l *SubmitterLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

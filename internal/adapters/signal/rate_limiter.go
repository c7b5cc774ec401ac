package signal

import (
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"golang.org/x/time/rate"
)

// FrameLimiter is a token bucket per session over inbound frames.
type FrameLimiter struct {
	mu       sync.Mutex
	limiters map[core.SessionID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewFrameLimiter(perSecond float64, burst int) *FrameLimiter {
	return &FrameLimiter{
		limiters: make(map[core.SessionID]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (fl *FrameLimiter) Allow(sid core.SessionID) bool {
	fl.mu.Lock()
	l, ok := fl.limiters[sid]
	if !ok {
		l = rate.NewLimiter(fl.limit, fl.burst)
		fl.limiters[sid] = l
	}
	fl.mu.Unlock()
	return l.Allow()
}

func (fl *FrameLimiter) Forget(sid core.SessionID) {
	fl.mu.Lock()
	delete(fl.limiters, sid)
	fl.mu.Unlock()
}

func (fl *FrameLimiter) Len() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return len(fl.limiters)
}

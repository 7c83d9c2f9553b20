package contract

import (
	"math"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bjaus/contract/schema"
)

// RateLimitExtension names the operation extension that sets an
// operation's own limit: {"rate": 5, "burst": 10}.
const RateLimitExtension = "x-rate-limit"

// RateLimitConfig configures per-operation rate limiting.
type RateLimitConfig struct {
	Rate            float64               // requests per second
	Burst           int                   // max burst
	KeyFunc         func(*Request) string // default: remote IP
	CleanupInterval time.Duration         // how often to prune idle limiters (default: 1m)
	MaxIdle         time.Duration         // remove limiters idle longer than this (default: 5m)
}

type limit struct {
	rate  float64
	burst int
}

// rateLimiter keeps one token bucket per operation and client key. Without
// a router-wide rate only the limits operations declare are enforced.
type rateLimiter struct {
	cfg RateLimitConfig

	mu          sync.Mutex
	limiters    map[string]*limiterEntry
	lastCleanup time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(cfg *RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{limiters: make(map[string]*limiterEntry)}
	if cfg != nil {
		rl.cfg = *cfg
	}
	if rl.cfg.KeyFunc == nil {
		rl.cfg.KeyFunc = func(r *Request) string {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				return r.RemoteAddr
			}
			return host
		}
	}
	if rl.cfg.CleanupInterval <= 0 {
		rl.cfg.CleanupInterval = time.Minute
	}
	if rl.cfg.MaxIdle <= 0 {
		rl.cfg.MaxIdle = 5 * time.Minute
	}
	return rl
}

// limitFor returns the operation's limit, falling back to the router-wide
// one. ok is false when the operation is not limited.
func (rl *rateLimiter) limitFor(op *Operation) (limit, bool) {
	if ext, ok := op.Extensions[RateLimitExtension].(map[string]any); ok {
		r, _ := schema.Number(ext["rate"])
		b, _ := schema.Number(ext["burst"])
		if r > 0 {
			return limit{rate: r, burst: max(int(b), 1)}, true
		}
	}
	if rl.cfg.Rate > 0 {
		return limit{rate: rl.cfg.Rate, burst: max(rl.cfg.Burst, 1)}, true
	}
	return limit{}, false
}

// allow takes a token for the request, returning a routing-stage
// ErrRateLimited error when none is left.
func (rl *rateLimiter) allow(op *Operation, req *Request) error {
	lim, ok := rl.limitFor(op)
	if !ok {
		return nil
	}
	key := op.ID + "|" + rl.cfg.KeyFunc(req)

	rl.mu.Lock()
	now := time.Now()

	// Lazy cleanup of expired limiters.
	if now.Sub(rl.lastCleanup) >= rl.cfg.CleanupInterval {
		for k, e := range rl.limiters {
			if now.Sub(e.lastSeen) > rl.cfg.MaxIdle {
				delete(rl.limiters, k)
			}
		}
		rl.lastCleanup = now
	}

	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(lim.rate), lim.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	rl.mu.Unlock()

	if entry.limiter.Allow() {
		return nil
	}
	return &StageError{
		Stage:       StageRouting,
		Kind:        ErrRateLimited,
		OperationID: op.ID,
		RetryAfter:  int(math.Ceil(1 / lim.rate)),
	}
}

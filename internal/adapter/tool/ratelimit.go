package tool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"localagent/internal/domain"
)

// HostLimiter keeps one token bucket per remote host.
type HostLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewHostLimiter allows rps requests per second per host with the given burst.
// A non-positive rps disables limiting.
func NewHostLimiter(rps float64, burst int) *HostLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (h *HostLimiter) get(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.limiters[host] = l
	}
	return l
}

// Allow reports whether a request to host may proceed now, consuming a token if so.
func (h *HostLimiter) Allow(host string) bool {
	return h.get(host).Allow()
}

// Wait blocks until a token for host is available or ctx ends.
// A wait that cannot complete before the deadline fails with ErrRateLimit.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if err := h.get(host).Wait(ctx); err != nil {
		return domain.NewSubSystemError("network", "HostLimiter.Wait", domain.ErrRateLimit,
			fmt.Sprintf("%s: %v", host, err))
	}
	return nil
}

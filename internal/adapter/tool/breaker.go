package tool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"localagent/internal/domain"
	"localagent/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBTimeout  time.Duration = 30 * time.Second
	defaultCBInterval time.Duration = 60 * time.Second
)

// hostBreakers keeps one circuit breaker per remote host so that a failing
// upstream fails fast without affecting requests to other hosts.
type hostBreakers[T any] struct {
	mu       sync.Mutex
	cfg      config.BreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker[T]
	logger   *slog.Logger
}

// newHostBreakers returns nil when cfg.MaxFailures is zero; a nil
// *hostBreakers runs calls directly.
func newHostBreakers[T any](cfg config.BreakerConfig, logger *slog.Logger) *hostBreakers[T] {
	if cfg.MaxFailures == 0 {
		return nil
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = defaultCBTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultCBInterval
	}
	return &hostBreakers[T]{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[T]),
		logger:   logger,
	}
}

func (h *hostBreakers[T]) get(host string) *gobreaker.CircuitBreaker[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	cb, ok := h.breakers[host]
	if ok {
		return cb
	}
	maxFailures := h.cfg.MaxFailures
	cb = gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        "network:" + host,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    h.cfg.Interval,
		Timeout:     h.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	h.breakers[host] = cb
	return cb
}

// Execute runs fn through host's breaker. Open or saturated breakers fail
// with ErrCircuitOpen.
func (h *hostBreakers[T]) Execute(host string, fn func() (T, error)) (T, error) {
	if h == nil {
		return fn()
	}
	res, err := h.get(host).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return res, domain.NewSubSystemError("network", "hostBreakers.Execute", domain.ErrCircuitOpen,
			fmt.Sprintf("%s: %v", host, err))
	}
	return res, err
}

// State returns the breaker state for host; closed when no breaker exists yet.
func (h *hostBreakers[T]) State(host string) gobreaker.State {
	if h == nil {
		return gobreaker.StateClosed
	}
	h.mu.Lock()
	cb, ok := h.breakers[host]
	h.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/insider-one/notification-engine/internal/domain"
)

// maxConsecutiveHealthFailures is how many health probes in a row must fail
// before an adapter is marked unhealthy and skipped by the dispatcher.
const maxConsecutiveHealthFailures = 3

// Registry holds the set of initialized channel adapters and tracks their
// health, refreshed on a ticker. The dispatcher consults it before routing
// a delivery to skip channels already known to be down.
type Registry struct {
	adapters map[domain.Channel]domain.ChannelAdapter
	health   map[domain.Channel]domain.AdapterHealth
	failures map[domain.Channel]int
	logger   *slog.Logger

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		adapters: make(map[domain.Channel]domain.ChannelAdapter),
		health:   make(map[domain.Channel]domain.AdapterHealth),
		failures: make(map[domain.Channel]int),
		logger:   logger,
	}
}

// Register wires an adapter in and initializes it. An adapter whose
// Initialize fails is still registered, marked unhealthy, and revived by the
// health loop on its first successful probe; the daemon proceeds without it.
func (r *Registry) Register(ctx context.Context, adapter domain.ChannelAdapter) {
	status := domain.AdapterHealth{Channel: adapter.Channel(), Healthy: true, LastChecked: time.Now().UTC()}
	if err := adapter.Initialize(ctx); err != nil {
		r.logger.Warn("channel adapter failed to initialize, registered unhealthy",
			"channel", adapter.Channel(), "error", err)
		status.Healthy = false
		status.LastError = fmt.Sprintf("initialize: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Channel()] = adapter
	r.health[adapter.Channel()] = status
	if !status.Healthy {
		r.failures[adapter.Channel()] = maxConsecutiveHealthFailures
	}
}

func (r *Registry) Get(channel domain.Channel) (domain.ChannelAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[channel]
	return a, ok
}

func (r *Registry) IsHealthy(channel domain.Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.health[channel]
	return !ok || h.Healthy // unknown channel is treated as healthy, dispatcher rejects it on lookup
}

func (r *Registry) Health() []domain.AdapterHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AdapterHealth, 0, len(r.health))
	for _, h := range r.health {
		out = append(out, h)
	}
	return out
}

// StartHealthLoop launches a background goroutine that polls every adapter's
// HealthCheck on the given interval until Stop is called.
func (r *Registry) StartHealthLoop(interval time.Duration) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.checkAll(ctx)
			}
		}
	}()
}

func (r *Registry) checkAll(ctx context.Context) {
	r.mu.RLock()
	adapters := make([]domain.ChannelAdapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	for _, a := range adapters {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.HealthCheck(checkCtx)
		cancel()

		r.mu.Lock()
		if err == nil {
			r.failures[a.Channel()] = 0
			r.health[a.Channel()] = domain.AdapterHealth{Channel: a.Channel(), Healthy: true, LastChecked: time.Now().UTC()}
		} else {
			r.failures[a.Channel()]++
			status := domain.AdapterHealth{
				Channel:     a.Channel(),
				Healthy:     r.failures[a.Channel()] < maxConsecutiveHealthFailures,
				LastChecked: time.Now().UTC(),
				LastError:   err.Error(),
			}
			r.health[a.Channel()] = status
			r.logger.Warn("channel health check failed",
				"channel", a.Channel(), "consecutive_failures", r.failures[a.Channel()], "error", err)
		}
		r.mu.Unlock()
	}
}

// Stop halts the health loop and shuts down every adapter.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.cancel()
		r.running = false
	}
	adapters := make([]domain.ChannelAdapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.mu.Unlock()

	r.wg.Wait()

	for _, a := range adapters {
		if err := a.Shutdown(ctx); err != nil {
			r.logger.Warn("channel adapter shutdown failed", "channel", a.Channel(), "error", err)
		}
	}
}

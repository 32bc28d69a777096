// Package health runs the background provider probe loop. The monitor
// never serves user traffic; it exists so breakers can recover proactively
// instead of waiting for a live request to fail.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"phoenixgate/internal/pool"
)

const probeTimeout = 5 * time.Second

// CheckResult is one probe outcome.
type CheckResult struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// ProviderStatus is the rolling view of one provider's probe history.
type ProviderStatus struct {
	Name    string        `json:"name"`
	Kind    string        `json:"kind"`
	Breaker string        `json:"breaker"`
	Healthy bool          `json:"healthy"`
	History []CheckResult `json:"history"`
}

// Monitor periodically pings every provider in the pool and reports each
// result to the provider's circuit breaker. Probes pass through the same
// breaker admission as live requests, so the single-probe rule in
// half-open state holds for monitor traffic too.
type Monitor struct {
	pool        *pool.Pool
	interval    time.Duration
	historySize int
	logger      *slog.Logger

	mu       sync.RWMutex
	statuses map[string]*ProviderStatus

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor constructs a monitor over the pool.
func NewMonitor(p *pool.Pool, interval time.Duration, historySize int, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	statuses := make(map[string]*ProviderStatus)
	for _, e := range p.Entries() {
		statuses[e.Provider.Name()] = &ProviderStatus{
			Name: e.Provider.Name(),
			Kind: string(e.Provider.Kind()),
		}
	}
	return &Monitor{
		pool:        p,
		interval:    interval,
		historySize: historySize,
		logger:      logger,
		statuses:    statuses,
	}
}

// Start launches the probe loop. The first sweep runs immediately so the
// status endpoint is populated from startup.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		m.sweep(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Sweep runs one probe pass; exported for tests.
func (m *Monitor) Sweep(ctx context.Context) {
	m.sweep(ctx)
}

func (m *Monitor) sweep(ctx context.Context) {
	for _, entry := range m.pool.Entries() {
		if ctx.Err() != nil {
			return
		}
		name := entry.Provider.Name()

		if !entry.Breaker.Allow() {
			// Still cooling down; no outbound probe.
			m.record(name, entry, CheckResult{
				Timestamp: time.Now(),
				Success:   false,
				Error:     "circuit breaker open",
			})
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := entry.Provider.Ping(probeCtx)
		cancel()

		result := CheckResult{Timestamp: time.Now(), Success: err == nil}
		if err != nil {
			result.Error = err.Error()
			entry.Breaker.ReportFailure(false)
		} else {
			entry.Breaker.ReportSuccess()
		}
		m.record(name, entry, result)
	}
}

func (m *Monitor) record(name string, entry *pool.Entry, result CheckResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := m.statuses[name]
	status.Healthy = result.Success
	status.Breaker = entry.Breaker.State().String()
	status.History = append(status.History, result)
	if len(status.History) > m.historySize {
		status.History = status.History[1:]
	}

	m.logger.Debug("provider probe",
		"provider", name,
		"healthy", result.Success,
		"breaker", status.Breaker,
	)
}

// Snapshot copies the current status of every provider.
func (m *Monitor) Snapshot() map[string]ProviderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ProviderStatus, len(m.statuses))
	for name, status := range m.statuses {
		copied := *status
		copied.History = append([]CheckResult(nil), status.History...)
		out[name] = copied
	}
	return out
}

// Aggregate reduces the snapshot to a single service status: "ok" when all
// providers are healthy, "degraded" when at least one is, "down" otherwise.
func Aggregate(statuses map[string]ProviderStatus) string {
	healthy := 0
	for _, s := range statuses {
		if s.Healthy {
			healthy++
		}
	}
	switch {
	case len(statuses) == 0 || healthy == 0:
		return "down"
	case healthy < len(statuses):
		return "degraded"
	default:
		return "ok"
	}
}

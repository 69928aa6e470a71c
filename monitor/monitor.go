// Package monitor is the background reconciliation loop: every interval it
// re-derives each registered guest's actual run state from its process handle
// and flags divergence. It never restarts anything (restart policy belongs
// to callers) and never blocks the request path: probes fan out over a
// worker pool so one slow guest cannot delay the cycle for the others.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/burrow/audit"
	"github.com/projecteru2/burrow/config"
	"github.com/projecteru2/burrow/registry"
	"github.com/projecteru2/burrow/types"
	"github.com/projecteru2/burrow/utils"
)

// Monitor reconciles registry state against live processes.
type Monitor struct {
	conf     *config.Config
	registry *registry.Registry
	sink     *audit.Sink
	pool     *ants.Pool
	interval time.Duration

	// probe decides whether a PID is alive; swapped in tests.
	probe func(pid int) bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor with a health-check pool of conf.PoolSize workers.
func New(conf *config.Config, reg *registry.Registry, sink *audit.Sink) (*Monitor, error) {
	pool, err := ants.NewPool(conf.PoolSize)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		conf:     conf,
		registry: reg,
		sink:     sink,
		pool:     pool,
		interval: time.Duration(conf.MonitorIntervalSeconds) * time.Second,
		probe:    utils.IsProcessAlive,
	}, nil
}

// Start begins the poll loop. No-op if already running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(ctx, m.done)
	log.WithFunc("monitor.Start").Infof(ctx, "health monitor started, interval %s", m.interval)
}

// Stop halts the loop and guarantees no further ticks fire before returning.
// No-op if not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Release stops the monitor and frees the worker pool.
func (m *Monitor) Release() {
	m.Stop()
	m.pool.Release()
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reconcile(ctx)
		}
	}
}

// Reconcile runs one cycle: probe every guest the registry believes is
// running and mark the ones whose process vanished. Probes run concurrently
// on the pool and the cycle joins them before returning.
func (m *Monitor) Reconcile(ctx context.Context) {
	var wg sync.WaitGroup
	for _, guest := range m.registry.List() {
		if guest.State != types.GuestStateRunning {
			continue
		}
		guest := guest
		wg.Add(1)
		if err := m.pool.Submit(func() {
			defer wg.Done()
			m.checkOne(ctx, &guest)
		}); err != nil {
			wg.Done()
			log.WithFunc("monitor.Reconcile").Warnf(ctx, "submit health check %s: %v", guest.ID, err)
		}
	}
	wg.Wait()
}

func (m *Monitor) checkOne(ctx context.Context, g *types.Guest) {
	pid, err := utils.ReadPIDFile(g.PIDFile)
	alive := err == nil && m.probe(pid)
	if alive {
		return
	}

	logger := log.WithFunc("monitor.checkOne")
	// Divergence: registry says running, process is gone. Mark error for
	// observability; whether to restart is the caller's decision.
	if _, err := m.registry.Update(ctx, g.ID, func(cur *types.Guest) error {
		if cur.State != types.GuestStateRunning {
			return nil // a racing transition already corrected it
		}
		cur.State = types.GuestStateError
		cur.UpdatedAt = time.Now()
		return nil
	}); err != nil {
		logger.Warnf(ctx, "reconcile %s: %v", g.ID, err)
		return
	}
	logger.Warnf(ctx, "guest %s process (pid %d) vanished, marked error", g.ID, pid)
	if m.sink != nil {
		m.sink.Record(ctx, audit.Event{
			Event:     "guest_unhealthy",
			GuestID:   g.ID,
			Operation: "reconcile",
			Detail:    "hypervisor process vanished",
		})
	}
}

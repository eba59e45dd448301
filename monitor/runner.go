// Package monitor provides the condition monitors feeding the controller's
// mode selection: each monitor polls one external data source on its own
// schedule and publishes a normalized snapshot into a shared store.
//
// Concurrency model: one Runner goroutine per monitor, single writer per
// store slot, atomic pointer swaps on publish. The controller never waits on
// a monitor; it reads whatever snapshot is currently published.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/tiagofranzen/pi-traffic-light/errors"
	"github.com/tiagofranzen/pi-traffic-light/health"
	"github.com/tiagofranzen/pi-traffic-light/metric"
	"github.com/tiagofranzen/pi-traffic-light/pkg/retry"
)

// Source is one external data source a Runner polls.
type Source interface {
	// Name is the monitor's well-known name (see Name* constants)
	Name() string
	// Enabled reports whether the source has everything it needs to poll.
	// A source missing its credentials is permanently disabled and must
	// never issue a network call.
	Enabled() bool
	// Poll fetches and normalizes one observation
	Poll(ctx context.Context) (Snapshot, error)
}

// RunnerConfig holds the polling schedule for one monitor
type RunnerConfig struct {
	Interval time.Duration // time between poll cycles
	Timeout  time.Duration // per-cycle deadline covering all retry attempts
	MaxAge   time.Duration // snapshot age beyond which mode selection ignores it
	Retry    retry.Config  // backoff for transient failures within a cycle
}

// Validate checks the runner configuration
func (c RunnerConfig) Validate() error {
	if c.Interval <= 0 {
		return errors.WrapInvalid(fmt.Errorf("interval %v must be positive", c.Interval),
			"RunnerConfig", "Validate", "interval validation")
	}
	if c.Timeout <= 0 {
		return errors.WrapInvalid(fmt.Errorf("timeout %v must be positive", c.Timeout),
			"RunnerConfig", "Validate", "timeout validation")
	}
	return nil
}

// RunnerDeps holds runtime dependencies for a monitor runner
type RunnerDeps struct {
	Source  Source
	Store   *Store
	Logger  *slog.Logger
	Metrics *metric.Registry // optional
	Health  *health.Monitor  // optional
}

// runnerMetrics holds the prometheus metrics of one runner
type runnerMetrics struct {
	polls       prometheus.Counter
	failures    prometheus.Counter
	lastSuccess prometheus.Gauge
}

func newRunnerMetrics(registry *metric.Registry, name string) *runnerMetrics {
	if registry == nil {
		return nil
	}

	m := &runnerMetrics{
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "monitor",
			Name:        "polls_total",
			Help:        "Completed poll cycles",
			ConstLabels: prometheus.Labels{"monitor": name},
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "monitor",
			Name:        "poll_failures_total",
			Help:        "Poll cycles that exhausted their retries",
			ConstLabels: prometheus.Labels{"monitor": name},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "monitor",
			Name:        "last_success_timestamp_seconds",
			Help:        "Unix time of the last successful poll",
			ConstLabels: prometheus.Labels{"monitor": name},
		}),
	}

	component := "monitor_" + name
	_ = registry.RegisterCounter(component, "polls", m.polls)
	_ = registry.RegisterCounter(component, "poll_failures", m.failures)
	_ = registry.RegisterGauge(component, "last_success", m.lastSuccess)
	return m
}

// Runner owns one Source and its polling loop: its own interval, per-cycle
// timeout, bounded retries with backoff, and a rate limiter so a
// misconfigured interval cannot hammer an external API. Failures publish an
// Unavailable snapshot for the cycle; the last good snapshot ages out via
// the store's max-age policy.
type Runner struct {
	name    string
	source  Source
	store   *Store
	logger  *slog.Logger
	healthM *health.Monitor
	cfg     RunnerConfig
	limiter *rate.Limiter
	metrics *runnerMetrics

	// Lifecycle management
	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool
	mu       sync.Mutex
	wg       sync.WaitGroup

	failures atomic.Int64
}

// NewRunner creates a runner and registers the monitor's store slot
func NewRunner(cfg RunnerConfig, deps RunnerDeps) (*Runner, error) {
	if deps.Source == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Runner", "NewRunner", "source validation")
	}
	if deps.Store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Runner", "NewRunner", "store validation")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	name := deps.Source.Name()
	if err := deps.Store.Register(name, cfg.MaxAge); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", name+"-monitor")

	// Permit at most two polls per configured interval; the burst of one
	// keeps the cadence strict even if the loop misbehaves.
	limiter := rate.NewLimiter(rate.Every(cfg.Interval/2), 1)

	return &Runner{
		name:    name,
		source:  deps.Source,
		store:   deps.Store,
		logger:  logger,
		healthM: deps.Health,
		cfg:     cfg,
		limiter: limiter,
		metrics: newRunnerMetrics(deps.Metrics, name),
	}, nil
}

// Name returns the monitor name this runner polls
func (r *Runner) Name() string {
	return r.name
}

// Initialize validates the runner before start
func (r *Runner) Initialize() error {
	// Slot registration happened in the constructor; nothing to do here,
	// I/O belongs in Start.
	return nil
}

// Start launches the polling loop. A disabled source never starts a loop and
// never dials out: it publishes a permanent Unavailable snapshot and reports
// degraded health.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return nil // Already running, idempotent
	}

	if !r.source.Enabled() {
		r.logger.Warn("monitor disabled: missing credentials, not polling")
		_ = r.store.Publish(Unavailable(r.name, time.Now()))
		if r.healthM != nil {
			r.healthM.UpdateDegraded(r.name+"-monitor", "disabled: missing credentials")
		}
		return nil
	}

	r.shutdown = make(chan struct{})
	r.done = make(chan struct{})
	r.running.Store(true)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.done)
		r.loop(ctx)
	}()

	r.logger.Info("monitor started", "interval", r.cfg.Interval, "timeout", r.cfg.Timeout)
	return nil
}

// loop polls immediately and then on every interval tick
func (r *Runner) loop(ctx context.Context) {
	r.pollCycle(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.shutdown:
			return
		case <-ticker.C:
			r.pollCycle(ctx)
		}
	}
}

// pollCycle runs one poll with retries and publishes the outcome
func (r *Runner) pollCycle(ctx context.Context) {
	if !r.limiter.Allow() {
		r.logger.Debug("poll skipped by rate limiter")
		return
	}

	cycleCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	snap, err := retry.DoWithResult(cycleCtx, r.cfg.Retry, func() (Snapshot, error) {
		return r.source.Poll(cycleCtx)
	})

	if r.metrics != nil {
		r.metrics.polls.Inc()
	}

	if err != nil {
		r.failures.Add(1)
		if r.metrics != nil {
			r.metrics.failures.Inc()
		}
		r.logger.Warn("poll failed, reporting unavailable",
			"error", err, "consecutive_failures", r.failures.Load())
		_ = r.store.Publish(Unavailable(r.name, time.Now()))
		if r.healthM != nil {
			r.healthM.UpdateDegraded(r.name+"-monitor", "poll failures, reporting unavailable")
		}
		return
	}

	r.failures.Store(0)
	if err := r.store.Publish(snap); err != nil {
		r.logger.Error("snapshot publish failed", "error", err)
		return
	}
	if r.metrics != nil {
		r.metrics.lastSuccess.SetToCurrentTime()
	}
	if r.healthM != nil {
		r.healthM.UpdateHealthy(r.name+"-monitor", "polling")
	}
	r.logger.Debug("snapshot published", "taken", snap.Taken)
}

// Stop gracefully stops the polling loop within the timeout
func (r *Runner) Stop(timeout time.Duration) error {
	if !r.running.Load() {
		return nil
	}
	r.running.Store(false)

	r.mu.Lock()
	if r.shutdown != nil {
		select {
		case <-r.shutdown:
		default:
			close(r.shutdown)
		}
	}
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			r.name+"-monitor", "Stop", "graceful shutdown")
	}
}

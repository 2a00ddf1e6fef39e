// Package scanner drives periodic and on-demand arbitrage scans for the
// active target pair and publishes the latest report.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/dexarb/internal/clock"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/pricing"
	"github.com/alanyoungcy/dexarb/internal/service"
)

// Overlap policies for a tick that arrives while a scan is running.
const (
	OverlapSkip  = "skip"
	OverlapQueue = "queue"
)

// Scanner runs one scan. service.Engine implements it.
type Scanner interface {
	ScanWith(ctx context.Context, r service.ScanRequest) (domain.ScanResult, error)
}

// Recorder consumes each published report.
type Recorder interface {
	Record(ctx context.Context, report domain.ScanReport) error
}

// Target is the pair and sizing the orchestrator scans.
type Target struct {
	Base         domain.TokenIdentity `json:"base"`
	Quote        domain.TokenIdentity `json:"quote"`
	Amount       float64              `json:"amount"`
	MinProfitPct float64              `json:"min_profit_pct"`
}

// Validate checks the tokens and the amount.
func (t Target) Validate() error {
	if err := (pricing.QuoteRequest{Base: t.Base, Quote: t.Quote}).Validate(); err != nil {
		return err
	}
	if t.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %v", domain.ErrInvalidInput, t.Amount)
	}
	return nil
}

// Pair returns the cache key for the target.
func (t Target) Pair() domain.PairKey { return domain.NewPairKey(t.Base, t.Quote) }

// Config tunes scheduling.
type Config struct {
	Interval      time.Duration
	MaxBackoff    time.Duration
	OverlapPolicy string
	// ScanTimeout bounds one scan. Zero means no bound.
	ScanTimeout time.Duration
	// LockTTL is how long a per-pair lock is held across instances.
	LockTTL time.Duration
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Target              Target `json:"target"`
	Generation          uint64 `json:"generation"`
	Running             bool   `json:"running"`
	Pending             bool   `json:"pending"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	NextDelay           string `json:"next_delay"`
}

type outcome struct {
	generation uint64
	target     Target
	result     domain.ScanResult
	err        error
	skipped    bool
	at         time.Time
}

// Orchestrator schedules scans. At most one scan is in flight; results of
// a scan whose target was replaced meanwhile are dropped.
type Orchestrator struct {
	scanner  Scanner
	recorder Recorder
	locks    domain.LockManager
	cfg      Config
	clock    clock.Clock
	logger   *slog.Logger

	trigger chan struct{}
	latest  atomic.Pointer[domain.ScanReport]

	mu           sync.Mutex
	target       Target
	generation   uint64
	running      bool
	pending      bool
	pendingForce bool
	failures     int
}

// NewOrchestrator creates an orchestrator for the initial target. recorder
// and locks may be nil.
func NewOrchestrator(
	scanner Scanner,
	recorder Recorder,
	locks domain.LockManager,
	target Target,
	cfg Config,
	clk clock.Clock,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.Interval {
		cfg.MaxBackoff = 5 * time.Minute
		if cfg.MaxBackoff < cfg.Interval {
			cfg.MaxBackoff = cfg.Interval
		}
	}
	if cfg.OverlapPolicy != OverlapSkip {
		cfg.OverlapPolicy = OverlapQueue
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	return &Orchestrator{
		scanner:  scanner,
		recorder: recorder,
		locks:    locks,
		cfg:      cfg,
		clock:    clk,
		logger:   logger.With(slog.String("component", "scan_orchestrator")),
		trigger:  make(chan struct{}, 1),
		target:   target,
	}
}

// Run scans immediately, then on every interval and on Trigger, until ctx
// is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "scan orchestrator starting",
		slog.Duration("interval", o.cfg.Interval),
		slog.String("overlap_policy", o.cfg.OverlapPolicy),
		slog.String("pair", o.Target().Pair().Label()),
	)

	done := make(chan outcome, 1)
	timer := o.clock.After(0)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("scan orchestrator stopped")
			return nil

		case <-timer:
			timer = o.clock.After(o.nextDelay())
			o.request(ctx, false, true, done)

		case <-o.trigger:
			o.request(ctx, true, false, done)

		case out := <-done:
			if o.finish(ctx, out) {
				timer = o.clock.After(o.nextDelay())
			}
			o.mu.Lock()
			o.running = false
			again, force := o.pending, o.pendingForce
			o.pending, o.pendingForce = false, false
			o.mu.Unlock()
			if again {
				o.request(ctx, force, false, done)
			}
		}
	}
}

// Trigger asks for an immediate forced scan. It never blocks and is not
// subject to backoff.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// SetTarget switches the active pair. The previous pair's report is
// cleared, any scan in flight for it will not be published, and a new scan
// is triggered.
func (o *Orchestrator) SetTarget(t Target) (uint64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	o.mu.Lock()
	o.target = t
	o.generation++
	o.failures = 0
	o.latest.Store(nil)
	gen := o.generation
	o.mu.Unlock()

	o.logger.Info("scan target changed",
		slog.String("pair", t.Pair().Label()),
		slog.Uint64("generation", gen),
	)
	o.Trigger()
	return gen, nil
}

// Target returns the active target.
func (o *Orchestrator) Target() Target {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.target
}

// Latest returns the most recent published report.
func (o *Orchestrator) Latest() (domain.ScanReport, bool) {
	r := o.latest.Load()
	if r == nil {
		return domain.ScanReport{}, false
	}
	return *r, true
}

// Status returns scheduler state for the status endpoint.
func (o *Orchestrator) Status() Status {
	delay := o.nextDelay()
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		Target:              o.target,
		Generation:          o.generation,
		Running:             o.running,
		Pending:             o.pending,
		ConsecutiveFailures: o.failures,
		NextDelay:           delay.String(),
	}
}

// nextDelay is the interval, doubled per consecutive failure up to the cap.
func (o *Orchestrator) nextDelay() time.Duration {
	o.mu.Lock()
	failures := o.failures
	o.mu.Unlock()

	d := o.cfg.Interval
	for i := 0; i < failures && d < o.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > o.cfg.MaxBackoff {
		d = o.cfg.MaxBackoff
	}
	return d
}

// request starts a scan, or applies the overlap policy if one is running.
// Manual triggers are always queued.
func (o *Orchestrator) request(ctx context.Context, force, tick bool, done chan<- outcome) {
	o.mu.Lock()
	if o.running {
		if tick && o.cfg.OverlapPolicy == OverlapSkip {
			o.mu.Unlock()
			o.logger.DebugContext(ctx, "scan still running, tick skipped")
			return
		}
		o.pending = true
		o.pendingForce = o.pendingForce || force
		o.mu.Unlock()
		return
	}
	o.running = true
	target, gen := o.target, o.generation
	o.mu.Unlock()

	go func() {
		done <- o.scan(ctx, target, gen, force)
	}()
}

func (o *Orchestrator) scan(ctx context.Context, target Target, gen uint64, force bool) outcome {
	out := outcome{generation: gen, target: target}
	pair := target.Pair()

	if o.locks != nil {
		unlock, err := o.locks.Acquire(ctx, "scan:"+pair.String(), o.cfg.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			out.skipped = true
			out.at = o.clock.Now()
			return out
		case err != nil:
			o.logger.WarnContext(ctx, "scan lock unavailable, scanning unguarded",
				slog.String("pair", pair.Label()),
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	scanCtx := ctx
	if o.cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, o.cfg.ScanTimeout)
		defer cancel()
	}
	out.result, out.err = o.scanner.ScanWith(scanCtx, service.ScanRequest{
		Base:         target.Base,
		Quote:        target.Quote,
		Amount:       target.Amount,
		MinProfitPct: target.MinProfitPct,
		Force:        force,
	})
	out.at = o.clock.Now()
	return out
}

// finish publishes a scan outcome. It reports whether the failure count
// changed, which means the next automatic scan must be rescheduled.
func (o *Orchestrator) finish(ctx context.Context, out outcome) bool {
	pair := out.target.Pair()
	if out.skipped {
		o.logger.DebugContext(ctx, "scan skipped, lock held by another instance",
			slog.String("pair", pair.Label()),
		)
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	o.mu.Lock()
	if out.generation != o.generation {
		o.mu.Unlock()
		o.logger.InfoContext(ctx, "discarding scan for replaced target",
			slog.String("pair", pair.Label()),
			slog.Uint64("generation", out.generation),
		)
		return false
	}
	prevFailures := o.failures
	if out.err != nil {
		o.failures++
	} else {
		o.failures = 0
	}
	failures := o.failures
	o.mu.Unlock()

	var report domain.ScanReport
	if out.err != nil {
		if prev, ok := o.Latest(); ok && prev.Generation == out.generation {
			report = prev
		} else {
			report.Pair = pair
		}
		report.Err = out.err.Error()
		o.logger.WarnContext(ctx, "scan failed",
			slog.String("pair", pair.Label()),
			slog.Int("consecutive_failures", failures),
			slog.Duration("next_delay", o.nextDelay()),
			slog.String("error", out.err.Error()),
		)
	} else {
		report.ScanResult = out.result
	}
	report.LastScanned = out.at
	report.Generation = out.generation
	report.ConsecutiveFailures = failures

	o.mu.Lock()
	if out.generation != o.generation {
		o.mu.Unlock()
		return false
	}
	o.latest.Store(&report)
	o.mu.Unlock()

	if o.recorder != nil {
		if err := o.recorder.Record(ctx, report); err != nil {
			o.logger.ErrorContext(ctx, "record scan failed",
				slog.String("pair", pair.Label()),
				slog.String("error", err.Error()),
			)
		}
	}
	return failures != prevFailures
}

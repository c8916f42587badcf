// Package coordinator selects a change detection strategy and drives it on
// a single event loop.
//
// Only the coordinator role watches. The notify strategy is used when the
// platform supports it and configuration allows it; otherwise the tree is
// scanned on a timer. Both feed one debouncer in front of the reload
// trigger.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/vango-dev/hotreload/internal/config"
	"github.com/vango-dev/hotreload/internal/debounce"
	"github.com/vango-dev/hotreload/internal/errors"
	"github.com/vango-dev/hotreload/internal/metrics"
	"github.com/vango-dev/hotreload/internal/notify"
	"github.com/vango-dev/hotreload/internal/reactor"
	"github.com/vango-dev/hotreload/internal/reload"
	"github.com/vango-dev/hotreload/internal/scan"
	"github.com/vango-dev/hotreload/internal/walk"
)

// Options configures a Coordinator.
type Options struct {
	// Config is the watcher configuration. Required.
	Config *config.Config

	// Role decides whether this process watches at all.
	Role Role

	// NotifyCapable reports platform support for change notifications,
	// usually notify.Supported().
	NotifyCapable bool

	// Trigger is called for every reload that passes the debouncer.
	Trigger reload.Trigger

	// FS backs the scan strategy. Nil means the OS filesystem.
	FS afero.Fs

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Clock replaces time.Now for debouncing and log timestamps.
	Clock func() time.Time
}

// Status is a point-in-time view of the watcher.
type Status struct {
	Role       string     `json:"role"`
	Strategy   string     `json:"strategy"`
	State      string     `json:"state"`
	Root       string     `json:"root"`
	Tracked    int        `json:"tracked"`
	Watches    int        `json:"watches"`
	Reloads    uint64     `json:"reloads"`
	LastReload *time.Time `json:"lastReload,omitempty"`
}

// Coordinator owns the watcher for one root.
type Coordinator struct {
	opts    Options
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	state    atomic.Int32
	strategy atomic.Int32
	tracked  atomic.Int64
	reloads  atomic.Uint64

	// Read by Status from other goroutines.
	watcher   atomic.Pointer[notify.Watcher]
	debouncer atomic.Pointer[debounce.Debouncer]

	mu         sync.Mutex
	started    bool
	loop       *reactor.Loop
	comparator *scan.Comparator
	runDone    chan struct{}
}

// New creates a Coordinator. Nothing happens until Start.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		opts:    opts,
		cfg:     opts.Config,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Clock,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.opts.Trigger == nil {
		c.opts.Trigger = reload.Nop
	}
	if c.opts.FS == nil {
		c.opts.FS = afero.NewOsFs()
	}
	return c
}

// Start sets up the chosen strategy and starts the event loop. Setup
// errors are returned and leave the coordinator uninitialized. Calling
// Start on a peer, or twice, does nothing.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.opts.Role != RoleCoordinator {
		c.logger.Debug("peer worker, watcher disabled")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if c.cfg == nil {
		return errors.New("E121").WithDetail("no configuration given")
	}

	c.debouncer.Store(debounce.New(c.cfg.Debounce(), reload.Func(c.fire),
		debounce.WithClock(c.now),
		debounce.WithMetrics(c.metrics)))
	c.loop = reactor.New(
		reactor.WithLogger(c.logger),
		reactor.WithSkipHook(c.metrics.IncTickSkipped))

	useNotify := c.opts.NotifyCapable && !c.cfg.NotifyDisabled
	if useNotify {
		if err := c.startNotify(); err != nil {
			if !c.cfg.FallbackToScan {
				c.loop.Close()
				return err
			}
			c.logger.Warn("notify setup failed, falling back to scan", "error", err)
			useNotify = false
		}
	}
	if !useNotify {
		if err := c.startScan(ctx); err != nil {
			c.loop.Close()
			c.setState(StateUninitialized)
			return err
		}
	}
	c.setState(StateWatching)

	c.runDone = make(chan struct{})
	go func() {
		defer close(c.runDone)
		_ = c.loop.Run(ctx)
	}()

	c.started = true
	return nil
}

func (c *Coordinator) startNotify() error {
	w, err := notify.New(c.cfg.RootPath(), c.cfg.Extensions,
		notify.WithLogger(c.logger),
		notify.WithMetrics(c.metrics))
	if err != nil {
		return err
	}
	c.watcher.Store(w)
	c.strategy.Store(int32(StrategyNotify))
	c.logger.Info("use notify", "root", w.Root(), "watches", w.WatchCount())

	c.loop.OnReady(w.Ready(), c.drain)
	return nil
}

// startScan runs one pass immediately, so the table is primed and an
// unreadable root fails setup, then schedules the periodic passes. The
// strategy is only announced once that pass has succeeded.
func (c *Coordinator) startScan(ctx context.Context) error {
	walker := walk.New(c.opts.FS, c.cfg.RootPath(), c.cfg.Extensions)
	c.comparator = scan.NewComparator(walker, scan.NewTable(c.cfg.MaxTracked), c.debouncer.Load(),
		scan.WithLogger(c.logger),
		scan.WithMetrics(c.metrics),
		scan.WithClock(c.now))

	// The priming pass may reload; fire returns to Watching afterwards.
	c.setState(StateWatching)
	res, err := c.comparator.Pass(ctx)
	if err != nil {
		return err
	}
	c.tracked.Store(int64(res.Total))

	c.strategy.Store(int32(StrategyScan))
	c.logger.Info("use timer comparison", "root", walker.Root(), "interval", c.cfg.PollEvery())

	c.loop.Every(c.cfg.PollEvery(), func() { c.tick(ctx) })
	return nil
}

// tick runs on the loop for every timer fire.
func (c *Coordinator) tick(ctx context.Context) {
	res, err := c.comparator.Pass(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("scan pass failed", "error", err)
		}
		return
	}
	c.tracked.Store(int64(res.Total))
}

// drain runs on the loop for every notify wake-up.
func (c *Coordinator) drain() {
	w := c.watcher.Load()
	batch := w.Drain()
	if !batch.Changed() {
		return
	}
	if c.debouncer.Load().Trigger() {
		c.logger.Info(fmt.Sprintf("reload at %s total: %d watches",
			c.now().Format(scan.TimeLayout), w.WatchCount()),
			"events", len(batch.Events),
			"overflow", batch.Overflow)
	}
}

// fire is the debouncer's target: the actual reload.
func (c *Coordinator) fire() {
	c.setState(StateTriggering)
	defer c.setState(StateWatching)
	c.reloads.Add(1)
	c.opts.Trigger.Reload()
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.SetState(int(s))
}

// Stop cancels the timer, releases OS watches and waits for the loop.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}

	c.loop.Close()
	<-c.runDone
	if w := c.watcher.Load(); w != nil {
		if err := w.Close(); err != nil {
			c.logger.Warn("closing watcher", "error", err)
		}
		c.watcher.Store(nil)
	}
	c.setState(StateUninitialized)
	c.started = false
}

// Run starts the coordinator and blocks until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	c.Stop()
	return nil
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Strategy returns the strategy chosen at Start.
func (c *Coordinator) Strategy() Strategy {
	return Strategy(c.strategy.Load())
}

// Status returns a snapshot safe to call from any goroutine.
func (c *Coordinator) Status() Status {
	st := Status{
		Role:     c.opts.Role.String(),
		Strategy: c.Strategy().String(),
		State:    c.State().String(),
		Tracked:  int(c.tracked.Load()),
		Reloads:  c.reloads.Load(),
	}
	if c.cfg != nil {
		st.Root = c.cfg.RootPath()
	}

	if w := c.watcher.Load(); w != nil {
		st.Watches = w.WatchCount()
	}
	if d := c.debouncer.Load(); d != nil {
		if last := d.LastTrigger(); !last.IsZero() {
			st.LastReload = &last
		}
	}
	return st
}

// Package scan detects changes by walking a tree and diffing it against the
// previous walk.
//
// Files are keyed by identity, not path. A file replaced in place gets a new
// identity and shows up as one removal plus one addition; a rename that
// keeps the identity and the mtime is not a change.
package scan

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/hotreload/internal/errors"
	"github.com/vango-dev/hotreload/internal/metrics"
	"github.com/vango-dev/hotreload/internal/walk"
)

// TimeLayout formats the timestamp of the reload log line.
const TimeLayout = "2006-01-02 15:04:05"

const tracerName = "hotreload"

// Source produces the current files of the tree.
type Source interface {
	Files() (iter.Seq2[walk.File, error], error)
}

// Trigger is notified when a pass finds a change. It reports whether a
// reload was actually issued.
type Trigger interface {
	Trigger() bool
}

// PassResult summarises one pass.
type PassResult struct {
	Changed  bool
	Added    int
	Updated  int
	Removed  int
	Skipped  int
	Total    int
	Duration time.Duration
	Reloaded bool
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Comparator) {
		c.logger = logger
	}
}

// WithMetrics records pass counts and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Comparator) {
		c.metrics = m
	}
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Comparator) {
		c.tracer = tracer
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Comparator) {
		c.now = now
	}
}

// Comparator runs walk-diff-delete passes over one table.
// Passes must not run concurrently.
type Comparator struct {
	source  Source
	table   *Table
	trigger Trigger
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	// skipped is the previous pass's Skipped count; the table-full
	// warning is only repeated when it changes.
	skipped int
}

// NewComparator creates a Comparator. A nil trigger only records changes.
func NewComparator(source Source, table *Table, trigger Trigger, opts ...Option) *Comparator {
	c := &Comparator{
		source:  source,
		table:   table,
		trigger: trigger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	return c
}

// Table returns the table the comparator maintains.
func (c *Comparator) Table() *Table {
	return c.table
}

// Pass walks the tree once and reconciles the table with it. Additions
// and updates are applied before orphans are removed. If anything changed
// the trigger is called.
//
// A root that cannot be listed fails the pass before anything is removed.
// Tracked files under a directory that cannot be listed are kept, and the
// failure alone is not a change. Cancelling ctx ends the walk early; the
// removal step is then skipped so that unvisited files are not mistaken
// for deleted ones.
func (c *Comparator) Pass(ctx context.Context) (PassResult, error) {
	start := c.now()
	ctx, span := c.tracer.Start(ctx, "hotreload.scan.pass")
	defer span.End()

	files, err := c.source.Files()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PassResult{}, err
	}

	var res PassResult
	seen := make(map[walk.Identity]struct{}, c.table.Len())
	var unlisted []string

	for f, err := range files {
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			if !errors.HasCode(err, "E111") {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return res, err
			}
			path := errors.FromError(err, "E111").Path
			unlisted = append(unlisted, path)
			c.logger.Warn("scan skipped unreadable path", "path", path, "error", err)
			continue
		}
		seen[f.Identity] = struct{}{}

		rec, ok := c.table.Get(f.Identity)
		switch {
		case !ok:
			if err := c.table.Set(FileRecord{Identity: f.Identity, ModTime: f.ModTime, Path: f.Path}); err != nil {
				res.Skipped++
				continue
			}
			res.Added++
		case !rec.ModTime.Equal(f.ModTime):
			rec.ModTime = f.ModTime
			rec.Path = f.Path
			_ = c.table.Set(rec)
			res.Updated++
		case rec.Path != f.Path:
			rec.Path = f.Path
			_ = c.table.Set(rec)
		}
	}

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return res, err
	}

	for id, rec := range c.table.All() {
		if _, ok := seen[id]; ok || under(rec.Path, unlisted) {
			continue
		}
		c.table.Delete(id)
		res.Removed++
	}

	res.Changed = res.Added+res.Updated+res.Removed > 0
	res.Total = c.table.Len()
	res.Duration = c.now().Sub(start)

	if res.Skipped != c.skipped {
		if res.Skipped > 0 {
			c.logger.Warn("identity table full, files not tracked",
				"skipped", res.Skipped,
				"limit", c.table.Limit(),
				"error", errors.New("E110"))
		} else {
			c.logger.Info("identity table has room again", "limit", c.table.Limit())
		}
		c.skipped = res.Skipped
	}

	c.metrics.ObservePass(res.Changed, res.Duration)
	c.metrics.SetTracked(res.Total)

	if res.Changed && c.trigger != nil {
		res.Reloaded = c.trigger.Trigger()
	}
	if res.Reloaded {
		c.logger.Info(fmt.Sprintf("reload at %s use: %.3fs total: %d files",
			start.Format(TimeLayout), res.Duration.Seconds(), res.Total),
			"added", res.Added,
			"updated", res.Updated,
			"removed", res.Removed)
	}

	span.SetAttributes(
		attribute.Bool("hotreload.changed", res.Changed),
		attribute.Bool("hotreload.reloaded", res.Reloaded),
		attribute.Int("hotreload.added", res.Added),
		attribute.Int("hotreload.updated", res.Updated),
		attribute.Int("hotreload.removed", res.Removed),
		attribute.Int("hotreload.total", res.Total),
		attribute.Int("hotreload.unlisted", len(unlisted)),
	)
	return res, nil
}

// under reports whether path is one of dirs or lies below one of them.
func under(path string, dirs []string) bool {
	for _, dir := range dirs {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

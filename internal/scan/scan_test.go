package scan

import (
	"bytes"
	"context"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vango-dev/hotreload/internal/debounce"
	"github.com/vango-dev/hotreload/internal/errors"
	"github.com/vango-dev/hotreload/internal/reload"
	"github.com/vango-dev/hotreload/internal/walk"
)

type countingTrigger struct {
	calls int
}

func (c *countingTrigger) Trigger() bool {
	c.calls++
	return true
}

func writeFile(t *testing.T, fsys afero.Fs, path string, mtime int64) {
	t.Helper()
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fsys, path, []byte("<?php"), 0644); err != nil {
		t.Fatal(err)
	}
	touch(t, fsys, path, mtime)
}

func touch(t *testing.T, fsys afero.Fs, path string, mtime int64) {
	t.Helper()
	at := time.Unix(mtime, 0)
	if err := fsys.Chtimes(path, at, at); err != nil {
		t.Fatal(err)
	}
}

func mtimes(tbl *Table) map[string]int64 {
	out := make(map[string]int64)
	for _, rec := range tbl.Snapshot() {
		out[filepath.Base(rec.Path)] = rec.ModTime.Unix()
	}
	return out
}

func equalMtimes(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func newTestComparator(fsys afero.Fs, exts []string, trigger Trigger, opts ...Option) *Comparator {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))}, opts...)
	return NewComparator(walk.New(fsys, "/app", exts), NewTable(0), trigger, opts...)
}

func TestComparator_Scenario(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/app/a.php", 100)
	writeFile(t, fsys, "/app/b.php", 100)
	writeFile(t, fsys, "/app/c.txt", 100)

	trig := &countingTrigger{}
	c := newTestComparator(fsys, []string{"php"}, trig)
	ctx := context.Background()

	steps := []struct {
		name        string
		mutate      func()
		wantChanged bool
		wantTable   map[string]int64
		wantCalls   int
	}{
		{
			name:        "first scan",
			mutate:      func() {},
			wantChanged: true,
			wantTable:   map[string]int64{"a.php": 100, "b.php": 100},
			wantCalls:   1,
		},
		{
			name:        "unchanged",
			mutate:      func() {},
			wantChanged: false,
			wantTable:   map[string]int64{"a.php": 100, "b.php": 100},
			wantCalls:   1,
		},
		{
			name:        "touch b.php",
			mutate:      func() { touch(t, fsys, "/app/b.php", 200) },
			wantChanged: true,
			wantTable:   map[string]int64{"a.php": 100, "b.php": 200},
			wantCalls:   2,
		},
		{
			name: "delete a.php",
			mutate: func() {
				if err := fsys.Remove("/app/a.php"); err != nil {
					t.Fatal(err)
				}
			},
			wantChanged: true,
			wantTable:   map[string]int64{"b.php": 200},
			wantCalls:   3,
		},
	}

	for _, step := range steps {
		step.mutate()
		res, err := c.Pass(ctx)
		if err != nil {
			t.Fatalf("%s: Pass() error: %v", step.name, err)
		}
		if res.Changed != step.wantChanged {
			t.Errorf("%s: Changed = %v, want %v", step.name, res.Changed, step.wantChanged)
		}
		if got := mtimes(c.Table()); !equalMtimes(got, step.wantTable) {
			t.Errorf("%s: table = %v, want %v", step.name, got, step.wantTable)
		}
		if trig.calls != step.wantCalls {
			t.Errorf("%s: trigger calls = %d, want %d", step.name, trig.calls, step.wantCalls)
		}
		if res.Total != len(step.wantTable) {
			t.Errorf("%s: Total = %d, want %d", step.name, res.Total, len(step.wantTable))
		}
	}
}

func TestComparator_ScenarioWithDebounce(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/app/a.php", 100)
	writeFile(t, fsys, "/app/b.php", 100)

	now := time.Unix(5000, 0)
	reloads := 0
	d := debounce.New(time.Second, reload.Func(func() { reloads++ }),
		debounce.WithClock(func() time.Time { return now }))
	c := newTestComparator(fsys, []string{"php"}, d)
	ctx := context.Background()

	res, _ := c.Pass(ctx)
	if !res.Reloaded || reloads != 1 {
		t.Fatalf("first pass: Reloaded = %v, reloads = %d", res.Reloaded, reloads)
	}

	// A change inside the window is detected but does not reload.
	now = now.Add(200 * time.Millisecond)
	touch(t, fsys, "/app/b.php", 200)
	res, _ = c.Pass(ctx)
	if !res.Changed || res.Reloaded || reloads != 1 {
		t.Errorf("in-window pass: Changed = %v, Reloaded = %v, reloads = %d", res.Changed, res.Reloaded, reloads)
	}

	now = now.Add(2 * time.Second)
	if err := fsys.Remove("/app/a.php"); err != nil {
		t.Fatal(err)
	}
	res, _ = c.Pass(ctx)
	if !res.Reloaded || reloads != 2 {
		t.Errorf("after window: Reloaded = %v, reloads = %d", res.Reloaded, reloads)
	}
}

func TestComparator_AddFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/app/a.php", 100)
	trig := &countingTrigger{}
	c := newTestComparator(fsys, nil, trig)
	ctx := context.Background()

	if _, err := c.Pass(ctx); err != nil {
		t.Fatal(err)
	}
	writeFile(t, fsys, "/app/sub/new.php", 300)

	res, err := c.Pass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changed || res.Added != 1 || res.Updated != 0 || res.Removed != 0 {
		t.Errorf("result = %+v, want exactly one addition", res)
	}
	if c.Table().Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Table().Len())
	}
}

func TestComparator_TouchWithSameMtime(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/app/a.php", 100)
	trig := &countingTrigger{}
	c := newTestComparator(fsys, nil, trig)
	ctx := context.Background()

	if _, err := c.Pass(ctx); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fsys, "/app/a.php", []byte("changed"), 0644); err != nil {
		t.Fatal(err)
	}
	touch(t, fsys, "/app/a.php", 100)

	res, err := c.Pass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed {
		t.Error("Changed = true for a touch that kept the mtime")
	}
	if trig.calls != 1 {
		t.Errorf("trigger calls = %d, want 1", trig.calls)
	}
}

func TestComparator_MissingRootLeavesTable(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/app/a.php", 100)
	trig := &countingTrigger{}
	c := newTestComparator(fsys, nil, trig)
	ctx := context.Background()

	if _, err := c.Pass(ctx); err != nil {
		t.Fatal(err)
	}
	if err := fsys.RemoveAll("/app"); err != nil {
		t.Fatal(err)
	}

	_, err := c.Pass(ctx)
	if !errors.HasCode(err, "E100") {
		t.Errorf("Pass() error = %v, want E100", err)
	}
	if c.Table().Len() != 1 {
		t.Errorf("table modified after failed pass: Len() = %d", c.Table().Len())
	}
	if trig.calls != 1 {
		t.Errorf("trigger calls = %d, want 1", trig.calls)
	}
}

// failingFs refuses to open the listed paths, as a directory without
// read permission would.
type failingFs struct {
	afero.Fs
	fail map[string]bool
}

func (f failingFs) Open(name string) (afero.File, error) {
	if f.fail[filepath.Clean(name)] {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return f.Fs.Open(name)
}

func TestComparator_UnlistableRootLeavesTable(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeFile(t, mem, "/app/a.php", 100)
	writeFile(t, mem, "/app/b.php", 100)
	fsys := failingFs{Fs: mem, fail: map[string]bool{}}

	trig := &countingTrigger{}
	c := newTestComparator(fsys, nil, trig)
	ctx := context.Background()

	if _, err := c.Pass(ctx); err != nil {
		t.Fatal(err)
	}
	fsys.fail["/app"] = true

	res, err := c.Pass(ctx)
	if !errors.HasCode(err, "E100") {
		t.Errorf("Pass() error = %v, want E100", err)
	}
	if res.Changed || res.Removed != 0 {
		t.Errorf("result = %+v, want no change", res)
	}
	if c.Table().Len() != 2 {
		t.Errorf("Len() = %d after unlistable root, want 2", c.Table().Len())
	}
	if trig.calls != 1 {
		t.Errorf("trigger calls = %d, want 1", trig.calls)
	}
}

func TestComparator_UnlistableSubdirectoryKeepsEntries(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeFile(t, mem, "/app/a.php", 100)
	writeFile(t, mem, "/app/lib/b.php", 100)
	writeFile(t, mem, "/app/lib/inner/c.php", 100)
	writeFile(t, mem, "/app/library.php", 100)
	fsys := failingFs{Fs: mem, fail: map[string]bool{}}

	trig := &countingTrigger{}
	c := newTestComparator(fsys, nil, trig)
	ctx := context.Background()

	if _, err := c.Pass(ctx); err != nil {
		t.Fatal(err)
	}

	fsys.fail["/app/lib"] = true
	res, err := c.Pass(ctx)
	if err != nil {
		t.Fatalf("Pass() error = %v", err)
	}
	if res.Changed || c.Table().Len() != 4 {
		t.Errorf("result = %+v, Len() = %d; want no change and 4 entries", res, c.Table().Len())
	}
	if trig.calls != 1 {
		t.Errorf("trigger calls = %d, want 1", trig.calls)
	}

	// Deletions elsewhere are still seen, including a sibling that only
	// shares the directory's name as a prefix.
	if err := mem.Remove("/app/library.php"); err != nil {
		t.Fatal(err)
	}
	res, err = c.Pass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 1 || c.Table().Len() != 3 {
		t.Errorf("Removed = %d, Len() = %d; want 1 and 3", res.Removed, c.Table().Len())
	}

	// Once readable again, files really gone from it are removed.
	fsys.fail["/app/lib"] = false
	if err := mem.Remove("/app/lib/inner/c.php"); err != nil {
		t.Fatal(err)
	}
	res, err = c.Pass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 1 || c.Table().Len() != 2 {
		t.Errorf("Removed = %d, Len() = %d; want 1 and 2", res.Removed, c.Table().Len())
	}
}

// rootFailSource lists its files once, then reports its root as gone
// mid-walk.
type rootFailSource struct {
	files []walk.File
	fail  bool
}

func (s *rootFailSource) Files() (iter.Seq2[walk.File, error], error) {
	return func(yield func(walk.File, error) bool) {
		if s.fail {
			yield(walk.File{}, errors.New("E100").WithPath("/app"))
			return
		}
		for _, f := range s.files {
			if !yield(f, nil) {
				return
			}
		}
	}, nil
}

func TestComparator_RootErrorDuringWalk(t *testing.T) {
	src := &rootFailSource{files: []walk.File{
		{Path: "/app/a.php", Identity: walk.Identity{Dev: 1, Ino: 1}, ModTime: time.Unix(100, 0)},
	}}
	trig := &countingTrigger{}
	c := NewComparator(src, NewTable(0), trig,
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))

	if _, err := c.Pass(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.fail = true
	if _, err := c.Pass(context.Background()); !errors.HasCode(err, "E100") {
		t.Errorf("Pass() error = %v, want E100", err)
	}
	if c.Table().Len() != 1 || trig.calls != 1 {
		t.Errorf("Len() = %d, calls = %d; want 1 and 1", c.Table().Len(), trig.calls)
	}
}

func TestComparator_TableLimit(t *testing.T) {
	fsys := afero.NewMemMapFs()
	for _, name := range []string{"a", "b", "c"} {
		writeFile(t, fsys, "/app/"+name+".php", 100)
	}

	var logs bytes.Buffer
	c := NewComparator(walk.New(fsys, "/app", nil), NewTable(2), &countingTrigger{},
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	res, err := c.Pass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 || res.Skipped != 1 {
		t.Errorf("Total = %d, Skipped = %d, want 2 and 1", res.Total, res.Skipped)
	}
	if !strings.Contains(logs.String(), "identity table full") {
		t.Errorf("log = %q, want table-full warning", logs.String())
	}

	// Steady state: the skipped file stays untracked and is not a change.
	res, err = c.Pass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed {
		t.Errorf("second pass Changed = true, result %+v", res)
	}
	if n := strings.Count(logs.String(), "identity table full"); n != 1 {
		t.Errorf("table-full warning logged %d times over two passes, want 1", n)
	}
}

func TestComparator_ReloadLogLine(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/app/a.php", 100)
	writeFile(t, fsys, "/app/b.php", 100)

	var logs bytes.Buffer
	start := time.Date(2024, 3, 9, 14, 5, 6, 0, time.Local)
	ticks := []time.Time{start, start.Add(1800 * time.Microsecond)}
	clock := func() time.Time {
		t := ticks[0]
		if len(ticks) > 1 {
			ticks = ticks[1:]
		}
		return t
	}

	c := NewComparator(walk.New(fsys, "/app", nil), NewTable(0), &countingTrigger{},
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithClock(clock))

	if _, err := c.Pass(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := "reload at 2024-03-09 14:05:06 use: 0.002s total: 2 files"
	if !strings.Contains(logs.String(), want) {
		t.Errorf("log = %q, want it to contain %q", logs.String(), want)
	}
}

func TestComparator_CancelledPassKeepsEntries(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/app/a.php", 100)
	writeFile(t, fsys, "/app/b.php", 100)
	c := newTestComparator(fsys, nil, &countingTrigger{})

	if _, err := c.Pass(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Pass(ctx); err == nil {
		t.Fatal("Pass() with cancelled context should fail")
	}
	if c.Table().Len() != 2 {
		t.Errorf("Len() = %d after cancelled pass, want 2", c.Table().Len())
	}
}

func TestComparator_ReplacedFileOnDisk(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.php")
	if err := os.WriteFile(path, []byte("one"), 0644); err != nil {
		t.Fatal(err)
	}

	c := NewComparator(walk.New(afero.NewOsFs(), root, []string{"php"}), NewTable(0), &countingTrigger{},
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	ctx := context.Background()
	first, err := c.Pass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap := c.Table().Snapshot(); len(snap) == 1 && snap[0].Identity.Path != "" {
		t.Skip("platform exposes no file serial")
	}
	if first.Added != 1 {
		t.Fatalf("first pass Added = %d, want 1", first.Added)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	tmp := path + ".new"
	if err := os.WriteFile(tmp, []byte("two"), 0644); err != nil {
		t.Fatal(err)
	}
	// Same mtime, new inode.
	if err := os.Chtimes(tmp, info.ModTime(), info.ModTime()); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	res, err := c.Pass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Changed || res.Added != 1 || res.Removed != 1 {
		t.Errorf("result = %+v, want one removal and one addition", res)
	}

	// A rename keeps the identity and is not a change.
	if err := os.Rename(path, filepath.Join(root, "renamed.php")); err != nil {
		t.Fatal(err)
	}
	res, err = c.Pass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed {
		t.Errorf("rename reported as change: %+v", res)
	}
	if snap := c.Table().Snapshot(); len(snap) != 1 || filepath.Base(snap[0].Path) != "renamed.php" {
		t.Errorf("snapshot = %+v, want renamed path", snap)
	}
}

type recordingTracer struct {
	embedded.Tracer
	spans []string
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.spans = append(r.spans, name)
	return noop.NewTracerProvider().Tracer("").Start(ctx, name, opts...)
}

func TestComparator_Traces(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/app/a.php", 100)
	tracer := &recordingTracer{}
	c := newTestComparator(fsys, nil, nil, WithTracer(tracer))

	for i := 0; i < 2; i++ {
		if _, err := c.Pass(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(tracer.spans) != 2 || tracer.spans[0] != "hotreload.scan.pass" {
		t.Errorf("spans = %v", tracer.spans)
	}
}

func TestTable(t *testing.T) {
	tbl := NewTable(1)
	a := walk.Identity{Dev: 1, Ino: 1}
	b := walk.Identity{Dev: 1, Ino: 2}

	if err := tbl.Set(FileRecord{Identity: a, ModTime: time.Unix(1, 0), Path: "/a"}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Set(FileRecord{Identity: b}); err != ErrTableFull {
		t.Errorf("Set() over limit error = %v, want ErrTableFull", err)
	}
	// Overwriting an existing identity is always allowed.
	if err := tbl.Set(FileRecord{Identity: a, ModTime: time.Unix(2, 0), Path: "/a"}); err != nil {
		t.Errorf("overwrite error: %v", err)
	}
	if rec, ok := tbl.Get(a); !ok || rec.ModTime.Unix() != 2 {
		t.Errorf("Get() = %+v, %v", rec, ok)
	}

	for id := range tbl.All() {
		tbl.Delete(id)
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() = %d after deleting all, want 0", tbl.Len())
	}
	if NewTable(-1).Limit() != 0 {
		t.Error("negative limit should read as unbounded")
	}
}

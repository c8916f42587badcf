package reload

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/hotreload/internal/errors"
)

// DefaultGrace is how long a worker gets to exit after the stop signal
// before it is killed.
const DefaultGrace = 5 * time.Second

// ProcessOption configures a Process.
type ProcessOption func(*Process)

// WithDir sets the working directory of the command.
func WithDir(dir string) ProcessOption {
	return func(p *Process) {
		p.dir = dir
	}
}

// WithEnv appends environment variables to the inherited environment.
func WithEnv(env ...string) ProcessOption {
	return func(p *Process) {
		p.env = append(p.env, env...)
	}
}

// WithGrace sets the shutdown grace period.
func WithGrace(d time.Duration) ProcessOption {
	return func(p *Process) {
		p.grace = d
	}
}

// WithOutput redirects the command's stdout and stderr.
func WithOutput(stdout, stderr io.Writer) ProcessOption {
	return func(p *Process) {
		p.stdout = stdout
		p.stderr = stderr
	}
}

// WithProcessLogger sets the logger used to report restart failures.
func WithProcessLogger(logger *slog.Logger) ProcessOption {
	return func(p *Process) {
		p.logger = logger
	}
}

// Process supervises a worker-pool command. Reload stops the running
// process group gracefully and starts the command again.
type Process struct {
	argv   []string
	dir    string
	env    []string
	grace  time.Duration
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	proc     *processHandle
	lastExit int
}

// NewProcess creates a supervisor for argv. The command is not started
// until Start is called.
func NewProcess(argv []string, opts ...ProcessOption) (*Process, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("E121").WithDetail("reload.exec must name a command.")
	}
	p := &Process{
		argv:     append([]string(nil), argv...),
		grace:    DefaultGrace,
		lastExit: -1,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = loggerOrDefault(p.logger)
	return p, nil
}

// Start runs the command, stopping any previous instance first. The
// process is killed when ctx is cancelled.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx = ctx
	return p.startLocked()
}

func (p *Process) startLocked() error {
	p.stopLocked()

	env := append(os.Environ(), "HOTRELOAD_WORKER=1")
	env = append(env, p.env...)

	proc, err := startProcess(p.ctx, processSpec{
		argv:   p.argv,
		dir:    p.dir,
		env:    env,
		stdout: p.stdout,
		stderr: p.stderr,
	})
	if err != nil {
		return errors.New("E202").WithPath(p.argv[0]).Wrap(err)
	}
	proc.supervise(p.logger, p.argv[0])
	p.proc = proc
	return nil
}

func (p *Process) stopLocked() {
	if p.proc == nil {
		return
	}
	if p.proc.stop(p.grace) {
		p.logger.Warn("worker killed after grace period", "command", p.argv[0], "grace", p.grace)
	}
	p.lastExit = p.proc.exitCode()
	p.proc = nil
}

// Stop terminates the running process, if any.
func (p *Process) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Reload restarts the command. A Process that was never started, or whose
// worker has exited on its own, is started again.
func (p *Process) Reload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		p.ctx = context.Background()
	}
	if err := p.startLocked(); err != nil {
		p.logger.Error("worker restart failed", "command", p.argv[0], "error", err)
	}
}

// Running reports whether the supervised worker is alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proc != nil && !p.proc.exited()
}

// Pid returns the pid of the supervised process, or 0.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc == nil || p.proc.cmd.Process == nil {
		return 0
	}
	return p.proc.cmd.Process.Pid
}

// ExitCode returns the exit code of the last worker once it has exited,
// -1 while it runs or when it was ended by a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc == nil {
		return p.lastExit
	}
	return p.proc.exitCode()
}

type processSpec struct {
	argv   []string
	dir    string
	env    []string
	stdout io.Writer
	stderr io.Writer
}

func (spec processSpec) command(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, spec.argv[0], spec.argv[1:]...)
	cmd.Dir = spec.dir
	cmd.Stdout = spec.stdout
	cmd.Stderr = spec.stderr
	cmd.Env = spec.env
	return cmd
}

// processHandle is one started worker. Wait is called exactly once, by
// supervise; everything else observes done.
type processHandle struct {
	cmd      *exec.Cmd
	sys      *processSys
	done     chan struct{}
	waitErr  error
	stopping atomic.Bool
}

func newProcessHandle(cmd *exec.Cmd, sys *processSys) *processHandle {
	return &processHandle{cmd: cmd, sys: sys, done: make(chan struct{})}
}

// supervise reaps the worker and reports how it ended. Exits not
// requested by stop are warnings.
func (h *processHandle) supervise(logger *slog.Logger, name string) {
	pid := h.cmd.Process.Pid
	go func() {
		h.waitErr = h.cmd.Wait()
		h.release()
		close(h.done)

		code := h.exitCode()
		if h.stopping.Load() {
			logger.Debug("worker stopped", "command", name, "pid", pid, "exit", code)
			return
		}
		logger.Warn("worker exited", "command", name, "pid", pid, "exit", code, "error", h.waitErr)
	}()
}

func (h *processHandle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *processHandle) exitCode() int {
	if !h.exited() || h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// stop asks the worker to exit and kills it once grace has passed. It
// reports whether the kill was needed.
func (h *processHandle) stop(grace time.Duration) bool {
	h.stopping.Store(true)
	if h.exited() {
		return false
	}

	h.terminate()
	select {
	case <-h.done:
		return false
	case <-time.After(grace):
		h.kill()
		<-h.done
		return true
	}
}

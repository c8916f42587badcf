//go:build unix

package reload

import (
	"log/slog"
	"strconv"
	"syscall"

	"github.com/vango-dev/hotreload/internal/errors"
)

var signals = map[string]syscall.Signal{
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
	"HUP":  syscall.SIGHUP,
	"TERM": syscall.SIGTERM,
	"INT":  syscall.SIGINT,
}

// Signal reloads by signalling the master process of a prefork server.
// SIGUSR1 is the conventional graceful worker-reload signal.
type Signal struct {
	pid    int
	sig    syscall.Signal
	logger *slog.Logger
}

// NewSignal creates a Signal trigger targeting pid. An empty name selects
// USR1.
func NewSignal(pid int, name string, logger *slog.Logger) (*Signal, error) {
	if pid <= 0 {
		return nil, errors.New("E121").WithDetail("reload.signal.pid must be a positive process id.")
	}
	name, err := normalizeSignalName(name)
	if err != nil {
		return nil, err
	}
	return &Signal{
		pid:    pid,
		sig:    signals[name],
		logger: loggerOrDefault(logger),
	}, nil
}

// Reload sends the signal.
func (s *Signal) Reload() {
	if err := syscall.Kill(s.pid, s.sig); err != nil {
		s.logger.Error("reload signal failed",
			"pid", s.pid,
			"signal", s.sig.String(),
			"error", errors.New("E200").Wrap(err))
	}
}

// String describes the target.
func (s *Signal) String() string {
	return s.sig.String() + " -> " + strconv.Itoa(s.pid)
}

//go:build !unix

package reload

import (
	"log/slog"

	"github.com/vango-dev/hotreload/internal/errors"
)

// Signal is unavailable on this platform.
type Signal struct{}

// NewSignal always fails on platforms without POSIX signals.
func NewSignal(pid int, name string, logger *slog.Logger) (*Signal, error) {
	return nil, errors.New("E201").
		WithSuggestion("Use reload.exec to supervise the workers instead.")
}

// Reload does nothing.
func (s *Signal) Reload() {}

// String describes the target.
func (s *Signal) String() string {
	return "unsupported"
}

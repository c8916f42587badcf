//go:build !windows

package reload

import (
	"context"
	"syscall"
)

// processSys remembers the process group so the whole worker pool is
// signalled, not just its master.
type processSys struct {
	pgid int
}

func startProcess(ctx context.Context, spec processSpec) (*processHandle, error) {
	cmd := spec.command(ctx)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	sys := &processSys{}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		sys.pgid = pgid
	}
	return newProcessHandle(cmd, sys), nil
}

// terminate sends SIGTERM to the group. Prefork masters treat it as a
// graceful shutdown of their workers.
func (h *processHandle) terminate() {
	h.signal(syscall.SIGTERM)
}

func (h *processHandle) kill() {
	h.signal(syscall.SIGKILL)
}

func (h *processHandle) signal(sig syscall.Signal) {
	if h.sys.pgid > 0 {
		_ = syscall.Kill(-h.sys.pgid, sig)
		return
	}
	_ = h.cmd.Process.Signal(sig)
}

func (h *processHandle) release() {}

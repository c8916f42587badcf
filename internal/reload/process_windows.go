//go:build windows

package reload

import (
	"context"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// processSys holds the job object the worker pool runs in. Closing it
// kills every process in the job.
type processSys struct {
	job   windows.Handle
	close sync.Once
}

func startProcess(ctx context.Context, spec processSpec) (*processHandle, error) {
	job, err := createJobObject()
	if err != nil {
		job = 0
	}

	cmd := spec.command(ctx)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}

	if err := cmd.Start(); err != nil {
		if job != 0 {
			windows.CloseHandle(job)
		}
		return nil, err
	}

	if job != 0 {
		if err := assignProcessToJob(job, cmd.Process.Pid); err != nil {
			windows.CloseHandle(job)
			job = 0
		}
	}
	return newProcessHandle(cmd, &processSys{job: job}), nil
}

// terminate has no graceful form on Windows: the job is closed, or the
// master killed when no job could be created.
func (h *processHandle) terminate() {
	if h.sys.job == 0 {
		_ = h.cmd.Process.Kill()
		return
	}
	h.release()
}

func (h *processHandle) kill() {
	_ = h.cmd.Process.Kill()
}

// release closes the job once the master is gone so that orphaned
// workers do not outlive it.
func (h *processHandle) release() {
	h.sys.close.Do(func() {
		if h.sys.job != 0 {
			windows.CloseHandle(h.sys.job)
		}
	})
}

func createJobObject() (windows.Handle, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return 0, err
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{}
	info.BasicLimitInformation.LimitFlags = windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE
	_, err = windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	)
	if err != nil {
		windows.CloseHandle(job)
		return 0, err
	}
	return job, nil
}

func assignProcessToJob(job windows.Handle, pid int) error {
	handle, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(handle)
	return windows.AssignProcessToJobObject(job, handle)
}

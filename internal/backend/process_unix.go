//go:build !windows

package backend

import (
	"os/exec"
	"syscall"
)

// detachProcessGroup starts cmd in a new session group so it survives the
// orchestrator's own death and can be reaped by a later supervisor via its
// result file (spec.md §4.4 Launch, step 2).
func detachProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// killProcessGroup sends SIGKILL to the whole process group.
func killProcessGroup(cmd *exec.Cmd) error {
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// ProcessAlive reports whether pid is alive via signal-0 (spec.md §4.4 step 2).
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil
}

// KillPID SIGKILLs the process group led by pid. Used when reconciling a
// registry entry recovered across a process restart, where no live
// *exec.Cmd handle is available (spec.md §4.4 step 3, Stop).
func KillPID(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

//go:build windows

package backend

import (
	"os/exec"
	"strconv"
	"syscall"
)

// detachProcessGroup starts cmd hidden and in its own process group, so it
// survives the orchestrator's own death (spec.md §4.4 Launch, step 2).
func detachProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// killProcessGroup terminates the process via taskkill /T to take the
// process tree with it.
func killProcessGroup(cmd *exec.Cmd) error {
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	return kill.Run()
}

// ProcessAlive queries the process exit code; STILL_ACTIVE means alive.
func ProcessAlive(pid int) bool {
	const stillActive = 259
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer syscall.CloseHandle(h)

	var exitCode uint32
	if err := syscall.GetExitCodeProcess(h, &exitCode); err != nil {
		return false
	}
	return exitCode == stillActive
}

// KillPID terminates pid's process tree. Used when reconciling a registry
// entry recovered across a process restart, where no live *exec.Cmd handle
// is available (spec.md §4.4 step 3, Stop).
func KillPID(pid int) error {
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid))
	return kill.Run()
}

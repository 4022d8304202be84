//go:build unix

package utils

import (
	"errors"
	"os/exec"
	"syscall"
)

// ConfigureDetachedProcAttr puts the command in its own process group so that
// KillProcessGroup can take down adb and anything it forked.
func ConfigureDetachedProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
}

// KillProcessGroup sends SIGKILL to the process group of a started command.
func KillProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}

	// group may not exist if Setpgid was not applied
	return cmd.Process.Kill()
}

// SetReuseAddr enables SO_REUSEADDR on a socket before it connects.
func SetReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

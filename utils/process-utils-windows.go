//go:build windows

package utils

import (
	"os/exec"
	"syscall"
)

// ConfigureDetachedProcAttr is a no-op on Windows since process groups
// work differently.
func ConfigureDetachedProcAttr(cmd *exec.Cmd) {
}

// KillProcessGroup kills the command's process. Children of adb are owned by
// the adb server on Windows, so killing the client is enough.
func KillProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// SetReuseAddr enables SO_REUSEADDR on a socket before it connects.
func SetReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Package supervisor launches and tracks long running helper processes
// (adb shell sessions hosting on-device daemons) and pumps their output.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mobile-next/droidcap/devices/queue"
	"github.com/mobile-next/droidcap/utils"
	"github.com/sirupsen/logrus"
)

// killTimeout bounds how long Kill waits for the process to be reaped.
var killTimeout = 5 * time.Second

// Spec describes how to launch a daemon process.
type Spec struct {
	Path string
	Args []string
	Env  []string
}

func (s Spec) String() string {
	return strings.TrimSpace(s.Path + " " + strings.Join(s.Args, " "))
}

// LineListener receives each non-empty, trimmed output line of a daemon.
type LineListener func(line string)

// Daemon is a running (or exited) process started by a Registry.
type Daemon struct {
	name string
	spec Spec
	cmd  *exec.Cmd

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// logOut receives output nobody listens to, in verbose mode
	logOut io.WriteCloser

	mu        sync.Mutex
	startedAt time.Time
	exitedAt  time.Time
	waitErr   error
}

func spawn(ctx context.Context, name string, spec Spec, listener LineListener) (*Daemon, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("daemon %s: empty command", name)
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	utils.ConfigureDetachedProcAttr(cmd)

	var reader, writer *os.File
	if listener != nil {
		var err error
		reader, writer, err = os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create output pipe for %s: %w", name, err)
		}
		cmd.Stdout = writer
		cmd.Stderr = writer
	}

	var logOut io.WriteCloser
	if listener == nil && utils.IsVerbose() {
		logOut = utils.WithFields(logrus.Fields{"daemon": name}).WriterLevel(logrus.DebugLevel)
		cmd.Stdout = logOut
		cmd.Stderr = logOut
		cmd.WaitDelay = time.Second
	}

	if err := cmd.Start(); err != nil {
		if reader != nil {
			reader.Close()
			writer.Close()
		}
		if logOut != nil {
			logOut.Close()
		}
		return nil, fmt.Errorf("failed to start daemon %s: %w", name, err)
	}

	// the child holds its own copy of the write end
	if writer != nil {
		writer.Close()
	}

	dctx, cancel := context.WithCancel(ctx)
	d := &Daemon{
		name:      name,
		spec:      spec,
		cmd:       cmd,
		ctx:       dctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logOut:    logOut,
		startedAt: time.Now(),
	}

	utils.Verbose("Started daemon %s with PID %d: %s", name, cmd.Process.Pid, spec)

	go d.wait(listener == nil)
	go d.killOnCancel()

	if listener != nil {
		d.pump(reader, listener)
	}

	return d, nil
}

func (d *Daemon) wait(releaseContext bool) {
	err := d.cmd.Wait()
	if d.logOut != nil {
		d.logOut.Close()
	}

	d.mu.Lock()
	d.exitedAt = time.Now()
	d.waitErr = err
	d.mu.Unlock()

	if err != nil {
		utils.Verbose("Daemon %s (PID %d) exited: %v", d.name, d.cmd.Process.Pid, err)
	} else {
		utils.Verbose("Daemon %s (PID %d) exited normally", d.name, d.cmd.Process.Pid)
	}

	close(d.done)

	// with a line pump, the dispatcher releases the context once output is drained
	if releaseContext {
		d.cancel()
	}
}

func (d *Daemon) killOnCancel() {
	select {
	case <-d.done:
	case <-d.ctx.Done():
		if err := utils.KillProcessGroup(d.cmd); err != nil {
			utils.Verbose("Failed to kill daemon %s: %v", d.name, err)
		}
	}
}

// pump wires the two stage line pump: a reader goroutine that blocks on the
// pipe and a dispatcher goroutine that feeds the listener.
func (d *Daemon) pump(r *os.File, listener LineListener) {
	lines := queue.New[string]()

	go func() {
		defer r.Close()
		defer lines.Close()

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			lines.Push(line)
		}

		if err := scanner.Err(); err != nil {
			if d.ctx.Err() == nil {
				utils.Verbose("Reading output of daemon %s failed: %v", d.name, err)
			}
			// keep the pipe empty so the child never blocks on write
			_, _ = io.Copy(io.Discard, r)
		}
	}()

	go func() {
		defer d.cancel()
		_ = queue.Dispatch(d.ctx, lines, func(line string) {
			listener(line)
		})
	}()
}

// Kill terminates the daemon and waits for the process to be reaped.
func (d *Daemon) Kill() error {
	d.cancel()

	select {
	case <-d.done:
		return nil
	case <-time.After(killTimeout):
		return fmt.Errorf("daemon %s (PID %d) did not exit within %s", d.name, d.Pid(), killTimeout)
	}
}

func (d *Daemon) Name() string { return d.name }
func (d *Daemon) Spec() Spec   { return d.spec }

func (d *Daemon) Pid() int {
	if d.cmd.Process == nil {
		return 0
	}
	return d.cmd.Process.Pid
}

// Done is closed when the process has exited.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

func (d *Daemon) Exited() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

func (d *Daemon) StartedAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startedAt
}

// ExitedAt is zero while the process is running.
func (d *Daemon) ExitedAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exitedAt
}

// Err returns the error reported by Wait, if the daemon has exited.
func (d *Daemon) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitErr
}

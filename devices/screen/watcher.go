package screen

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mobile-next/droidcap/devices/minicap"
	"github.com/mobile-next/droidcap/devices/supervisor"
	"github.com/mobile-next/droidcap/utils"
)

const (
	DefaultRotationPackage = "jp.co.cyberagent.stf.rotationwatcher"
	rotationDaemonName     = "rotationwatcher"
)

// OrientationWatcher runs the RotationWatcher helper on the device and turns
// each line it prints (a rotation in degrees) into a quarter turn count.
type OrientationWatcher struct {
	bridge   Bridge
	registry *supervisor.Registry
	pkg      string
	onRotate func(rotation int)

	mu       sync.Mutex
	rotation int
	lines    uint64
	daemon   *supervisor.Daemon
}

func NewOrientationWatcher(bridge Bridge, registry *supervisor.Registry, pkg string, onRotate func(rotation int)) *OrientationWatcher {
	if pkg == "" {
		pkg = DefaultRotationPackage
	}
	return &OrientationWatcher{
		bridge:   bridge,
		registry: registry,
		pkg:      pkg,
		onRotate: onRotate,
	}
}

// Start launches the helper through app_process using the installed apk as
// class path.
func (w *OrientationWatcher) Start(ctx context.Context) (*supervisor.Daemon, error) {
	apk, err := w.bridge.PackagePath(w.pkg)
	if err != nil {
		return nil, fmt.Errorf("rotation watcher is not installed: %w", err)
	}

	spec := w.bridge.ShellSpec("CLASSPATH="+apk, "app_process", "/system/bin", w.pkg+".RotationWatcher")
	d, err := w.registry.Start(ctx, rotationDaemonName, spec, w.HandleLine)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.daemon = d
	w.mu.Unlock()

	utils.Verbose("Rotation watcher started (PID %d)", d.Pid())
	return d, nil
}

// HandleLine parses one line of watcher output. Lines that are not an
// integer are ignored.
func (w *OrientationWatcher) HandleLine(line string) {
	degrees, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		utils.Verbose("Ignoring rotation watcher output: %q", line)
		return
	}

	rotation := minicap.NormalizeRotation(degrees / 90)

	w.mu.Lock()
	w.rotation = rotation
	w.lines++
	w.mu.Unlock()

	utils.Verbose("Rotation changed to %d degrees", rotation*90)
	if w.onRotate != nil {
		w.onRotate(rotation)
	}
}

func (w *OrientationWatcher) Rotation() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotation
}

// Reported tells whether at least one rotation has been parsed.
func (w *OrientationWatcher) Reported() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines > 0
}

func (w *OrientationWatcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.daemon != nil && !w.daemon.Exited()
}

func (w *OrientationWatcher) Stop() error {
	w.mu.Lock()
	d := w.daemon
	w.daemon = nil
	w.mu.Unlock()

	return w.registry.StopDaemon(d)
}

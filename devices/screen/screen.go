// Package screen keeps a live, decoded copy of an Android device screen. It
// ties the minicap transport to the rotation watcher: every rotation reported
// by the device restarts capture with the matching geometry.
package screen

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/mobile-next/droidcap/devices/minicap"
	"github.com/mobile-next/droidcap/devices/supervisor"
	"github.com/mobile-next/droidcap/types"
	"github.com/mobile-next/droidcap/utils"
)

const DefaultMinicapDir = "/data/local/tmp"

var ErrNotStarted = errors.New("screen capture is not started")

// Bridge is what the screen needs from a device connection.
type Bridge interface {
	minicap.Forwarder
	// ShellSpec returns a launch description running args in a device shell.
	ShellSpec(args ...string) supervisor.Spec
	// PackagePath returns the apk path of an installed package.
	PackagePath(pkg string) (string, error)
}

type Options struct {
	// Display is the portrait-normalized real display size.
	Display    types.Size
	MinicapDir string
	// Quality is the JPEG quality passed to minicap, 0 keeps its default.
	Quality int
	// Scale shrinks the virtual size, values outside (0, 1) capture 1:1.
	Scale float64

	WatchRotation   bool
	RotationPackage string
	// InitialRotation is used when the watcher is disabled or unavailable.
	InitialRotation int

	Transport minicap.Config
}

// Status summarises the capture state.
type Status struct {
	Running   bool               `json:"running"`
	SessionID string             `json:"sessionId,omitempty"`
	Geometry  string             `json:"geometry,omitempty"`
	Rotation  int                `json:"rotation"`
	Port      int                `json:"port,omitempty"`
	Banner    *minicap.Banner    `json:"banner,omitempty"`
	Watching  bool               `json:"watchingRotation"`
	Restarts  uint64             `json:"restarts"`
	Frames    minicap.FrameStats `json:"frames"`
	LastError string             `json:"lastError,omitempty"`
}

type Screen struct {
	bridge    Bridge
	registry  *supervisor.Registry
	opts      Options
	sink      *minicap.Sink
	transport *minicap.Transport
	watcher   *OrientationWatcher

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	rotation int
	restarts uint64
	lastErr  error

	// frames up to this sequence belong to a previous session
	freshAfter uint64
}

func New(bridge Bridge, registry *supervisor.Registry, opts Options) (*Screen, error) {
	if opts.Display.Width <= 0 || opts.Display.Height <= 0 {
		return nil, fmt.Errorf("invalid display size %dx%d", opts.Display.Width, opts.Display.Height)
	}
	if opts.MinicapDir == "" {
		opts.MinicapDir = DefaultMinicapDir
	}

	s := &Screen{
		bridge:   bridge,
		registry: registry,
		opts:     opts,
		sink:     minicap.NewSink(opts.Display.Width, opts.Display.Height),
		rotation: minicap.NormalizeRotation(opts.InitialRotation),
	}

	transportCfg := opts.Transport
	transportCfg.Command = func(geom minicap.Geometry) supervisor.Spec {
		return bridge.ShellSpec(minicapArgs(opts.MinicapDir, geom, opts.Quality)...)
	}
	s.transport = minicap.NewTransport(registry, bridge, transportCfg)
	s.watcher = NewOrientationWatcher(bridge, registry, opts.RotationPackage, s.onRotate)

	return s, nil
}

// minicapArgs builds the device command line for one capture session.
func minicapArgs(dir string, geom minicap.Geometry, quality int) []string {
	args := []string{
		"LD_LIBRARY_PATH=" + dir,
		path.Join(dir, "minicap"),
		"-P", geom.String(),
		"-S",
	}
	if quality > 0 && quality <= 100 {
		args = append(args, "-Q", strconv.Itoa(quality))
	}
	return args
}

// Start begins capturing. With rotation watching enabled the first rotation
// the watcher reports starts the stream; if the watcher cannot be started,
// or exits before reporting anything, capture starts at the initial rotation.
func (s *Screen) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	runCtx := s.ctx
	s.mu.Unlock()

	if s.opts.WatchRotation {
		d, err := s.watcher.Start(runCtx)
		if err == nil {
			go s.fallbackOnWatcherExit(runCtx, d)
			return nil
		}
		utils.Warn("Rotation watcher unavailable, capturing at %d degrees: %v", s.Rotation()*90, err)
	}

	if err := s.Restart(s.Rotation()); err != nil {
		s.Stop()
		return err
	}
	return nil
}

func (s *Screen) fallbackOnWatcherExit(ctx context.Context, d *supervisor.Daemon) {
	select {
	case <-ctx.Done():
		return
	case <-d.Done():
	}

	if s.watcher.Reported() {
		utils.Verbose("Rotation watcher exited, keeping rotation %d", s.Rotation())
		return
	}

	utils.Warn("Rotation watcher exited without reporting a rotation, capturing at %d degrees", s.Rotation()*90)
	if err := s.Restart(s.Rotation()); err != nil && !errors.Is(err, ErrNotStarted) {
		utils.Warn("Failed to start screen capture: %v", err)
	}
}

func (s *Screen) onRotate(rotation int) {
	if err := s.Restart(rotation); err != nil && !errors.Is(err, ErrNotStarted) {
		utils.Warn("Failed to restart screen capture at rotation %d: %v", rotation, err)
	}
}

// Restart replaces the capture session with one for rotation.
func (s *Screen) Restart(rotation int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}

	s.rotation = minicap.NormalizeRotation(rotation)
	geom := minicap.NewGeometry(s.opts.Display.Width, s.opts.Display.Height, s.rotation).Scaled(s.opts.Scale)
	s.freshAfter = s.sink.Sequence()

	err := s.transport.Start(s.ctx, geom, s.sink.Ingest)
	s.lastErr = err
	if err != nil {
		return err
	}
	s.restarts++
	return nil
}

// Stop ends capture and the rotation watcher. The last frame stays available.
func (s *Screen) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	if err := s.watcher.Stop(); err != nil {
		utils.Verbose("Failed to stop rotation watcher: %v", err)
	}
	s.transport.Stop()
}

func (s *Screen) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Ended reports whether capture is started but its session is gone, either
// because minicap closed the stream or because the last restart failed.
// Only Restart brings it back.
func (s *Screen) Ended() bool {
	s.mu.Lock()
	started, failed := s.started, s.lastErr != nil
	s.mu.Unlock()

	if !started {
		return false
	}
	return s.transport.Ended() || (failed && s.transport.SessionID() == "")
}

func (s *Screen) Rotation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotation
}

// Snapshot returns a copy of the latest decoded frame.
func (s *Screen) Snapshot() *image.RGBA {
	return s.sink.Snapshot()
}

// LatestJPEG returns the raw bytes of the latest decoded frame, or nil.
func (s *Screen) LatestJPEG() []byte {
	data, _ := s.sink.LatestJPEG()
	return data
}

// WaitFrame blocks until the current session has decoded a frame, then
// returns the latest one. Frames of earlier sessions do not count.
func (s *Screen) WaitFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.mu.Lock()
	after := s.freshAfter
	s.mu.Unlock()

	if _, err := s.sink.WaitFrame(ctx, after); err != nil {
		if lastErr := s.transport.Err(); lastErr != nil {
			return nil, fmt.Errorf("no frame received: %w", lastErr)
		}
		return nil, fmt.Errorf("no frame received: %w", err)
	}

	data, _ := s.sink.LatestJPEG()
	return data, nil
}

// Subscribe streams raw JPEG frames as they are decoded.
func (s *Screen) Subscribe() (<-chan []byte, func()) {
	return s.sink.Subscribe()
}

func (s *Screen) Status() Status {
	s.mu.Lock()
	status := Status{
		Rotation: s.rotation,
		Restarts: s.restarts,
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	status.Running = s.transport.Active()
	status.SessionID = s.transport.SessionID()
	status.Port = s.transport.Port()
	status.Watching = s.watcher.Running()
	status.Frames = s.sink.Stats()

	if geom, ok := s.transport.Geometry(); ok {
		status.Geometry = geom.String()
	}
	if banner, ok := s.transport.Banner(); ok {
		status.Banner = &banner
	}
	if err := s.transport.Err(); err != nil {
		status.LastError = err.Error()
	}

	return status
}

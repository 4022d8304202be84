//go:build !windows

package screen

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mobile-next/droidcap/devices/minicap"
	"github.com/mobile-next/droidcap/devices/supervisor"
	"github.com/mobile-next/droidcap/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBridge runs local processes in place of device shell commands and
// forwards every request to a local fake minicap.
type fakeBridge struct {
	port          int
	watcherScript string

	mu         sync.Mutex
	shells     [][]string
	removed    []int
	forwardErr error
}

func (b *fakeBridge) ShellSpec(args ...string) supervisor.Spec {
	b.mu.Lock()
	b.shells = append(b.shells, args)
	b.mu.Unlock()

	if strings.HasPrefix(args[0], "CLASSPATH=") {
		return supervisor.Spec{Path: "sh", Args: []string{"-c", b.watcherScript}}
	}
	return supervisor.Spec{Path: "sleep", Args: []string{"30"}}
}

func (b *fakeBridge) PackagePath(pkg string) (string, error) {
	if b.watcherScript == "" {
		return "", errors.New("package not found")
	}
	return "/data/app/" + pkg + "/base.apk", nil
}

func (b *fakeBridge) Forward(localPort int, remote string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.forwardErr != nil {
		return 0, b.forwardErr
	}
	return b.port, nil
}

func (b *fakeBridge) failForward(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forwardErr = err
}

func (b *fakeBridge) RemoveForward(localPort int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, localPort)
	return nil
}

// captures returns the -P argument of every minicap launch.
func (b *fakeBridge) captures() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var params []string
	for _, args := range b.shells {
		if len(args) > 3 && strings.HasSuffix(args[1], "/minicap") {
			params = append(params, args[3])
		}
	}
	return params
}

func (b *fakeBridge) watcherCommand() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, args := range b.shells {
		if strings.HasPrefix(args[0], "CLASSPATH=") {
			return args
		}
	}
	return nil
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// startFakeMinicap accepts connections and answers each with a banner and
// one frame, keeping the stream open until the client disconnects.
func startFakeMinicap(t *testing.T, frame []byte) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				banner := minicap.Banner{Version: 1, HeaderSize: minicap.BannerSize, RealWidth: 720, RealHeight: 1280, VirtualWidth: 720, VirtualHeight: 1280}
				_, _ = conn.Write(banner.Encode())
				_, _ = conn.Write(minicap.EncodeFrame(frame))
				buf := make([]byte, 1)
				_, _ = conn.Read(buf)
			}()
		}
	}()

	t.Cleanup(func() {
		l.Close()
		wg.Wait()
	})
	return l.Addr().(*net.TCPAddr).Port
}

func newTestScreen(t *testing.T, bridge *fakeBridge, opts Options) (*Screen, *supervisor.Registry) {
	t.Helper()
	if bridge.port == 0 {
		bridge.port = startFakeMinicap(t, testJPEG(t))
	}
	if opts.Display.Width == 0 {
		opts.Display = types.Size{Width: 720, Height: 1280}
	}

	registry := supervisor.NewRegistry()
	s, err := New(bridge, registry, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Stop()
		_ = registry.StopAll()
	})
	return s, registry
}

func TestNew_InvalidDisplay(t *testing.T) {
	_, err := New(&fakeBridge{}, supervisor.NewRegistry(), Options{})
	assert.Error(t, err)
}

func TestScreen_RotationLineRestartsCaptureOnce(t *testing.T) {
	bridge := &fakeBridge{}
	s, _ := newTestScreen(t, bridge, Options{})

	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, []string{"720x1280@720x1280/0"}, bridge.captures())

	s.watcher.HandleLine("270")

	assert.Equal(t, 3, s.Rotation())
	assert.Equal(t, []string{"720x1280@720x1280/0", "720x1280@720x1280/270"}, bridge.captures())
	assert.Equal(t, uint64(2), s.Status().Restarts)
}

func TestScreen_WatcherDrivesCapture(t *testing.T) {
	bridge := &fakeBridge{watcherScript: "echo 90; exec sleep 30"}
	s, registry := newTestScreen(t, bridge, Options{WatchRotation: true})

	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(bridge.captures()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"720x1280@720x1280/90"}, bridge.captures())
	assert.Equal(t, 1, s.Rotation())

	assert.Equal(t, []string{
		"CLASSPATH=/data/app/jp.co.cyberagent.stf.rotationwatcher/base.apk",
		"app_process",
		"/system/bin",
		"jp.co.cyberagent.stf.rotationwatcher.RotationWatcher",
	}, bridge.watcherCommand())

	status := s.Status()
	assert.True(t, status.Watching)
	assert.Equal(t, []string{"minicap", "rotationwatcher"}, registry.Names())
}

func TestScreen_MissingWatcherFallsBackToInitialRotation(t *testing.T) {
	bridge := &fakeBridge{}
	s, _ := newTestScreen(t, bridge, Options{WatchRotation: true, InitialRotation: 2})

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, []string{"720x1280@720x1280/180"}, bridge.captures())
	assert.False(t, s.Status().Watching)
}

func TestScreen_SilentWatcherFallsBack(t *testing.T) {
	bridge := &fakeBridge{watcherScript: "exit 0"}
	s, _ := newTestScreen(t, bridge, Options{WatchRotation: true})

	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(bridge.captures()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"720x1280@720x1280/0"}, bridge.captures())
}

func TestScreen_FramesReachSnapshot(t *testing.T) {
	bridge := &fakeBridge{}
	s, _ := newTestScreen(t, bridge, Options{})

	blank := s.Snapshot()
	assert.Equal(t, image.Rect(0, 0, 720, 1280), blank.Bounds())

	require.NoError(t, s.Start(context.Background()))

	data, err := s.WaitFrame(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, testJPEG(t), data)

	snap := s.Snapshot()
	assert.Equal(t, image.Rect(0, 0, 8, 8), snap.Bounds())

	status := s.Status()
	assert.True(t, status.Running)
	assert.NotEmpty(t, status.SessionID)
	assert.Equal(t, "720x1280@720x1280/0", status.Geometry)
	require.NotNil(t, status.Banner)
	assert.Equal(t, uint32(720), status.Banner.RealWidth)
	assert.Equal(t, uint64(1), status.Frames.Decoded)
}

func TestScreen_ScaleShrinksProjection(t *testing.T) {
	bridge := &fakeBridge{}
	s, _ := newTestScreen(t, bridge, Options{Scale: 0.5, Quality: 70})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"720x1280@360x640/0"}, bridge.captures())
}

func TestScreen_Stop(t *testing.T) {
	bridge := &fakeBridge{}
	s, registry := newTestScreen(t, bridge, Options{})

	require.NoError(t, s.Start(context.Background()))
	_, err := s.WaitFrame(context.Background(), 5*time.Second)
	require.NoError(t, err)

	s.Stop()

	assert.False(t, s.Started())
	assert.Equal(t, 0, registry.Len())
	assert.ErrorIs(t, s.Restart(1), ErrNotStarted)
	assert.NotNil(t, s.LatestJPEG(), "the last frame outlives the session")
	assert.False(t, s.Status().Running)
}

func TestScreen_WaitFrameTimeout(t *testing.T) {
	s, _ := newTestScreen(t, &fakeBridge{}, Options{})

	_, err := s.WaitFrame(context.Background(), 20*time.Millisecond)
	assert.Error(t, err)
}

func TestScreen_WaitFrameIgnoresEarlierSessions(t *testing.T) {
	bridge := &fakeBridge{}
	s, _ := newTestScreen(t, bridge, Options{})

	require.NoError(t, s.Start(context.Background()))
	_, err := s.WaitFrame(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.False(t, s.Ended())

	require.NoError(t, s.Restart(s.Rotation()))

	_, err = s.WaitFrame(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Status().Frames.Decoded, "the frame must come from the restarted session")
}

func TestScreen_EndedAfterStreamCloses(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	frame := testJPEG(t)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		banner := minicap.Banner{Version: 1, HeaderSize: minicap.BannerSize, RealWidth: 720, RealHeight: 1280, VirtualWidth: 720, VirtualHeight: 1280}
		_, _ = conn.Write(banner.Encode())
		_, _ = conn.Write(minicap.EncodeFrame(frame))
	}()

	bridge := &fakeBridge{port: l.Addr().(*net.TCPAddr).Port}
	s, _ := newTestScreen(t, bridge, Options{})
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, s.Ended, 5*time.Second, 10*time.Millisecond)
	assert.True(t, s.Started())
	assert.False(t, s.Status().Running)

	s.Stop()
	assert.False(t, s.Ended(), "a stopped screen is not reported as ended")
}

func TestScreen_EndedAfterFailedRestart(t *testing.T) {
	bridge := &fakeBridge{}
	s, _ := newTestScreen(t, bridge, Options{})
	require.NoError(t, s.Start(context.Background()))

	bridge.failForward(errors.New("device offline"))
	require.Error(t, s.Restart(1))
	assert.True(t, s.Ended())
	assert.Contains(t, s.Status().LastError, "device offline")

	bridge.failForward(nil)
	require.NoError(t, s.Restart(1))
	assert.False(t, s.Ended())
}

package devices

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mobile-next/droidcap/config"
	"github.com/mobile-next/droidcap/devices/minicap"
	"github.com/mobile-next/droidcap/devices/screen"
	"github.com/mobile-next/droidcap/devices/supervisor"
	"github.com/mobile-next/droidcap/utils"
)

const commandTimeout = 30 * time.Second

// AndroidDevice implements the ControllableDevice interface for Android devices
type AndroidDevice struct {
	id   string
	name string
	avd  string
	adb  Adb
	cfg  config.Config

	registry *supervisor.Registry
	ctx      context.Context
	cancel   context.CancelFunc

	displayMu sync.Mutex
	display   *DisplayInfo

	screenMu   sync.Mutex
	screen     *screen.Screen
	screenOpts CaptureOptions
}

func NewAndroidDevice(id, name string, cfg config.Config) *AndroidDevice {
	ctx, cancel := context.WithCancel(context.Background())
	if name == "" {
		name = id
	}
	return &AndroidDevice{
		id:   id,
		name: name,
		adb: Adb{
			Path: cfg.Adb.Path,
			Host: cfg.Adb.Host,
			Port: cfg.Adb.Port,
		},
		cfg:      cfg,
		registry: supervisor.NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (d *AndroidDevice) ID() string {
	return d.id
}

func (d *AndroidDevice) Name() string {
	return d.name
}

// AVDName is the virtual device an emulator runs, empty for real devices.
func (d *AndroidDevice) AVDName() string {
	return d.avd
}

func (d *AndroidDevice) Platform() string {
	return "android"
}

func (d *AndroidDevice) DeviceType() string {
	if strings.HasPrefix(d.id, "emulator-") {
		return "emulator"
	} else {
		return "real"
	}
}

func (d *AndroidDevice) runAdbCommand(args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(d.ctx, commandTimeout)
	defer cancel()
	return d.adb.Run(ctx, d.id, args...)
}

// Shell runs a command in the device shell.
func (d *AndroidDevice) Shell(args ...string) (string, error) {
	output, err := d.runAdbCommand(append([]string{"shell"}, args...)...)
	return string(output), err
}

// ShellSpec describes a long running `adb shell` invocation for the daemon registry.
func (d *AndroidDevice) ShellSpec(args ...string) supervisor.Spec {
	return supervisor.Spec{
		Path: d.adb.path(),
		Args: d.adb.args(d.id, append([]string{"shell"}, args...)...),
	}
}

// Forward maps a local port to remote on the device. A localPort of 0 lets
// adb choose the port.
func (d *AndroidDevice) Forward(localPort int, remote string) (int, error) {
	output, err := d.runAdbCommand("forward", "tcp:"+strconv.Itoa(localPort), remote)
	if err != nil {
		return 0, err
	}
	if localPort != 0 {
		return localPort, nil
	}
	return parseForwardPort(string(output))
}

func (d *AndroidDevice) RemoveForward(localPort int) error {
	_, err := d.runAdbCommand("forward", "--remove", "tcp:"+strconv.Itoa(localPort))
	return err
}

func (d *AndroidDevice) PackagePath(pkg string) (string, error) {
	output, err := d.Shell("pm", "path", pkg)
	if err != nil {
		return "", err
	}
	path := parsePackagePath(output)
	if path == "" {
		return "", fmt.Errorf("package %s not found", pkg)
	}
	return path, nil
}

func (d *AndroidDevice) Properties() (map[string]string, error) {
	output, err := d.Shell("getprop")
	if err != nil {
		return nil, fmt.Errorf("failed to read properties: %w", err)
	}
	return parseProperties(output), nil
}

func (d *AndroidDevice) Property(key string) (string, error) {
	output, err := d.Shell("getprop", key)
	if err != nil {
		return "", fmt.Errorf("failed to read property %s: %w", key, err)
	}
	return strings.TrimSpace(output), nil
}

// WlanIP returns the wifi address, falling back to the wlan0 interface when
// the dhcp property is not set (it is gone on newer Android releases).
func (d *AndroidDevice) WlanIP() (string, error) {
	ip, err := d.Property("dhcp.wlan0.ipaddress")
	if err == nil && ip != "" {
		return ip, nil
	}

	output, err := d.Shell("ip", "-f", "inet", "addr", "show", "wlan0")
	if err != nil {
		return "", fmt.Errorf("failed to read wlan0 address: %w", err)
	}
	return parseInetAddr(output), nil
}

// Display returns the portrait-normalized display size. It is queried once
// and cached for the lifetime of the device.
func (d *AndroidDevice) Display() (DisplayInfo, error) {
	d.displayMu.Lock()
	defer d.displayMu.Unlock()

	if d.display != nil {
		return *d.display, nil
	}

	info, err := d.queryDisplay()
	if err != nil {
		return DisplayInfo{}, err
	}

	d.display = &info
	return info, nil
}

func (d *AndroidDevice) queryDisplay() (DisplayInfo, error) {
	output, err := d.Shell("dumpsys", "display")
	if err == nil {
		if info, ok := parseDumpsysDisplay(output); ok {
			return info, nil
		}
	}
	utils.Verbose("dumpsys display did not report a viewport for %s, trying wm size", d.id)

	output, err = d.Shell("wm", "size")
	if err != nil {
		return DisplayInfo{}, fmt.Errorf("failed to get display size: %w", err)
	}

	size, ok := parseWmSize(output)
	if !ok {
		return DisplayInfo{}, fmt.Errorf("failed to parse display size from %q", strings.TrimSpace(output))
	}
	return DisplayInfo{Size: size}, nil
}

// Orientation returns the rotation in quarter turns. While the screen is
// captured with a rotation watcher its state is used, otherwise the display
// is queried.
func (d *AndroidDevice) Orientation() (int, error) {
	d.screenMu.Lock()
	s := d.screen
	d.screenMu.Unlock()

	if s != nil && s.Started() && s.Status().Watching {
		return s.Rotation(), nil
	}

	return d.queryRotation()
}

func (d *AndroidDevice) queryRotation() (int, error) {
	output, err := d.Shell("dumpsys", "display")
	if err != nil {
		return 0, err
	}
	info, ok := parseDumpsysDisplay(output)
	if !ok {
		return 0, errors.New("failed to parse display orientation")
	}
	return info.Rotation, nil
}

func (d *AndroidDevice) LaunchApp(packageName string) error {
	output, err := d.Shell("monkey", "-p", packageName, "-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return fmt.Errorf("failed to launch app %s: %w", packageName, err)
	}
	if strings.Contains(output, "monkey aborted") || strings.Contains(output, "No activities found") {
		return fmt.Errorf("failed to launch app %s: %s", packageName, strings.TrimSpace(output))
	}

	return nil
}

// TerminateApp stops the app. With clear the app data is wiped as well.
func (d *AndroidDevice) TerminateApp(packageName string, clear bool) error {
	if clear {
		output, err := d.Shell("pm", "clear", packageName)
		if err != nil {
			return fmt.Errorf("failed to clear app %s: %w", packageName, err)
		}
		if !strings.Contains(output, "Success") {
			return fmt.Errorf("failed to clear app %s: %s", packageName, strings.TrimSpace(output))
		}
		return nil
	}

	if _, err := d.Shell("am", "force-stop", packageName); err != nil {
		return fmt.Errorf("failed to terminate app %s: %w", packageName, err)
	}

	return nil
}

func (d *AndroidDevice) ListApps() ([]InstalledAppInfo, error) {
	output, err := d.Shell("pm", "list", "packages", "-3")
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}

	var apps []InstalledAppInfo
	for _, pkg := range parsePackageList(output) {
		apps = append(apps, InstalledAppInfo{PackageName: pkg})
	}
	return apps, nil
}

func (d *AndroidDevice) Info() (*FullDeviceInfo, error) {
	props, err := d.Properties()
	if err != nil {
		return nil, err
	}

	display, err := d.Display()
	if err != nil {
		return nil, err
	}

	info := &FullDeviceInfo{
		DeviceInfo: DeviceInfo{
			ID:       d.id,
			Name:     d.name,
			Platform: d.Platform(),
			Type:     d.DeviceType(),
		},
		ScreenSize: &ScreenSize{
			Width:  display.Size.Width,
			Height: display.Size.Height,
			Scale:  1,
		},
		Model:          props["ro.product.model"],
		Manufacturer:   props["ro.product.manufacturer"],
		AndroidVersion: props["ro.build.version.release"],
		SDK:            props["ro.build.version.sdk"],
		ABI:            props["ro.product.cpu.abi"],
		WlanIP:         props["dhcp.wlan0.ipaddress"],
	}

	return info, nil
}

// Screen returns the live screen, starting or restarting capture when the
// requested options differ from the running ones or the session has ended.
func (d *AndroidDevice) Screen(opts CaptureOptions) (*screen.Screen, error) {
	opts = d.captureDefaults(opts)

	d.screenMu.Lock()
	defer d.screenMu.Unlock()

	if d.screen != nil && d.screen.Started() && d.screenOpts == opts {
		if !d.screen.Ended() {
			return d.screen, nil
		}

		utils.Info("Capture session on %s ended, restarting", d.id)
		if err := d.screen.Restart(d.screen.Rotation()); err != nil {
			return nil, fmt.Errorf("failed to restart screen capture: %w", err)
		}
		return d.screen, nil
	}

	if d.screen != nil {
		d.screen.Stop()
		d.screen = nil
	}

	display, err := d.Display()
	if err != nil {
		return nil, err
	}

	initial := d.cfg.Rotation.Initial / 90
	if rotation, err := d.queryRotation(); err == nil {
		initial = rotation
	}

	s, err := screen.New(d, d.registry, screen.Options{
		Display:         display.Size,
		MinicapDir:      d.cfg.Minicap.Dir,
		Quality:         opts.Quality,
		Scale:           opts.Scale,
		WatchRotation:   d.cfg.Rotation.Enabled,
		RotationPackage: d.cfg.Rotation.Package,
		InitialRotation: initial,
		Transport: minicap.Config{
			Socket:       d.cfg.Minicap.Socket,
			Host:         d.cfg.Adb.Host,
			LocalPort:    d.cfg.Minicap.LocalPort,
			ReadyTimeout: d.cfg.Minicap.ReadyTimeout,
			MaxFrameSize: d.cfg.Minicap.MaxFrameSize,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := s.Start(d.ctx); err != nil {
		return nil, fmt.Errorf("failed to start screen capture: %w", err)
	}

	d.screen = s
	d.screenOpts = opts
	return s, nil
}

func (d *AndroidDevice) captureDefaults(opts CaptureOptions) CaptureOptions {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = d.cfg.Minicap.Quality
	}
	if opts.Scale <= 0 || opts.Scale >= 1 {
		opts.Scale = d.cfg.Minicap.Scale
	}
	return opts
}

// ScreenStatus reports the capture state, or nil when the screen was never started.
func (d *AndroidDevice) ScreenStatus() *screen.Status {
	d.screenMu.Lock()
	s := d.screen
	d.screenMu.Unlock()

	if s == nil {
		return nil
	}
	status := s.Status()
	return &status
}

// TakeScreenshot returns the current screen as png or jpeg. Frames come from
// the minicap stream; when it can not deliver one, screencap is used.
func (d *AndroidDevice) TakeScreenshot(ctx context.Context, format string, quality int) ([]byte, error) {
	if format == "" {
		format = "png"
	}

	s, err := d.Screen(CaptureOptions{})
	if err == nil {
		var frame []byte
		frame, err = s.WaitFrame(ctx, d.cfg.Minicap.FrameTimeout)
		if err == nil {
			if isJPEG(format) && quality <= 0 {
				return frame, nil
			}
			return utils.EncodeImage(s.Snapshot(), format, quality)
		}
	}

	utils.Warn("Screen stream unavailable for %s, falling back to screencap: %v", d.id, err)
	return d.screencap(ctx, format, quality)
}

func (d *AndroidDevice) screencap(ctx context.Context, format string, quality int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	data, err := d.adb.RunRaw(ctx, d.id, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}

	if format == "png" {
		return data, nil
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screencap output: %w", err)
	}
	return utils.EncodeImage(img, format, quality)
}

func isJPEG(format string) bool {
	return format == "jpeg" || format == "jpg"
}

var (
	errCaptureStopped = errors.New("capture stopped by client")
	errCaptureEnded   = errors.New("screen capture ended")
)

// streamHealthInterval is how often StreamFrames checks the session is alive.
var streamHealthInterval = time.Second

type callbackWriter func([]byte) bool

func (w callbackWriter) Write(p []byte) (int, error) {
	if !w(p) {
		return 0, errCaptureStopped
	}
	return len(p), nil
}

// StreamFrames calls fn with every JPEG frame minicap produces, starting with
// the latest one, until ctx is done, fn returns false or the session dies.
func (d *AndroidDevice) StreamFrames(ctx context.Context, opts CaptureOptions, fn func([]byte) bool) error {
	s, err := d.Screen(opts)
	if err != nil {
		return err
	}

	frames, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if frame := s.LatestJPEG(); frame != nil {
		if !fn(frame) {
			return nil
		}
	}

	health := time.NewTicker(streamHealthInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if !fn(frame) {
				return nil
			}
		case <-health.C:
			if !s.Started() {
				return errors.New("screen capture stopped")
			}
			if status := s.Status(); !status.Running && status.LastError != "" {
				return fmt.Errorf("screen capture failed: %s", status.LastError)
			}
			if s.Ended() {
				return errCaptureEnded
			}
		}
	}
}

// StartScreenCapture streams the screen as multipart MJPEG through callback.
func (d *AndroidDevice) StartScreenCapture(ctx context.Context, opts CaptureOptions, callback func([]byte) bool) error {
	w := minicap.NewMJPEGWriter(callbackWriter(callback))

	var writeErr error
	err := d.StreamFrames(ctx, opts, func(frame []byte) bool {
		if err := w.WriteFrame(frame); err != nil {
			if errors.Is(err, errCaptureStopped) {
				utils.Verbose("Screen capture ended by client")
			} else {
				writeErr = err
			}
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return writeErr
}

// StopScreen ends screen capture, keeping the device usable.
func (d *AndroidDevice) StopScreen() {
	d.screenMu.Lock()
	defer d.screenMu.Unlock()

	if d.screen != nil {
		d.screen.Stop()
		d.screen = nil
	}
}

// Cleanup stops every helper process and forward owned by the device.
func (d *AndroidDevice) Cleanup() error {
	d.StopScreen()
	err := d.registry.StopAll()
	d.cancel()
	return err
}

// GetAndroidDevices retrieves a list of connected Android devices
func GetAndroidDevices(ctx context.Context, cfg config.Config) ([]*AndroidDevice, error) {
	adb := Adb{Path: cfg.Adb.Path, Host: cfg.Adb.Host, Port: cfg.Adb.Port}

	entries, err := adb.Devices(ctx)
	if err != nil {
		return nil, err
	}

	var avds map[string]AVDInfo
	var devices []*AndroidDevice
	for _, entry := range entries {
		if entry.State != "device" {
			utils.Verbose("Skipping %s in state %s", entry.Serial, entry.State)
			continue
		}

		var avdName, name string
		if strings.HasPrefix(entry.Serial, "emulator-") {
			if avds == nil {
				avds = loadLocalAVDs()
			}
			avdName = emulatorAVDName(ctx, adb, entry.Serial)
			if info, ok := avds[avdName]; ok {
				name = info.label()
			}
		}
		if name == "" {
			name = getAndroidDeviceName(ctx, adb, entry.Serial)
		}

		device := NewAndroidDevice(entry.Serial, name, cfg)
		device.avd = avdName
		devices = append(devices, device)
	}

	return devices, nil
}

func getAndroidDeviceName(ctx context.Context, adb Adb, serial string) string {
	output, err := adb.Run(ctx, serial, "shell", "getprop", "ro.product.model")
	if err == nil && len(bytes.TrimSpace(output)) > 0 {
		return strings.TrimSpace(string(output))
	}

	return serial
}

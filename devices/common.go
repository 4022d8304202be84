package devices

import (
	"context"
	"fmt"
	"sort"

	"github.com/mobile-next/droidcap/config"
	"github.com/mobile-next/droidcap/devices/screen"
)

const (
	// Default MJPEG streaming quality (1-100)
	DefaultMJPEGQuality = 80
	// Default MJPEG streaming scale (0.1-1.0)
	DefaultMJPEGScale = 1.0
)

type ControllableDevice interface {
	ID() string
	Name() string
	Platform() string   // always "android" for now
	DeviceType() string // "real" or "emulator"

	Info() (*FullDeviceInfo, error)
	Properties() (map[string]string, error)
	Orientation() (int, error)
	LaunchApp(packageName string) error
	TerminateApp(packageName string, clear bool) error
	ListApps() ([]InstalledAppInfo, error)

	TakeScreenshot(ctx context.Context, format string, quality int) ([]byte, error)
	StartScreenCapture(ctx context.Context, opts CaptureOptions, callback func([]byte) bool) error
	StreamFrames(ctx context.Context, opts CaptureOptions, fn func([]byte) bool) error
	ScreenStatus() *screen.Status
	Cleanup() error
}

// CaptureOptions selects the JPEG quality and the scale minicap projects to.
// Zero values use the configured defaults.
type CaptureOptions struct {
	Quality int
	Scale   float64
}

// GetAllControllableDevices lists every device adb reports as online.
func GetAllControllableDevices(ctx context.Context, cfg config.Config) ([]ControllableDevice, error) {
	androidDevices, err := GetAndroidDevices(ctx, cfg)
	if err != nil {
		return nil, err
	}

	allDevices := make([]ControllableDevice, 0, len(androidDevices))
	for _, d := range androidDevices {
		allDevices = append(allDevices, d)
	}
	return allDevices, nil
}

// DeviceInfo represents the JSON-friendly device information
type DeviceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Type     string `json:"type"`
	State    string `json:"state,omitempty"`
	Version  string `json:"version,omitempty"`
}

func sortDeviceInfo(list []DeviceInfo) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
}

type ScreenSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Scale  int `json:"scale"`
}

type FullDeviceInfo struct {
	DeviceInfo
	ScreenSize     *ScreenSize `json:"screenSize"`
	Model          string      `json:"model,omitempty"`
	Manufacturer   string      `json:"manufacturer,omitempty"`
	AndroidVersion string      `json:"androidVersion,omitempty"`
	SDK            string      `json:"sdk,omitempty"`
	ABI            string      `json:"abi,omitempty"`
	WlanIP         string      `json:"wlanIp,omitempty"`
}

// GetDeviceInfoList returns a list of DeviceInfo for all connected devices
func GetDeviceInfoList(ctx context.Context, cfg config.Config) ([]DeviceInfo, error) {
	devices, err := GetAllControllableDevices(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting devices: %w", err)
	}

	deviceInfoList := make([]DeviceInfo, len(devices))
	for i, d := range devices {
		deviceInfoList[i] = DeviceInfo{
			ID:       d.ID(),
			Name:     d.Name(),
			Platform: d.Platform(),
			Type:     d.DeviceType(),
		}
	}

	return deviceInfoList, nil
}

// InstalledAppInfo represents information about an installed application.
type InstalledAppInfo struct {
	PackageName string `json:"packageName"`
	AppName     string `json:"appName,omitempty"`
	Version     string `json:"version,omitempty"`
}

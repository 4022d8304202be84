package commands

import (
	"context"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mobile-next/droidcap/config"
	"github.com/mobile-next/droidcap/devices"
	"github.com/mobile-next/droidcap/utils"
)

type DoctorInfo struct {
	DroidcapVersion string         `json:"droidcap_version"`
	OS              string         `json:"os"`
	OSVersion       string         `json:"os_version"`
	ConfigFile      string         `json:"config_file,omitempty"`
	AndroidHome     string         `json:"android_home"`
	ADBPath         string         `json:"adb_path"`
	ADBVersion      string         `json:"adb_version,omitempty"`
	EmulatorPath    string         `json:"emulator_path"`
	Devices         []DeviceDoctor `json:"devices,omitempty"`
}

// DeviceDoctor reports whether the on-device helpers are installed.
type DeviceDoctor struct {
	ID                       string `json:"id"`
	ABI                      string `json:"abi,omitempty"`
	SDK                      string `json:"sdk,omitempty"`
	MinicapInstalled         bool   `json:"minicap_installed"`
	MinicapLibraryInstalled  bool   `json:"minicap_library_installed"`
	RotationWatcherInstalled bool   `json:"rotation_watcher_installed"`
	Error                    string `json:"error,omitempty"`
}

// helperProber is implemented by devices that expose a raw shell.
type helperProber interface {
	Shell(args ...string) (string, error)
	PackagePath(pkg string) (string, error)
	Property(key string) (string, error)
}

func getAndroidSdkPath() string {
	sdkPath := os.Getenv("ANDROID_HOME")
	if sdkPath != "" {
		if _, err := os.Stat(sdkPath); err == nil {
			return sdkPath
		}
	}

	// try default Android SDK location on macOS
	homeDir := os.Getenv("HOME")
	if homeDir != "" {
		defaultPath := filepath.Join(homeDir, "Library", "Android", "sdk")
		if _, err := os.Stat(defaultPath); err == nil {
			return defaultPath
		}
	}

	// try default Android SDK location on Linux
	if homeDir != "" && runtime.GOOS == "linux" {
		defaultPath := filepath.Join(homeDir, "Android", "Sdk")
		if _, err := os.Stat(defaultPath); err == nil {
			return defaultPath
		}
	}

	// try default Android SDK location on Windows
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData != "" {
			defaultPath := filepath.Join(localAppData, "Android", "Sdk")
			if _, err := os.Stat(defaultPath); err == nil {
				return defaultPath
			}
		}

		// fallback to USERPROFILE on Windows
		userProfile := os.Getenv("USERPROFILE")
		if userProfile != "" {
			defaultPath := filepath.Join(userProfile, "AppData", "Local", "Android", "Sdk")
			if _, err := os.Stat(defaultPath); err == nil {
				return defaultPath
			}
		}
	}

	return ""
}

func getAdbPath(configured string) string {
	if configured != "" && configured != "adb" {
		if _, err := os.Stat(configured); err == nil {
			return configured
		}
	}

	sdkPath := getAndroidSdkPath()
	if sdkPath != "" {
		adbPath := filepath.Join(sdkPath, "platform-tools", "adb")
		if runtime.GOOS == "windows" {
			adbPath += ".exe"
		}

		if _, err := os.Stat(adbPath); err == nil {
			return adbPath
		}
	}

	// check if adb is in PATH
	adbPath, err := exec.LookPath("adb")
	if err == nil {
		return adbPath
	}

	return ""
}

func getEmulatorPath() string {
	sdkPath := getAndroidSdkPath()
	if sdkPath != "" {
		emulatorPath := filepath.Join(sdkPath, "emulator", "emulator")
		if runtime.GOOS == "windows" {
			emulatorPath += ".exe"
		}
		if _, err := os.Stat(emulatorPath); err == nil {
			return emulatorPath
		}
	}

	// check if emulator is in PATH
	emulatorPath, err := exec.LookPath("emulator")
	if err == nil {
		return emulatorPath
	}

	return ""
}

func getAdbVersion(adbPath string) string {
	if adbPath == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	version, err := devices.Adb{Path: adbPath}.Version(ctx)
	if err != nil {
		utils.Verbose("adb version failed: %v", err)
		return ""
	}
	return version
}

func getOSVersion() string {
	switch runtime.GOOS {
	case "darwin":
		cmd := exec.Command("sw_vers", "-productVersion")
		output, err := cmd.CombinedOutput()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(output))
	case "windows":
		cmd := exec.Command("cmd", "/c", "ver")
		output, err := cmd.CombinedOutput()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(output))
	case "linux":
		// try reading /etc/os-release
		data, err := os.ReadFile("/etc/os-release")
		if err != nil {
			return ""
		}
		lines := strings.Split(string(data), "\n")
		for _, line := range lines {
			if strings.HasPrefix(line, "PRETTY_NAME=") {
				return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
			}
		}
		return ""
	default:
		return ""
	}
}

// fileExists checks a path on the device.
func fileExists(p helperProber, file string) bool {
	output, err := p.Shell("ls", file)
	if err != nil {
		return false
	}
	out := strings.TrimSpace(output)
	return out != "" && !strings.Contains(out, "No such file")
}

func probeDevice(d devices.ControllableDevice, cfg config.Config) DeviceDoctor {
	report := DeviceDoctor{ID: d.ID()}

	p, ok := d.(helperProber)
	if !ok {
		report.Error = "device does not expose a shell"
		return report
	}

	abi, err := p.Property("ro.product.cpu.abi")
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.ABI = abi
	report.SDK, _ = p.Property("ro.build.version.sdk")

	report.MinicapInstalled = fileExists(p, path.Join(cfg.Minicap.Dir, "minicap"))
	report.MinicapLibraryInstalled = fileExists(p, path.Join(cfg.Minicap.Dir, "minicap.so"))

	_, err = p.PackagePath(cfg.Rotation.Package)
	report.RotationWatcherInstalled = err == nil

	return report
}

// DoctorCommand performs system diagnostics and returns information about the environment
func DoctorCommand(version string) *CommandResponse {
	cfg := GetConfig()

	info := DoctorInfo{
		DroidcapVersion: version,
		OS:              runtime.GOOS,
		OSVersion:       getOSVersion(),
		ConfigFile:      cfg.Source,
		AndroidHome:     os.Getenv("ANDROID_HOME"),
		ADBPath:         getAdbPath(cfg.Adb.Path),
		EmulatorPath:    getEmulatorPath(),
	}

	if info.ADBPath == "" {
		return NewSuccessResponse(info)
	}

	info.ADBVersion = getAdbVersion(info.ADBPath)

	all, err := listDevices(context.Background(), cfg)
	if err != nil {
		utils.Verbose("Failed to list devices: %v", err)
		return NewSuccessResponse(info)
	}

	for _, d := range all {
		info.Devices = append(info.Devices, probeDevice(d, cfg))
		if _, cached := deviceCache.Peek(d.ID()); !cached {
			_ = d.Cleanup()
		}
	}

	return NewSuccessResponse(info)
}

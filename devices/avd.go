package devices

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/mobile-next/droidcap/utils"
	"gopkg.in/ini.v1"
)

// AVDInfo describes an Android Virtual Device found on disk.
type AVDInfo struct {
	Name        string
	DisplayName string
	APILevel    string
	AvdId       string
}

// apiLevelToVersion maps Android API levels to version strings
var apiLevelToVersion = map[string]string{
	"36": "16.0",
	"35": "15.0",
	"34": "14.0",
	"33": "13.0",
	"32": "12.1", // Android 12L
	"31": "12.0",
	"30": "11.0",
	"29": "10.0",
	"28": "9.0",
	"27": "8.1",
	"26": "8.0",
	"25": "7.1",
	"24": "7.0",
	"23": "6.0",
	"22": "5.1",
	"21": "5.0",
}

// convertAPILevelToVersion converts an API level to Android version string
func convertAPILevelToVersion(apiLevel string) string {
	if version, ok := apiLevelToVersion[apiLevel]; ok {
		return version
	}
	return apiLevel
}

// avdHome returns the directory holding <name>.ini files, honouring the
// same environment variables as the emulator.
func avdHome() (string, error) {
	if dir := os.Getenv("ANDROID_AVD_HOME"); dir != "" {
		return dir, nil
	}
	if dir := os.Getenv("ANDROID_USER_HOME"); dir != "" {
		return filepath.Join(dir, "avd"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".android", "avd"), nil
}

// loadAVDs reads every AVD definition under dir, keyed by AVD name.
func loadAVDs(dir string) (map[string]AVDInfo, error) {
	avds := make(map[string]AVDInfo)

	matches, err := filepath.Glob(filepath.Join(dir, "*.ini"))
	if err != nil {
		return avds, err
	}

	for _, iniFile := range matches {
		avdName := strings.TrimSuffix(filepath.Base(iniFile), ".ini")

		iniConfig, err := ini.Load(iniFile)
		if err != nil {
			utils.Verbose("Failed to read %s: %v", iniFile, err)
			continue
		}

		avdPath := iniConfig.Section("").Key("path").String()
		if avdPath == "" {
			continue
		}

		configPath := filepath.Join(avdPath, "config.ini")
		configData, err := ini.Load(configPath)
		if err != nil {
			utils.Verbose("Failed to read %s: %v", configPath, err)
			continue
		}

		section := configData.Section("")
		displayName := section.Key("avd.ini.displayname").String()
		if displayName == "" {
			continue
		}

		avds[avdName] = AVDInfo{
			Name:        avdName,
			DisplayName: displayName,
			// "android-31" -> "31"
			APILevel: strings.TrimPrefix(section.Key("target").String(), "android-"),
			AvdId:    section.Key("AvdId").MustString(avdName),
		}
	}

	return avds, nil
}

func loadLocalAVDs() map[string]AVDInfo {
	dir, err := avdHome()
	if err != nil {
		utils.Verbose("No AVD directory: %v", err)
		return nil
	}

	avds, err := loadAVDs(dir)
	if err != nil {
		utils.Verbose("Failed to list AVDs in %s: %v", dir, err)
	}
	return avds
}

// label is the name shown for the AVD, e.g. "Pixel 6" for "pixel_6 (Google)".
func (a AVDInfo) label() string {
	name := a.DisplayName
	if idx := strings.Index(name, "("); idx > 0 {
		name = strings.TrimSpace(name[:idx])
	}
	return strings.ReplaceAll(name, "_", " ")
}

// emulatorAVDName asks a running emulator console which AVD it runs.
func emulatorAVDName(ctx context.Context, adb Adb, serial string) string {
	output, err := adb.Run(ctx, serial, "emu", "avd", "name")
	if err != nil {
		utils.Verbose("Failed to read AVD name of %s: %v", serial, err)
		return ""
	}

	// the console answers "<name>\nOK"
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	name := strings.TrimSpace(lines[0])
	if name == "OK" || strings.HasPrefix(name, "KO") {
		return ""
	}
	return name
}

// avdNamer is implemented by devices that run on an emulator.
type avdNamer interface {
	AVDName() string
}

// OfflineEmulators lists AVDs on this machine that none of online runs.
func OfflineEmulators(online []ControllableDevice) []DeviceInfo {
	running := make(map[string]bool)
	for _, d := range online {
		if n, ok := d.(avdNamer); ok && n.AVDName() != "" {
			running[n.AVDName()] = true
		}
	}

	var offline []DeviceInfo
	for name, info := range loadLocalAVDs() {
		if running[name] || running[info.AvdId] {
			continue
		}
		offline = append(offline, DeviceInfo{
			ID:       name,
			Name:     info.label(),
			Platform: "android",
			Type:     "emulator",
			State:    "offline",
			Version:  convertAPILevelToVersion(info.APILevel),
		})
	}

	sortDeviceInfo(offline)
	return offline
}

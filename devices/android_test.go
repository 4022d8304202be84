//go:build !windows

package devices

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mobile-next/droidcap/config"
	"github.com/mobile-next/droidcap/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdbScript answers the adb invocations used by AndroidDevice. Every
// invocation is appended to the log file. Extra cases are matched first.
const fakeAdbScript = `#!/bin/sh
echo "$*" >> %q
case "$*" in
%s
  "devices")
    printf 'List of devices attached\nemulator-5554\tdevice\nR58M123ABC\toffline\n' ;;
  *"emu avd name") printf 'Pixel_9_Pro\r\nOK\r\n' ;;
  *"shell getprop ro.product.model") echo "sdk_gphone64" ;;
  *"shell getprop dhcp.wlan0.ipaddress") echo "" ;;
  *"shell getprop") printf '[ro.product.model]: [sdk_gphone64]\r\n[ro.build.version.sdk]: [34]\r\n[ro.build.version.release]: [14]\r\n' ;;
  *"shell ip -f inet addr show wlan0") echo "    inet 10.0.2.16/24 brd 10.0.2.255 scope global wlan0" ;;
  *"shell dumpsys display") echo "mDefaultViewport=DisplayViewport{valid=true, orientation=1, logicalFrame=Rect(0, 0 - 1280, 720), deviceWidth=1280, deviceHeight=720}" ;;
  *"shell monkey -p com.missing"*) echo "** No activities found to run, monkey aborted." ;;
  *"shell monkey"*) echo "Events injected: 1" ;;
  *"shell pm clear com.locked") echo "Failed" ;;
  *"shell pm clear"*) echo "Success" ;;
  *"shell am force-stop"*) ;;
  *"shell pm path"*) echo "package:/data/app/rotationwatcher/base.apk" ;;
  *"shell pm list packages -3") printf 'package:com.example.one\npackage:com.example.two\n' ;;
  *"forward tcp:0 "*) echo "40123" ;;
  *"forward"*) ;;
  *) echo "unexpected: $*" >&2; exit 1 ;;
esac
`

func newFakeAdb(t *testing.T) (string, func() []string) {
	t.Helper()
	return newFakeAdbWith(t, "")
}

func newFakeAdbWith(t *testing.T, cases string) (string, func() []string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "adb.log")
	adbPath := filepath.Join(dir, "adb")
	require.NoError(t, os.WriteFile(adbPath, []byte(fmt.Sprintf(fakeAdbScript, logPath, cases)), 0o755))

	calls := func() []string {
		data, err := os.ReadFile(logPath)
		if os.IsNotExist(err) {
			return nil
		}
		require.NoError(t, err)
		return strings.Split(strings.TrimSpace(string(data)), "\n")
	}
	return adbPath, calls
}

func newTestDevice(t *testing.T) (*AndroidDevice, func() []string) {
	t.Helper()
	adbPath, calls := newFakeAdb(t)
	cfg := config.Default()
	cfg.Adb.Path = adbPath

	d := NewAndroidDevice("emulator-5554", "", cfg)
	t.Cleanup(func() { _ = d.Cleanup() })
	return d, calls
}

func TestAndroidDevice_Identity(t *testing.T) {
	d, _ := newTestDevice(t)
	assert.Equal(t, "emulator-5554", d.ID())
	assert.Equal(t, "emulator-5554", d.Name())
	assert.Equal(t, "android", d.Platform())
	assert.Equal(t, "emulator", d.DeviceType())

	physical := NewAndroidDevice("R58M123ABC", "Galaxy", config.Default())
	assert.Equal(t, "real", physical.DeviceType())
	assert.Equal(t, "Galaxy", physical.Name())
}

func TestAndroidDevice_LaunchApp(t *testing.T) {
	d, calls := newTestDevice(t)

	require.NoError(t, d.LaunchApp("com.example.one"))
	assert.Equal(t, []string{"-s emulator-5554 shell monkey -p com.example.one -c android.intent.category.LAUNCHER 1"}, calls())

	err := d.LaunchApp("com.missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monkey aborted")
}

func TestAndroidDevice_TerminateApp(t *testing.T) {
	d, calls := newTestDevice(t)

	require.NoError(t, d.TerminateApp("com.example.one", false))
	require.NoError(t, d.TerminateApp("com.example.one", true))
	assert.Error(t, d.TerminateApp("com.locked", true))

	assert.Equal(t, []string{
		"-s emulator-5554 shell am force-stop com.example.one",
		"-s emulator-5554 shell pm clear com.example.one",
		"-s emulator-5554 shell pm clear com.locked",
	}, calls())
}

func TestAndroidDevice_Properties(t *testing.T) {
	d, _ := newTestDevice(t)

	props, err := d.Properties()
	require.NoError(t, err)
	assert.Equal(t, "sdk_gphone64", props["ro.product.model"])
	assert.Equal(t, "34", props["ro.build.version.sdk"], "carriage returns are stripped")

	model, err := d.Property("ro.product.model")
	require.NoError(t, err)
	assert.Equal(t, "sdk_gphone64", model)
}

func TestAndroidDevice_WlanIPFallsBackToInterface(t *testing.T) {
	d, _ := newTestDevice(t)

	ip, err := d.WlanIP()
	require.NoError(t, err)
	assert.Equal(t, "10.0.2.16", ip)
}

func TestAndroidDevice_DisplayIsCached(t *testing.T) {
	d, calls := newTestDevice(t)

	for i := 0; i < 3; i++ {
		info, err := d.Display()
		require.NoError(t, err)
		assert.Equal(t, types.Size{Width: 720, Height: 1280}, info.Size)
	}

	assert.Equal(t, []string{"-s emulator-5554 shell dumpsys display"}, calls())

	rotation, err := d.Orientation()
	require.NoError(t, err)
	assert.Equal(t, 1, rotation)
}

func TestAndroidDevice_Forward(t *testing.T) {
	d, calls := newTestDevice(t)

	port, err := d.Forward(0, "localabstract:minicap")
	require.NoError(t, err)
	assert.Equal(t, 40123, port)

	port, err = d.Forward(1313, "localabstract:minicap")
	require.NoError(t, err)
	assert.Equal(t, 1313, port)

	require.NoError(t, d.RemoveForward(40123))

	assert.Equal(t, []string{
		"-s emulator-5554 forward tcp:0 localabstract:minicap",
		"-s emulator-5554 forward tcp:1313 localabstract:minicap",
		"-s emulator-5554 forward --remove tcp:40123",
	}, calls())
}

func TestAndroidDevice_ShellSpec(t *testing.T) {
	cfg := config.Default()
	cfg.Adb.Host = "10.0.0.2"
	d := NewAndroidDevice("emulator-5554", "", cfg)

	spec := d.ShellSpec("LD_LIBRARY_PATH=/data/local/tmp", "/data/local/tmp/minicap", "-P", "720x1280@720x1280/0", "-S")
	assert.Equal(t, "adb", spec.Path)
	assert.Equal(t, []string{
		"-H", "10.0.0.2", "-s", "emulator-5554", "shell",
		"LD_LIBRARY_PATH=/data/local/tmp", "/data/local/tmp/minicap", "-P", "720x1280@720x1280/0", "-S",
	}, spec.Args)
}

func TestAndroidDevice_PackagePath(t *testing.T) {
	d, _ := newTestDevice(t)

	path, err := d.PackagePath("jp.co.cyberagent.stf.rotationwatcher")
	require.NoError(t, err)
	assert.Equal(t, "/data/app/rotationwatcher/base.apk", path)
}

func TestAndroidDevice_ListApps(t *testing.T) {
	d, _ := newTestDevice(t)

	apps, err := d.ListApps()
	require.NoError(t, err)
	assert.Equal(t, []InstalledAppInfo{{PackageName: "com.example.one"}, {PackageName: "com.example.two"}}, apps)
}

func TestAndroidDevice_Info(t *testing.T) {
	d, _ := newTestDevice(t)

	info, err := d.Info()
	require.NoError(t, err)
	assert.Equal(t, "emulator-5554", info.ID)
	assert.Equal(t, "sdk_gphone64", info.Model)
	assert.Equal(t, "14", info.AndroidVersion)
	assert.Equal(t, &ScreenSize{Width: 720, Height: 1280, Scale: 1}, info.ScreenSize)
}

func TestAndroidDevice_ScreenStatusBeforeCapture(t *testing.T) {
	d, _ := newTestDevice(t)
	assert.Nil(t, d.ScreenStatus())
}

func TestAndroidDevice_CommandErrorIncludesOutput(t *testing.T) {
	d, _ := newTestDevice(t)

	_, err := d.Shell("reboot", "bootloader")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected")
}

func TestGetAndroidDevices(t *testing.T) {
	t.Setenv("ANDROID_AVD_HOME", t.TempDir())
	adbPath, _ := newFakeAdb(t)
	cfg := config.Default()
	cfg.Adb.Path = adbPath

	devices, err := GetAndroidDevices(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "emulator-5554", devices[0].ID())
	assert.Equal(t, "sdk_gphone64", devices[0].Name())

	infos, err := GetDeviceInfoList(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []DeviceInfo{{ID: "emulator-5554", Name: "sdk_gphone64", Platform: "android", Type: "emulator"}}, infos)
}

func TestGetAndroidDevices_NamesEmulatorsAfterAVD(t *testing.T) {
	avdDir := t.TempDir()
	writeAVD(t, avdDir, "Pixel_9_Pro", "avd.ini.displayname=Pixel 9 Pro\ntarget=android-36\nAvdId=Pixel_9_Pro\n")
	writeAVD(t, avdDir, "Tablet", "avd.ini.displayname=Tablet\ntarget=android-34\n")
	t.Setenv("ANDROID_AVD_HOME", avdDir)

	adbPath, _ := newFakeAdb(t)
	cfg := config.Default()
	cfg.Adb.Path = adbPath

	devices, err := GetAndroidDevices(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "Pixel 9 Pro", devices[0].Name())
	assert.Equal(t, "Pixel_9_Pro", devices[0].AVDName())

	offline := OfflineEmulators([]ControllableDevice{devices[0]})
	assert.Equal(t, []DeviceInfo{{
		ID:       "Tablet",
		Name:     "Tablet",
		Platform: "android",
		Type:     "emulator",
		State:    "offline",
		Version:  "14.0",
	}}, offline)
}

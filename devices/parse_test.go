package devices

import (
	"testing"

	"github.com/mobile-next/droidcap/types"
	"github.com/stretchr/testify/assert"
)

func TestParseAdbDevicesOutput(t *testing.T) {
	output := "* daemon not running; starting now at tcp:5037\n" +
		"* daemon started successfully\n" +
		"List of devices attached\n" +
		"emulator-5554\tdevice\n" +
		"R58M123ABC\tunauthorized\n" +
		"192.168.1.20:5555\tdevice\n" +
		"\n"

	assert.Equal(t, []AdbDevice{
		{Serial: "emulator-5554", State: "device"},
		{Serial: "R58M123ABC", State: "unauthorized"},
		{Serial: "192.168.1.20:5555", State: "device"},
	}, parseAdbDevicesOutput(output))

	assert.Empty(t, parseAdbDevicesOutput("List of devices attached\n\n"))
}

func TestParseForwardPort(t *testing.T) {
	port, err := parseForwardPort("40123\n")
	assert.NoError(t, err)
	assert.Equal(t, 40123, port)

	for _, bad := range []string{"", "error: device offline", "0", "70000"} {
		_, err := parseForwardPort(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseDumpsysDisplay(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   DisplayInfo
		ok     bool
	}{
		{
			name:   "legacy viewport",
			output: "  mDefaultViewport=DisplayViewport{valid=true, orientation=0, logicalFrame=Rect(0, 0 - 720, 1280), physicalFrame=Rect(0, 0 - 720, 1280), deviceWidth=720, deviceHeight=1280}",
			want:   DisplayInfo{Size: types.Size{Width: 720, Height: 1280}, Rotation: 0},
			ok:     true,
		},
		{
			name:   "landscape is normalized to portrait",
			output: "mViewports=[DisplayViewport{valid=true, displayId=0, uniqueId='local:0', physicalPort=0, orientation=1, logicalFrame=Rect(0, 0 - 2400, 1080), physicalFrame=Rect(0, 0 - 2400, 1080), deviceWidth=2400, deviceHeight=1080, isActive=true}]",
			want:   DisplayInfo{Size: types.Size{Width: 1080, Height: 2400}, Rotation: 1},
			ok:     true,
		},
		{
			name:   "invalid viewport only",
			output: "DisplayViewport{valid=false, orientation=0, deviceWidth=0, deviceHeight=0}",
			ok:     false,
		},
		{
			name:   "garbage",
			output: "some random text",
			ok:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseDumpsysDisplay(tt.output)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseWmSize(t *testing.T) {
	size, ok := parseWmSize("Physical size: 1080x2400\n")
	assert.True(t, ok)
	assert.Equal(t, types.Size{Width: 1080, Height: 2400}, size)

	size, ok = parseWmSize("Physical size: 2560x1600\nOverride size: 1280x800\n")
	assert.True(t, ok)
	assert.Equal(t, types.Size{Width: 800, Height: 1280}, size)

	_, ok = parseWmSize("wm: not found")
	assert.False(t, ok)
}

func TestParseProperties(t *testing.T) {
	output := "[ro.bluetooth.dun]: [true]\n" +
		"[ro.product.model]: [Pixel 7]\n" +
		"[persist.sys.timezone]: []\n" +
		"[ro.build.fingerprint]: [google/panther/panther:14/UQ1A]\n" +
		"this line is noise\n"

	assert.Equal(t, map[string]string{
		"ro.bluetooth.dun":     "true",
		"ro.product.model":     "Pixel 7",
		"persist.sys.timezone": "",
		"ro.build.fingerprint": "google/panther/panther:14/UQ1A",
	}, parseProperties(output))
}

func TestParseInetAddr(t *testing.T) {
	output := `30: wlan0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc mq state UP group default qlen 3000
    inet 192.168.1.42/24 brd 192.168.1.255 scope global wlan0
       valid_lft forever preferred_lft forever`
	assert.Equal(t, "192.168.1.42", parseInetAddr(output))
	assert.Empty(t, parseInetAddr("Device \"wlan0\" does not exist."))
}

func TestParsePackagePath(t *testing.T) {
	assert.Equal(t, "/data/app/jp.co.cyberagent.stf.rotationwatcher-1/base.apk",
		parsePackagePath("package:/data/app/jp.co.cyberagent.stf.rotationwatcher-1/base.apk\n"))
	assert.Equal(t, "/data/app/x/base.apk",
		parsePackagePath("package:/data/app/x/base.apk\npackage:/data/app/x/split_config.arm64_v8a.apk\n"))
	assert.Empty(t, parsePackagePath(""))
}

func TestParsePackageList(t *testing.T) {
	assert.Equal(t, []string{"com.example.one", "com.example.two"},
		parsePackageList("package:com.example.one\npackage:com.example.two\n\n"))
}

func TestAdbArgs(t *testing.T) {
	adb := Adb{Host: "10.0.0.2", Port: 5038}
	assert.Equal(t, []string{"-H", "10.0.0.2", "-P", "5038", "-s", "emulator-5554", "shell", "id"},
		adb.args("emulator-5554", "shell", "id"))
	assert.Equal(t, []string{"devices"}, Adb{}.args("", "devices"))
	assert.Equal(t, "adb", Adb{}.path())
}

package devices

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeAVD lays out <dir>/<name>.ini pointing at <dir>/<name>.avd/config.ini.
func writeAVD(t *testing.T, dir, name, config string) {
	t.Helper()
	avdDataDir := filepath.Join(dir, name+".avd")
	require.NoError(t, os.MkdirAll(avdDataDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".ini"), []byte("path="+avdDataDir+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(avdDataDir, "config.ini"), []byte(config), 0o644))
}

func TestConvertAPILevelToVersion(t *testing.T) {
	tests := []struct {
		apiLevel string
		want     string
	}{
		{"36", "16.0"},
		{"34", "14.0"},
		{"32", "12.1"},
		{"21", "5.0"},
		// unknown API level returns as-is
		{"99", "99"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run("api_"+tt.apiLevel, func(t *testing.T) {
			assert.Equal(t, tt.want, convertAPILevelToVersion(tt.apiLevel))
		})
	}
}

func TestLoadAVDs(t *testing.T) {
	dir := t.TempDir()
	writeAVD(t, dir, "Pixel_9_Pro", "avd.ini.displayname=Pixel 9 Pro\ntarget=android-36\nAvdId=Pixel_9_Pro\n")
	// no display name, skipped
	writeAVD(t, dir, "broken", "target=android-31\n")
	// dangling ini, skipped
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gone.ini"), []byte("path="+filepath.Join(dir, "gone.avd")+"\n"), 0o644))

	avds, err := loadAVDs(dir)
	require.NoError(t, err)

	assert.Equal(t, map[string]AVDInfo{
		"Pixel_9_Pro": {Name: "Pixel_9_Pro", DisplayName: "Pixel 9 Pro", APILevel: "36", AvdId: "Pixel_9_Pro"},
	}, avds)
}

func TestLoadAVDs_DefaultsAvdId(t *testing.T) {
	dir := t.TempDir()
	writeAVD(t, dir, "small", "avd.ini.displayname=small_phone (Generic)\ntarget=android-30\n")

	avds, err := loadAVDs(dir)
	require.NoError(t, err)
	require.Contains(t, avds, "small")
	assert.Equal(t, "small", avds["small"].AvdId)
	assert.Equal(t, "small phone", avds["small"].label())
}

func TestAvdHome(t *testing.T) {
	t.Setenv("ANDROID_AVD_HOME", "/opt/avds")
	dir, err := avdHome()
	require.NoError(t, err)
	assert.Equal(t, "/opt/avds", dir)

	t.Setenv("ANDROID_AVD_HOME", "")
	t.Setenv("ANDROID_USER_HOME", "/opt/android")
	dir, err = avdHome()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/opt/android", "avd"), dir)
}

func TestOfflineEmulators_NoneOnline(t *testing.T) {
	dir := t.TempDir()
	writeAVD(t, dir, "TestEmu", "avd.ini.displayname=Test Emulator\ntarget=android-36\nAvdId=TestEmu\n")
	t.Setenv("ANDROID_AVD_HOME", dir)

	offline := OfflineEmulators(nil)
	require.Len(t, offline, 1)
	assert.Equal(t, "TestEmu", offline[0].ID)
	assert.Equal(t, "offline", offline[0].State)
	assert.Equal(t, "16.0", offline[0].Version)
}

package screen

import (
	"testing"

	"github.com/mobile-next/droidcap/devices/minicap"
	"github.com/mobile-next/droidcap/devices/supervisor"
	"github.com/stretchr/testify/assert"
)

func TestOrientationWatcher_HandleLine(t *testing.T) {
	tests := []struct {
		line     string
		rotation int
	}{
		{"0", 0},
		{"90", 1},
		{"180", 2},
		{"270", 3},
		{" 270 ", 3},
		{"360", 0},
		{"450", 1},
		{"-90", 3},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			var rotations []int
			w := NewOrientationWatcher(nil, supervisor.NewRegistry(), "", func(r int) {
				rotations = append(rotations, r)
			})

			w.HandleLine(tt.line)

			assert.Equal(t, tt.rotation, w.Rotation())
			assert.Equal(t, []int{tt.rotation}, rotations)
			assert.True(t, w.Reported())
		})
	}
}

func TestOrientationWatcher_IgnoresGarbage(t *testing.T) {
	calls := 0
	w := NewOrientationWatcher(nil, supervisor.NewRegistry(), "", func(int) { calls++ })

	w.HandleLine("270")
	w.HandleLine("Exception in thread main")
	w.HandleLine("")

	assert.Equal(t, 3, w.Rotation())
	assert.Equal(t, 1, calls)
}

func TestOrientationWatcher_StopWithoutStart(t *testing.T) {
	w := NewOrientationWatcher(nil, supervisor.NewRegistry(), "", nil)
	assert.NoError(t, w.Stop())
	assert.False(t, w.Running())
}

func TestMinicapArgs(t *testing.T) {
	geom := minicap.NewGeometry(720, 1280, 1)

	assert.Equal(t, []string{
		"LD_LIBRARY_PATH=/data/local/tmp",
		"/data/local/tmp/minicap",
		"-P", "720x1280@720x1280/90",
		"-S",
		"-Q", "80",
	}, minicapArgs("/data/local/tmp", geom, 80))

	assert.Equal(t, []string{
		"LD_LIBRARY_PATH=/data/local/tmp/",
		"/data/local/tmp/minicap",
		"-P", "720x1280@360x640/90",
		"-S",
	}, minicapArgs("/data/local/tmp/", geom.Scaled(0.5), 0))
}

package devices

import (
	"regexp"
	"strconv"

	"github.com/mobile-next/droidcap/types"
)

var (
	displayViewportRe = regexp.MustCompile(`DisplayViewport\{valid=true, .*?orientation=(\d+), .*?deviceWidth=(\d+), deviceHeight=(\d+)`)
	wmPhysicalSizeRe  = regexp.MustCompile(`Physical size:\s*(\d+)x(\d+)`)
	wmOverrideSizeRe  = regexp.MustCompile(`Override size:\s*(\d+)x(\d+)`)
)

// DisplayInfo is the display as reported by dumpsys. Size is portrait-normalized.
type DisplayInfo struct {
	Size     types.Size
	Rotation int
}

// parseDumpsysDisplay reads the first valid viewport of `dumpsys display`.
func parseDumpsysDisplay(output string) (DisplayInfo, bool) {
	m := displayViewportRe.FindStringSubmatch(output)
	if m == nil {
		return DisplayInfo{}, false
	}

	rotation, _ := strconv.Atoi(m[1])
	width, _ := strconv.Atoi(m[2])
	height, _ := strconv.Atoi(m[3])
	if width <= 0 || height <= 0 {
		return DisplayInfo{}, false
	}

	return DisplayInfo{
		Size:     portrait(width, height),
		Rotation: rotation % 4,
	}, true
}

// parseWmSize reads `wm size`, preferring an override size when one is set.
func parseWmSize(output string) (types.Size, bool) {
	m := wmOverrideSizeRe.FindStringSubmatch(output)
	if m == nil {
		m = wmPhysicalSizeRe.FindStringSubmatch(output)
	}
	if m == nil {
		return types.Size{}, false
	}

	width, _ := strconv.Atoi(m[1])
	height, _ := strconv.Atoi(m[2])
	if width <= 0 || height <= 0 {
		return types.Size{}, false
	}
	return portrait(width, height), true
}

func portrait(width, height int) types.Size {
	if width > height {
		width, height = height, width
	}
	return types.Size{Width: width, Height: height}
}

package minicap

import (
	"fmt"
	"math"
)

// Geometry describes what minicap captures: the real display size, the size
// frames are scaled to, and the rotation in quarter turns.
type Geometry struct {
	RealWidth     int
	RealHeight    int
	VirtualWidth  int
	VirtualHeight int
	Rotation      int
}

// NewGeometry returns a 1:1 geometry for a portrait-normalized display.
func NewGeometry(width, height, rotation int) Geometry {
	return Geometry{
		RealWidth:     width,
		RealHeight:    height,
		VirtualWidth:  width,
		VirtualHeight: height,
		Rotation:      NormalizeRotation(rotation),
	}
}

// Scaled returns a copy whose virtual size is the real size times scale.
// Scales outside (0, 1] leave the geometry untouched.
func (g Geometry) Scaled(scale float64) Geometry {
	if scale <= 0 || scale >= 1 {
		return g
	}

	g.VirtualWidth = int(math.Round(float64(g.RealWidth) * scale))
	g.VirtualHeight = int(math.Round(float64(g.RealHeight) * scale))
	return g
}

// Degrees returns the rotation in degrees, one of 0, 90, 180, 270.
func (g Geometry) Degrees() int {
	return g.Rotation * 90
}

// String formats the geometry as minicap's -P argument: WxH@WxH/R.
func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d@%dx%d/%d", g.RealWidth, g.RealHeight, g.VirtualWidth, g.VirtualHeight, g.Degrees())
}

func (g Geometry) Validate() error {
	if g.RealWidth <= 0 || g.RealHeight <= 0 {
		return fmt.Errorf("invalid display size %dx%d", g.RealWidth, g.RealHeight)
	}
	if g.VirtualWidth <= 0 || g.VirtualHeight <= 0 {
		return fmt.Errorf("invalid projection size %dx%d", g.VirtualWidth, g.VirtualHeight)
	}
	if g.Rotation < 0 || g.Rotation > 3 {
		return fmt.Errorf("invalid rotation %d", g.Rotation)
	}
	return nil
}

// NormalizeRotation maps any number of quarter turns into 0..3.
func NormalizeRotation(quarterTurns int) int {
	return ((quarterTurns % 4) + 4) % 4
}

package commands

import (
	"context"
	"fmt"

	"github.com/mobile-next/droidcap/devices"
)

type ScreenCaptureRequest struct {
	DeviceID string  `json:"deviceId"`
	Format   string  `json:"format"`
	Quality  int     `json:"quality,omitempty"`
	Scale    float64 `json:"scale,omitempty"`
}

// ScreenCaptureCommand streams the screen as MJPEG to callback until ctx is
// done or callback returns false.
func ScreenCaptureCommand(ctx context.Context, req ScreenCaptureRequest, callback func([]byte) bool) error {
	if req.Format == "" {
		req.Format = "mjpeg"
	}
	if req.Format != "mjpeg" {
		return fmt.Errorf("format must be 'mjpeg' for screen capture")
	}

	if req.Scale < 0 || req.Scale > 1 {
		return fmt.Errorf("scale %g must be between 0 and 1", req.Scale)
	}

	targetDevice, err := FindDeviceOrAutoSelect(req.DeviceID)
	if err != nil {
		return fmt.Errorf("error finding device: %w", err)
	}

	opts := devices.CaptureOptions{
		Quality: req.Quality,
		Scale:   req.Scale,
	}
	if err := targetDevice.StartScreenCapture(ctx, opts, callback); err != nil {
		return fmt.Errorf("error during screen capture: %w", err)
	}
	return nil
}

type ScreenStatusRequest struct {
	DeviceID string `json:"deviceId"`
}

// ScreenStatusCommand reports the capture session of a device.
func ScreenStatusCommand(req ScreenStatusRequest) *CommandResponse {
	targetDevice, err := FindDeviceOrAutoSelect(req.DeviceID)
	if err != nil {
		return NewErrorResponse(fmt.Errorf("error finding device: %w", err))
	}

	status := targetDevice.ScreenStatus()
	if status == nil {
		return NewSuccessResponse(map[string]interface{}{
			"running": false,
		})
	}
	return NewSuccessResponse(status)
}

// FrameStreamCommand passes raw JPEG frames to fn until ctx is done or fn
// returns false.
func FrameStreamCommand(ctx context.Context, req ScreenCaptureRequest, fn func([]byte) bool) error {
	if req.Scale < 0 || req.Scale > 1 {
		return fmt.Errorf("scale %g must be between 0 and 1", req.Scale)
	}

	targetDevice, err := FindDeviceOrAutoSelect(req.DeviceID)
	if err != nil {
		return fmt.Errorf("error finding device: %w", err)
	}

	opts := devices.CaptureOptions{
		Quality: req.Quality,
		Scale:   req.Scale,
	}
	if err := targetDevice.StreamFrames(ctx, opts, fn); err != nil {
		return fmt.Errorf("error streaming frames: %w", err)
	}
	return nil
}

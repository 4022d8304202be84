package commands

import (
	"fmt"
)

// OrientationGetRequest represents the request for getting device orientation
type OrientationGetRequest struct {
	DeviceID string `json:"deviceId"`
}

// OrientationResponse represents the response containing orientation information
type OrientationResponse struct {
	Orientation string `json:"orientation"`
	Rotation    int    `json:"rotation"`
	Degrees     int    `json:"degrees"`
}

func orientationName(rotation int) string {
	if rotation%2 == 1 {
		return "landscape"
	}
	return "portrait"
}

// OrientationGetCommand gets the current device orientation
func OrientationGetCommand(req OrientationGetRequest) *CommandResponse {
	device, err := FindDeviceOrAutoSelect(req.DeviceID)
	if err != nil {
		return NewErrorResponse(err)
	}

	rotation, err := device.Orientation()
	if err != nil {
		return NewErrorResponse(fmt.Errorf("failed to get orientation: %w", err))
	}

	return NewSuccessResponse(OrientationResponse{
		Orientation: orientationName(rotation),
		Rotation:    rotation,
		Degrees:     rotation * 90,
	})
}

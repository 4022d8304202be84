package commands

import (
	"fmt"

	"github.com/mobile-next/droidcap/devices"
)

func InfoCommand(deviceID string) (*devices.FullDeviceInfo, error) {
	targetDevice, err := FindDeviceOrAutoSelect(deviceID)
	if err != nil {
		return nil, fmt.Errorf("error finding device: %w", err)
	}

	info, err := targetDevice.Info()
	if err != nil {
		return nil, fmt.Errorf("error getting device info: %w", err)
	}

	return info, nil
}

// PropertiesRequest selects one property, or all of them when Key is empty.
type PropertiesRequest struct {
	DeviceID string `json:"deviceId"`
	Key      string `json:"key,omitempty"`
}

func PropertiesCommand(req PropertiesRequest) *CommandResponse {
	targetDevice, err := FindDeviceOrAutoSelect(req.DeviceID)
	if err != nil {
		return NewErrorResponse(fmt.Errorf("error finding device: %w", err))
	}

	props, err := targetDevice.Properties()
	if err != nil {
		return NewErrorResponse(err)
	}

	if req.Key == "" {
		return NewSuccessResponse(map[string]interface{}{
			"properties": props,
		})
	}

	value, ok := props[req.Key]
	if !ok {
		return NewErrorResponse(fmt.Errorf("property %s is not set on device %s", req.Key, targetDevice.ID()))
	}

	return NewSuccessResponse(map[string]interface{}{
		"key":   req.Key,
		"value": value,
	})
}

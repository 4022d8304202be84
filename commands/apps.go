package commands

import (
	"fmt"
)

// AppRequest represents the parameters for app-related commands
type AppRequest struct {
	DeviceID    string `json:"deviceId"`
	PackageName string `json:"packageName"`
	// Clear wipes app data instead of only stopping the app.
	Clear bool `json:"clear,omitempty"`
}

// LaunchAppCommand launches an app on the specified device
func LaunchAppCommand(req AppRequest) *CommandResponse {
	if req.PackageName == "" {
		return NewErrorResponse(fmt.Errorf("package name is required"))
	}

	targetDevice, err := FindDeviceOrAutoSelect(req.DeviceID)
	if err != nil {
		return NewErrorResponse(fmt.Errorf("error finding device: %w", err))
	}

	err = targetDevice.LaunchApp(req.PackageName)
	if err != nil {
		return NewErrorResponse(fmt.Errorf("failed to launch app on device %s: %w", targetDevice.ID(), err))
	}

	return NewSuccessResponse(map[string]interface{}{
		"message": fmt.Sprintf("Launched app '%s' on device %s", req.PackageName, targetDevice.ID()),
	})
}

// TerminateAppCommand terminates an app on the specified device
func TerminateAppCommand(req AppRequest) *CommandResponse {
	if req.PackageName == "" {
		return NewErrorResponse(fmt.Errorf("package name is required"))
	}

	targetDevice, err := FindDeviceOrAutoSelect(req.DeviceID)
	if err != nil {
		return NewErrorResponse(fmt.Errorf("error finding device: %w", err))
	}

	err = targetDevice.TerminateApp(req.PackageName, req.Clear)
	if err != nil {
		return NewErrorResponse(fmt.Errorf("failed to terminate app on device %s: %w", targetDevice.ID(), err))
	}

	verb := "Terminated"
	if req.Clear {
		verb = "Cleared"
	}

	return NewSuccessResponse(map[string]interface{}{
		"message": fmt.Sprintf("%s app '%s' on device %s", verb, req.PackageName, targetDevice.ID()),
	})
}

// ListAppsCommand lists third party packages installed on the device
func ListAppsCommand(deviceID string) *CommandResponse {
	targetDevice, err := FindDeviceOrAutoSelect(deviceID)
	if err != nil {
		return NewErrorResponse(fmt.Errorf("error finding device: %w", err))
	}

	apps, err := targetDevice.ListApps()
	if err != nil {
		return NewErrorResponse(fmt.Errorf("failed to list apps on device %s: %w", targetDevice.ID(), err))
	}

	return NewSuccessResponse(apps)
}

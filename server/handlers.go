package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mobile-next/droidcap/commands"
)

// DeviceParams selects a device; an empty ID picks the configured or only device.
type DeviceParams struct {
	DeviceID string `json:"deviceId"`
}

// ScreenshotParams represents the parameters for the screenshot request
type ScreenshotParams struct {
	DeviceID string `json:"deviceId"`
	Format   string `json:"format,omitempty"`  // "png" or "jpeg"
	Quality  int    `json:"quality,omitempty"` // 1-100, only used for JPEG
}

// decodeParams unmarshals params into v. Missing params leave v untouched.
func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("invalid parameters: %v", err)
	}
	return nil
}

// result unwraps a command response into a JSON-RPC result.
func result(response *commands.CommandResponse) (interface{}, error) {
	if response.Status == "error" {
		return nil, fmt.Errorf("%s", response.Error)
	}
	return response.Data, nil
}

// DevicesParams asks for offline emulators as well.
type DevicesParams struct {
	All bool `json:"all"`
}

func handleDevicesList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p DevicesParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return result(commands.DevicesCommand(p.All))
}

func handleDeviceInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p DeviceParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	info, err := commands.InfoCommand(p.DeviceID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"device": info}, nil
}

func handleDeviceProperties(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req commands.PropertiesRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	return result(commands.PropertiesCommand(req))
}

func handleDeviceOrientation(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req commands.OrientationGetRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	return result(commands.OrientationGetCommand(req))
}

func decodeAppRequest(params json.RawMessage) (commands.AppRequest, error) {
	var req commands.AppRequest
	if len(params) == 0 {
		return req, fmt.Errorf("'params' is required with fields: deviceId, packageName")
	}
	if err := decodeParams(params, &req); err != nil {
		return req, fmt.Errorf("%v. Expected fields: deviceId, packageName", err)
	}
	return req, nil
}

func handleAppsLaunch(ctx context.Context, params json.RawMessage) (interface{}, error) {
	req, err := decodeAppRequest(params)
	if err != nil {
		return nil, err
	}
	return result(commands.LaunchAppCommand(req))
}

func handleAppsTerminate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	req, err := decodeAppRequest(params)
	if err != nil {
		return nil, err
	}
	return result(commands.TerminateAppCommand(req))
}

func handleAppsList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p DeviceParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return result(commands.ListAppsCommand(p.DeviceID))
}

func handleScreenshot(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var screenshotParams ScreenshotParams
	if err := decodeParams(params, &screenshotParams); err != nil {
		return nil, err
	}

	req := commands.ScreenshotRequest{
		DeviceID:   screenshotParams.DeviceID,
		Format:     screenshotParams.Format,
		Quality:    screenshotParams.Quality,
		OutputPath: "-", // always return base64 data for server
	}

	response := commands.ScreenshotCommand(ctx, req)
	if response.Status == "error" {
		return nil, fmt.Errorf("%s", response.Error)
	}

	if screenshotResp, ok := response.Data.(commands.ScreenshotResponse); ok {
		return map[string]interface{}{
			"format": screenshotResp.Format,
			"data":   fmt.Sprintf("data:image/%s;base64,%s", screenshotResp.Format, screenshotResp.Data),
		}, nil
	}

	return nil, fmt.Errorf("unexpected response format")
}

func handleScreenStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req commands.ScreenStatusRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	return result(commands.ScreenStatusCommand(req))
}

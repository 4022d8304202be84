package server

import (
	"context"
	"encoding/json"
	"fmt"
)

// HandlerFunc is the signature for non-streaming JSON-RPC method handlers
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// GetMethodRegistry returns a map of method names to handler functions
// This is used by both the HTTP server and embedded clients
func GetMethodRegistry() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		"devices":            handleDevicesList,
		"device.info":        handleDeviceInfo,
		"device.properties":  handleDeviceProperties,
		"device.orientation": handleDeviceOrientation,
		"apps.launch":        handleAppsLaunch,
		"apps.terminate":     handleAppsTerminate,
		"apps.list":          handleAppsList,
		"screenshot":         handleScreenshot,
		"screen.status":      handleScreenStatus,
	}
}

// Execute dispatches a method call using the registry
// This is the main entry point for embedded clients
func Execute(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	registry := GetMethodRegistry()

	handler, exists := registry[method]
	if !exists {
		return nil, fmt.Errorf("method not found: %s", method)
	}

	return handler(ctx, params)
}

package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mobile-next/droidcap/config"
	"github.com/mobile-next/droidcap/devices"
	"github.com/mobile-next/droidcap/utils"
)

// deviceCacheSize bounds how many devices keep helper processes alive at once.
const deviceCacheSize = 16

// CommandResponse represents a standardized response format for all commands
type CommandResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data interface{}) *CommandResponse {
	return &CommandResponse{
		Status: "ok",
		Data:   data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err error) *CommandResponse {
	return &CommandResponse{
		Status: "error",
		Error:  err.Error(),
	}
}

var (
	stateMu        sync.RWMutex
	currentConfig  = config.Default()
	deviceRegistry *devices.DeviceRegistry
	shutdownHook   *devices.ShutdownHook

	// listDevices is replaced in tests.
	listDevices = devices.GetAllControllableDevices

	deviceCache = newDeviceCache()
)

// newDeviceCache keeps recently used devices. A device pushed out of the
// cache has its capture daemons and forwards torn down.
func newDeviceCache() *lru.Cache[string, devices.ControllableDevice] {
	cache, err := lru.NewWithEvict(deviceCacheSize, func(id string, d devices.ControllableDevice) {
		utils.Verbose("Evicting device %s from cache", id)
		if registry := GetRegistry(); registry != nil {
			registry.Unregister(id)
			return
		}
		if err := d.Cleanup(); err != nil {
			utils.Verbose("Error cleaning up device %s: %v", id, err)
		}
	})
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return cache
}

// SetConfig sets the configuration used to reach adb and start capture.
func SetConfig(cfg config.Config) {
	stateMu.Lock()
	defer stateMu.Unlock()
	currentConfig = cfg
}

func GetConfig() config.Config {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return currentConfig
}

// SetRegistry sets the registry that tracks devices for cleanup on shutdown.
func SetRegistry(registry *devices.DeviceRegistry) {
	stateMu.Lock()
	defer stateMu.Unlock()
	deviceRegistry = registry
}

func GetRegistry() *devices.DeviceRegistry {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return deviceRegistry
}

func SetShutdownHook(hook *devices.ShutdownHook) {
	stateMu.Lock()
	defer stateMu.Unlock()
	shutdownHook = hook
}

func GetShutdownHook() *devices.ShutdownHook {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return shutdownHook
}

// PurgeDevices drops every cached device, cleaning each one up.
func PurgeDevices() {
	deviceCache.Purge()
}

// remember caches device unless another caller already cached one with the
// same ID, in which case that one wins and device is discarded.
func remember(device devices.ControllableDevice) devices.ControllableDevice {
	if cached, ok, _ := deviceCache.PeekOrAdd(device.ID(), device); ok {
		if cached != device {
			if err := device.Cleanup(); err != nil {
				utils.Verbose("Error cleaning up duplicate device %s: %v", device.ID(), err)
			}
		}
		return cached
	}

	if registry := GetRegistry(); registry != nil {
		registry.Register(device)
	}
	return device
}

// FindDevice finds a device by ID, using cache when possible
func FindDevice(deviceID string) (devices.ControllableDevice, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device ID is required")
	}

	if device, ok := deviceCache.Get(deviceID); ok {
		return device, nil
	}

	allDevices, err := listDevices(context.Background(), GetConfig())
	if err != nil {
		return nil, fmt.Errorf("error getting devices: %w", err)
	}

	for _, d := range allDevices {
		if d.ID() == deviceID {
			return remember(d), nil
		}
	}

	return nil, fmt.Errorf("device not found: %s", deviceID)
}

// FindDeviceOrAutoSelect finds a device by ID. Without an ID the configured
// serial is used, and failing that the only connected device.
func FindDeviceOrAutoSelect(deviceID string) (devices.ControllableDevice, error) {
	if deviceID == "" {
		deviceID = GetConfig().Adb.Serial
	}
	if deviceID != "" {
		return FindDevice(deviceID)
	}

	allDevices, err := listDevices(context.Background(), GetConfig())
	if err != nil {
		return nil, fmt.Errorf("error getting devices: %w", err)
	}

	if len(allDevices) == 0 {
		return nil, fmt.Errorf("no online devices found")
	}

	if len(allDevices) > 1 {
		return nil, fmt.Errorf("multiple devices found (%d), please specify --device with one of: %s", len(allDevices), getDeviceIDList(allDevices))
	}

	return remember(allDevices[0]), nil
}

// getDeviceIDList returns a comma-separated list of device IDs for error messages
func getDeviceIDList(devices []devices.ControllableDevice) string {
	var ids []string
	for _, d := range devices {
		ids = append(ids, d.ID())
	}
	return fmt.Sprintf("[%s]", strings.Join(ids, ", "))
}

package devices

import (
	"sort"
	"sync"

	"github.com/mobile-next/droidcap/utils"
)

// DeviceRegistry tracks devices that own helper processes so they can be
// torn down on shutdown.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]ControllableDevice
}

// NewDeviceRegistry creates a new device registry instance
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]ControllableDevice),
	}
}

// Register adds a device to the registry for cleanup tracking
func (r *DeviceRegistry) Register(device ControllableDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[device.ID()] = device
}

// Unregister cleans up a single device and forgets it.
func (r *DeviceRegistry) Unregister(id string) {
	r.mu.Lock()
	device, ok := r.devices[id]
	delete(r.devices, id)
	r.mu.Unlock()

	if ok {
		if err := device.Cleanup(); err != nil {
			utils.Verbose("Error cleaning up device %s: %v", id, err)
		}
	}
}

func (r *DeviceRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CleanupAll gracefully cleans up all registered devices
func (r *DeviceRegistry) CleanupAll() {
	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[string]ControllableDevice)
	r.mu.Unlock()

	for id, device := range devices {
		if err := device.Cleanup(); err != nil {
			utils.Verbose("Error cleaning up device %s: %v", id, err)
		}
	}
}

package commands

import (
	"context"

	"github.com/mobile-next/droidcap/devices"
)

// DevicesCommand lists all connected devices. With showAll, AVDs on this
// machine that are not running are listed as offline.
func DevicesCommand(showAll bool) *CommandResponse {
	all, err := listDevices(context.Background(), GetConfig())
	if err != nil {
		return NewErrorResponse(err)
	}

	deviceInfoList := make([]devices.DeviceInfo, 0, len(all))
	for _, d := range all {
		deviceInfoList = append(deviceInfoList, devices.DeviceInfo{
			ID:       d.ID(),
			Name:     d.Name(),
			Platform: d.Platform(),
			Type:     d.DeviceType(),
			State:    "online",
		})
	}

	if showAll {
		deviceInfoList = append(deviceInfoList, devices.OfflineEmulators(all)...)
	}

	return NewSuccessResponse(map[string]interface{}{
		"devices": deviceInfoList,
	})
}

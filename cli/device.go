package cli

import (
	"github.com/mobile-next/droidcap/commands"
	"github.com/spf13/cobra"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Device inspection commands",
	Long:  `Commands for inspecting a single device: info, system properties, orientation and capture status.`,
}

var deviceInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Get device info",
	Long:  `Get detailed information about a connected device, such as model, Android version and screen size.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := commands.InfoCommand(deviceId)
		if err != nil {
			return printResponse(commands.NewErrorResponse(err))
		}
		return printResponse(commands.NewSuccessResponse(map[string]interface{}{
			"device": info,
		}))
	},
}

var devicePropertiesCmd = &cobra.Command{
	Use:   "properties [key]",
	Short: "Read system properties",
	Long:  `Prints all getprop properties of the device, or a single one when a key is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := commands.PropertiesRequest{
			DeviceID: deviceId,
			Key:      propertyKey,
		}
		if len(args) == 1 {
			req.Key = args[0]
		}
		return printResponse(commands.PropertiesCommand(req))
	},
}

var deviceOrientationCmd = &cobra.Command{
	Use:   "orientation",
	Short: "Get the current screen rotation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResponse(commands.OrientationGetCommand(commands.OrientationGetRequest{
			DeviceID: deviceId,
		}))
	},
}

var deviceScreenStatusCmd = &cobra.Command{
	Use:   "screen-status",
	Short: "Show the state of the capture session",
	Long:  `Shows the minicap session, geometry, rotation and frame counters of a device. Sessions only live as long as the process that started them, so this is mostly useful against a running server.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResponse(commands.ScreenStatusCommand(commands.ScreenStatusRequest{
			DeviceID: deviceId,
		}))
	},
}

func init() {
	rootCmd.AddCommand(deviceCmd)

	deviceCmd.AddCommand(deviceInfoCmd)
	deviceCmd.AddCommand(devicePropertiesCmd)
	deviceCmd.AddCommand(deviceOrientationCmd)
	deviceCmd.AddCommand(deviceScreenStatusCmd)

	devicePropertiesCmd.Flags().StringVar(&propertyKey, "key", "", "property to read, e.g. ro.product.model")
}

package cli

import (
	"github.com/mobile-next/droidcap/commands"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List connected devices",
	Long:  `List all Android devices and emulators that adb reports as online. With --all, AVDs that are not running are listed too.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResponse(commands.DevicesCommand(showAllDevices))
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().BoolVar(&showAllDevices, "all", false, "show all devices including offline emulators")
}

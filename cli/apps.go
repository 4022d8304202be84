package cli

import (
	"github.com/mobile-next/droidcap/commands"
	"github.com/spf13/cobra"
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage applications on devices",
	Long:  `Launch, terminate, and list applications on connected devices.`,
}

var appsLaunchCmd = &cobra.Command{
	Use:   "launch [package]",
	Short: "Launch an app on a device",
	Long:  `Launches an app on the specified device using its package name (e.g., "com.example.app").`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResponse(commands.LaunchAppCommand(commands.AppRequest{
			DeviceID:    deviceId,
			PackageName: args[0],
		}))
	},
}

var appsTerminateCmd = &cobra.Command{
	Use:   "terminate [package]",
	Short: "Terminate an app on a device",
	Long:  `Force-stops an app on the specified device. With --clear the app data is wiped as well.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResponse(commands.TerminateAppCommand(commands.AppRequest{
			DeviceID:    deviceId,
			PackageName: args[0],
			Clear:       terminateClear,
		}))
	},
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed apps on a device",
	Long:  `Lists third party packages installed on the specified device.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResponse(commands.ListAppsCommand(deviceId))
	},
}

func init() {
	rootCmd.AddCommand(appsCmd)

	appsCmd.AddCommand(appsLaunchCmd)
	appsCmd.AddCommand(appsTerminateCmd)
	appsCmd.AddCommand(appsListCmd)

	appsTerminateCmd.Flags().BoolVar(&terminateClear, "clear", false, "clear app data instead of only stopping the app")
}

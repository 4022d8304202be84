package cli

import (
	"github.com/mobile-next/droidcap/commands"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run system diagnostics",
	Long:  `Reports the adb installation and, per device, whether minicap and the rotation watcher are installed.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResponse(commands.DoctorCommand(GetVersion()))
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mobile-next/droidcap/commands"
	"github.com/mobile-next/droidcap/config"
	"github.com/mobile-next/droidcap/utils"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X github.com/mobile-next/droidcap/cli.version=..."
var version = "dev"

func GetVersion() string {
	return version
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "droidcap",
	Short: "Android screen capture over adb and minicap",
	Long: `droidcap drives an Android device over adb, runs minicap and the rotation
watcher on the device, and publishes the decoded screen as screenshots,
an MJPEG stream or over a JSON-RPC server.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// loadConfig layers CLI flags over the file and environment configuration
// and hands the result to the commands package.
func loadConfig(cmd *cobra.Command, args []string) error {
	utils.SetVerbose(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Adb.Serial = deviceId
	}
	if flags.Changed("adb") {
		cfg.Adb.Path = adbPath
	}
	if flags.Changed("adb-host") {
		cfg.Adb.Host = adbHost
	}
	if flags.Changed("adb-port") {
		cfg.Adb.Port = adbPort
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	commands.SetConfig(cfg)
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.StringVar(&configPath, "config", "", fmt.Sprintf("path to config file (default %s)", config.DefaultPath))
	flags.StringVarP(&deviceId, "device", "s", "", "serial of the device to use (defaults to ANDROID_SERIAL or the only device)")
	flags.StringVar(&adbPath, "adb", "", "path to the adb binary")
	flags.StringVarP(&adbHost, "adb-host", "H", "", "host of the adb server")
	flags.IntVarP(&adbPort, "adb-port", "P", 0, "port of the adb server")
}

// Execute runs the root command. Cancelling ctx stops long running
// commands such as screencapture and server start.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// printJson is a helper function to print JSON responses
func printJson(data interface{}) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		utils.Logger().Fatal(err)
	}
	fmt.Println(string(jsonData))
}

// printResponse prints a command response and turns an error status into an error.
func printResponse(response *commands.CommandResponse) error {
	printJson(response)
	if response.Status == "error" {
		return fmt.Errorf("%s", response.Error)
	}
	return nil
}

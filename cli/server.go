package cli

import (
	"fmt"

	"github.com/mobile-next/droidcap/commands"
	"github.com/mobile-next/droidcap/daemon"
	"github.com/mobile-next/droidcap/server"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Server management commands",
	Long:  `Commands for managing the droidcap JSON-RPC server.`,
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the droidcap server",
	Long:  `Starts the JSON-RPC server. It serves /rpc, /ws, the /frames stream and /metrics.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := commands.GetConfig().Server

		// GetBool/GetString cannot fail for defined flags
		flags := cmd.Flags()
		if flags.Changed("listen") {
			cfg.Listen, _ = flags.GetString("listen")
		}
		if flags.Changed("cors") {
			cfg.CORS, _ = flags.GetBool("cors")
		}
		isDaemon, _ := flags.GetBool("daemon")
		logFile, _ := flags.GetString("log-file")

		if isDaemon && !daemon.IsChild() {
			_, err := daemon.Daemonize(logFile)
			if err != nil {
				return fmt.Errorf("failed to start daemon: %w", err)
			}

			fmt.Printf("Server daemon spawned, attempting to listen on %s\n", cfg.Listen)
			return nil
		}

		return server.StartServer(cmd.Context(), cfg)
	},
}

var serverKillCmd = &cobra.Command{
	Use:   "kill",
	Short: "Stop the daemonized droidcap server",
	Long:  `Connects to the server and sends a shutdown command via JSON-RPC.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := commands.GetConfig().Server.Listen
		if cmd.Flags().Changed("listen") {
			addr, _ = cmd.Flags().GetString("listen")
		}

		if err := daemon.KillServer(addr); err != nil {
			return err
		}

		fmt.Printf("Server shutdown command sent successfully\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverKillCmd)

	serverStartCmd.Flags().String("listen", "", "Address to listen on (e.g., 'localhost:12000' or '0.0.0.0:13000'); defaults to [server] listen")
	serverStartCmd.Flags().Bool("cors", false, "Enable CORS support")
	serverStartCmd.Flags().BoolP("daemon", "d", false, "Run server in daemon mode (background)")
	serverStartCmd.Flags().String("log-file", "", "File the daemon writes its log to")

	serverKillCmd.Flags().String("listen", "", "Address of server to kill; defaults to [server] listen")
}

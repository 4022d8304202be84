package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mobile-next/droidcap/cli"
	"github.com/mobile-next/droidcap/commands"
	"github.com/mobile-next/droidcap/devices"
)

// cleanupTimeout bounds how long device teardown may hold up exit.
const cleanupTimeout = 10 * time.Second

func main() {
	// create device registry for cleanup tracking
	registry := devices.NewDeviceRegistry()
	commands.SetRegistry(registry)

	hook := devices.NewShutdownHook()
	hook.Register("devices", func() error {
		registry.CleanupAll()
		return nil
	})
	commands.SetShutdownHook(hook)

	// SIGINT/SIGTERM cancel the running command; a second signal exits at once
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := cli.Execute(ctx)
	stop()

	// minicap and the rotation watcher must not outlive us
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	if shutdownErr := hook.Shutdown(shutdownCtx); shutdownErr != nil {
		fmt.Fprintln(os.Stderr, shutdownErr)
	}
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/recite/internal/mirror"
	"github.com/mschirtzinger/recite/internal/ui"
)

var mirrorPort int

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Run a mirror server for multi-device sync",
	Long: `Run the record mirror that recite clients sync against.

The mirror keeps the latest record per (user, key) and pushes updates to
subscribed clients over WebSocket. It holds records in memory; clients
are the durable copy and re-push on reconnect.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[mirror] ")
		config := mirror.DefaultConfig()
		config.Port = mirrorPort
		config.Logger = logger

		srv := mirror.NewServer(config)
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting mirror: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Mirror listening on %s (Ctrl+C to stop)\n", ui.RenderAccent("▸"), srv.Addr())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	mirrorCmd.Flags().IntVar(&mirrorPort, "port", 8484, "port to listen on (0 picks an ephemeral port)")
	rootCmd.AddCommand(mirrorCmd)
}

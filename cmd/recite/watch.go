package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/recite/internal/ingest"
	"github.com/mschirtzinger/recite/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch DIR",
	Short: "Import parsed documents from a directory as they appear",
	Long: `Watch a directory for parsed document files (.json, .yaml, .yml) and
import each one into the store as it is created or modified.

Everything already in the directory is imported on startup. File events
are debounced, so an editor writing a file in several chunks produces a
single import. Runs until interrupted.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[watch] ")
		s, err := openStore(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()

		blob := loadState(s, logger)

		importFn := func(pd *ingest.ParsedDocument) error {
			doc, err := ingest.Build(pd, time.Now())
			if err != nil {
				return fmt.Errorf("failed to build document: %w", err)
			}
			blob.PutDocument(doc)
			if blob.Selected == "" {
				blob.Selected = doc.ID
			}
			if err := s.Save(blob); err != nil {
				return fmt.Errorf("failed to save state: %w", err)
			}
			logger.Printf("Imported %s (%d units)", doc.ID, len(doc.Units))
			return nil
		}

		config := ingest.DefaultWatcherConfig()
		config.Logger = logger
		w, err := ingest.NewWatcher(args[0], importFn, config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating watcher: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Watching %s (Ctrl+C to stop)\n", ui.RenderAccent("▸"), args[0])
		if err := w.Start(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Error: watcher failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/recite/internal/mirror"
	"github.com/mschirtzinger/recite/internal/state"
	"github.com/mschirtzinger/recite/internal/store"
	"github.com/mschirtzinger/recite/internal/sync"
	"github.com/mschirtzinger/recite/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile local progress with the mirror",
	Long: `Reconcile the local store with a recite mirror server.

Requires --mirror-url and --user (or the matching config keys). Remote
records only replace local state when their timestamp is strictly newer
than the last local write for the same key; echoes of our own writes
are dropped.`,
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch all remote records and apply the newer ones",
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[sync] ")
		s, blob, rec := mustReconciler(logger)
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		applied, err := rec.PullAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error pulling from mirror: %v\n", err)
			os.Exit(1)
		}
		if err := s.Save(blob); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving state: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Applied %d remote record(s)\n", ui.RenderPass("✓"), applied)
	},
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push all graded local review progress to the mirror",
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[sync] ")
		s, blob, rec := mustReconciler(logger)
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		pushed, failed := 0, 0
		for docID, units := range blob.Reviews {
			for _, rs := range units {
				// Seeded defaults carry no progress; pushing them would
				// outrank real remote progress by server timestamp.
				if !rs.Reviewed() {
					continue
				}
				if err := rec.PushReviewState(ctx, docID, rs); err != nil {
					logger.Printf("Warning: %v", err)
					failed++
					continue
				}
				pushed++
			}
		}
		if failed > 0 {
			fmt.Printf("%s Pushed %d record(s), %d failed\n", ui.RenderWarn("⚠"), pushed, failed)
			os.Exit(1)
		}
		fmt.Printf("%s Pushed %d record(s)\n", ui.RenderPass("✓"), pushed)
	},
}

var syncLiveCmd = &cobra.Command{
	Use:   "live",
	Short: "Pull once, then apply remote updates as they arrive",
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[sync] ")
		s, blob, rec := mustReconciler(logger)
		defer s.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if applied, err := rec.PullAll(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error pulling from mirror: %v\n", err)
			os.Exit(1)
		} else if applied > 0 {
			logger.Printf("Applied %d remote record(s) on startup", applied)
		}

		// Coalesce bursts of remote updates into one save.
		deb := sync.NewDebouncer(500*time.Millisecond, func() {
			if err := s.Save(blob); err != nil {
				logger.Printf("Warning: failed to save state: %v", err)
			}
		})
		defer deb.Stop()
		rec.SetOnApply(func() { deb.Trigger() })

		fmt.Printf("%s Live sync with %s (Ctrl+C to stop)\n", ui.RenderAccent("▸"), viper.GetString("mirror-url"))
		if err := rec.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Error: subscription failed: %v\n", err)
			os.Exit(1)
		}
		if err := s.Save(blob); err != nil {
			logger.Printf("Warning: failed to save state on shutdown: %v", err)
		}
	},
}

// newReconciler wires a reconciler against the configured mirror, or
// returns nil when no mirror is configured. Applied records mutate blob
// in place; persisting is the caller's concern.
func newReconciler(blob *state.Blob, s *store.Store, logger *log.Logger) *sync.Reconciler {
	url := viper.GetString("mirror-url")
	user := viper.GetString("user")
	if url == "" || user == "" {
		return nil
	}
	client := mirror.NewClient(url)
	return sync.New(client, user, nil, func(rec state.Record) error {
		return blob.ApplyRecord(rec)
	}, logger)
}

// mustReconciler is newReconciler for commands where sync is the whole
// point: missing configuration is fatal.
func mustReconciler(logger *log.Logger) (*store.Store, *state.Blob, *sync.Reconciler) {
	s, err := openStore(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	blob := loadState(s, logger)
	rec := newReconciler(blob, s, logger)
	if rec == nil {
		s.Close()
		fmt.Fprintln(os.Stderr, "Error: sync requires --mirror-url and --user (or the config keys mirror-url and user)")
		os.Exit(1)
	}
	return s, blob, rec
}

func init() {
	syncCmd.AddCommand(syncPullCmd)
	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncLiveCmd)
	rootCmd.AddCommand(syncCmd)
}

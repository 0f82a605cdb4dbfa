package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/recite/internal/ui"
)

var masterClear bool

var masterCmd = &cobra.Command{
	Use:   "master DOC UNIT",
	Short: "Mark a unit mastered (or clear the flag with --clear)",
	Long: `Set a unit's mastered flag by hand, outside the scheduler.

Mastery normally comes from three consecutive strong reviews; this toggle
exists for content the learner already knows cold. The next failing
review clears the flag again either way.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[master] ")
		s, err := openStore(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()

		blob := loadState(s, logger)
		docID, unitID := args[0], args[1]
		rs := blob.ReviewFor(docID, unitID)
		if rs == nil {
			fmt.Fprintf(os.Stderr, "Error: unit %q not found in %q\n", unitID, docID)
			os.Exit(1)
		}

		rs.Mastered = !masterClear
		if err := s.Save(blob); err != nil {
			logger.Printf("Warning: failed to save state: %v", err)
		}

		if masterClear {
			fmt.Printf("%s %s no longer mastered\n", ui.RenderWarn("○"), unitID)
		} else {
			fmt.Printf("%s %s marked mastered\n", ui.RenderAccent("★"), unitID)
		}

		if rec := newReconciler(blob, s, logger); rec != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := rec.PushReviewState(ctx, docID, rs); err != nil {
				logger.Printf("Warning: %v", err)
			}
			if groups := viper.GetStringSlice("groups"); len(groups) > 0 {
				if err := rec.PushFanout(ctx, groups, docID, rs); err != nil {
					logger.Printf("Warning: %v", err)
				}
			}
		}
	},
}

func init() {
	masterCmd.Flags().BoolVar(&masterClear, "clear", false, "clear the mastered flag instead of setting it")
	rootCmd.AddCommand(masterCmd)
}

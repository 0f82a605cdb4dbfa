package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/recite/internal/srs"
	"github.com/mschirtzinger/recite/internal/state"
	"github.com/mschirtzinger/recite/internal/ui"
)

var reviewScore float64

var reviewCmd = &cobra.Command{
	Use:   "review [DOC] [UNIT]",
	Short: "Grade a recall attempt and reschedule the unit",
	Long: `Record a graded review for a content unit.

The score is a recall-quality value in [0,1], normally produced by the
scoring subsystem that diffs the typed recall against the source text.
With --score it is taken from the flag; otherwise an interactive prompt
asks for it. Out-of-range input is clamped before scheduling.

A strong score grows the review interval; a shaky one halves it; a
failing one resets progress, records a lapse, and suppresses the unit
for a cooldown. The updated state is saved locally first and then pushed
to the mirror (and fanned out to any configured groups) best-effort;
sync failure never reverts the local result.`,
	Args: cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[review] ")
		s, err := openStore(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()

		blob := loadState(s, logger)

		docID := blob.Selected
		if len(args) > 0 {
			docID = args[0]
		}
		doc, ok := blob.Documents[docID]
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: document %q not found (run 'recite import' first)\n", docID)
			os.Exit(1)
		}

		unitID := pickUnit(blob, doc, args)
		if unitID == "" {
			fmt.Printf("%s Nothing to review in %s right now\n", ui.RenderWarn("⚠"), doc.Title)
			return
		}
		rs := blob.ReviewFor(docID, unitID)
		if rs == nil {
			fmt.Fprintf(os.Stderr, "Error: unit %q not found in %s\n", unitID, docID)
			os.Exit(1)
		}

		score := reviewScore
		if !cmd.Flags().Changed("score") {
			score, err = promptScore(unitID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading score: %v\n", err)
				os.Exit(1)
			}
		}
		// The scheduler's contract is a score in [0,1]; clamping is the
		// caller's job.
		score = clamp01(score)

		now := time.Now()
		next := srs.AdvanceWith(schedulerParams(), *rs, score, now)
		blob.SetReview(docID, &next)
		stats, ok := blob.Stats[docID]
		if !ok {
			stats = &state.DocumentStats{}
			blob.Stats[docID] = stats
		}
		stats.Touch(now)
		blob.Selected = docID
		blob.Active[docID] = unitID

		if err := s.Save(blob); err != nil {
			// Best effort; the in-memory result is still reported.
			logger.Printf("Warning: failed to save state: %v", err)
		}

		printOutcome(unitID, score, &next)

		// Push after the local save: local progress is authoritative.
		if rec := newReconciler(blob, s, logger); rec != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := rec.PushReviewState(ctx, docID, &next); err != nil {
				logger.Printf("Warning: %v", err)
			}
			if groups := viper.GetStringSlice("groups"); len(groups) > 0 {
				if err := rec.PushFanout(ctx, groups, docID, &next); err != nil {
					logger.Printf("Warning: %v", err)
				}
			}
		}
	},
}

// pickUnit resolves which unit to review: an explicit argument, the
// document's active unit if due, otherwise the first due unit.
func pickUnit(blob *state.Blob, doc *state.Document, args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	now := time.Now()
	if active, ok := blob.Active[doc.ID]; ok {
		if rs := blob.ReviewFor(doc.ID, active); rs != nil && srs.Due(rs, now) {
			return active
		}
	}
	for _, u := range doc.Units {
		if rs := blob.ReviewFor(doc.ID, u.ID); rs != nil && srs.Due(rs, now) {
			return u.ID
		}
	}
	return ""
}

// promptScore asks for a recall score interactively.
func promptScore(unitID string) (float64, error) {
	var raw string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(fmt.Sprintf("Recall score for %s", unitID)).
			Description("0 = no recall, 1 = perfect").
			Value(&raw).
			Validate(func(s string) error {
				_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
				if err != nil {
					return fmt.Errorf("enter a number between 0 and 1")
				}
				return nil
			}),
	))
	if err := form.Run(); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

func printOutcome(unitID string, score float64, rs *state.ReviewState) {
	switch {
	case rs.SuppressedUntil != nil:
		fmt.Printf("%s %s failed (%.2f): progress reset, suppressed until %s\n",
			ui.RenderFail("✗"), unitID, score, rs.SuppressedUntil.Format("Jan 2 15:04"))
	case rs.Mastered:
		fmt.Printf("%s %s mastered (%.2f): next review in %d days\n",
			ui.RenderAccent("★"), unitID, score, rs.IntervalDays)
	default:
		fmt.Printf("%s %s scored %.2f: next review in %d days (ease %.2f)\n",
			ui.RenderPass("✓"), unitID, score, rs.IntervalDays, rs.Ease)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func init() {
	reviewCmd.Flags().Float64Var(&reviewScore, "score", 0, "recall score in [0,1] (skips the prompt)")
	rootCmd.AddCommand(reviewCmd)
}

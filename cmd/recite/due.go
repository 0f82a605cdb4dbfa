package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/recite/internal/srs"
	"github.com/mschirtzinger/recite/internal/ui"
)

var dueCmd = &cobra.Command{
	Use:   "due [DOC]",
	Short: "List units due for review",
	Long: `List every content unit whose next review time has passed.

Suppressed units (recently failed, inside their cooldown window) are
listed separately and cannot be reviewed until the window expires.
With a DOC argument only that document is considered.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[due] ")
		s, err := openStore(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()

		blob := loadState(s, logger)
		now := time.Now()

		docIDs := make([]string, 0, len(blob.Documents))
		for id := range blob.Documents {
			if len(args) > 0 && id != args[0] {
				continue
			}
			docIDs = append(docIDs, id)
		}
		if len(args) > 0 && len(docIDs) == 0 {
			fmt.Fprintf(os.Stderr, "Error: document %q not found\n", args[0])
			os.Exit(1)
		}
		sort.Strings(docIDs)

		totalDue := 0
		for _, docID := range docIDs {
			doc := blob.Documents[docID]
			var due, suppressed []string
			for _, u := range doc.Units {
				rs := blob.ReviewFor(docID, u.ID)
				if rs == nil {
					continue
				}
				switch {
				case srs.Suppressed(rs, now):
					suppressed = append(suppressed, u.ID)
				case srs.Due(rs, now):
					due = append(due, u.ID)
				}
			}
			if len(due) == 0 && len(suppressed) == 0 {
				continue
			}
			fmt.Printf("%s %s\n", ui.RenderAccent(doc.Title), ui.RenderDim("("+docID+")"))
			for _, id := range due {
				fmt.Printf("  %s %s\n", ui.RenderWarn("●"), id)
			}
			for _, id := range suppressed {
				rs := blob.ReviewFor(docID, id)
				fmt.Printf("  %s %s %s\n", ui.RenderDim("◌"), id,
					ui.RenderDim("suppressed until "+rs.SuppressedUntil.Format("Jan 2 15:04")))
			}
			totalDue += len(due)
		}

		if totalDue == 0 {
			fmt.Printf("%s Nothing due\n", ui.RenderPass("✓"))
			return
		}
		fmt.Printf("\n%d unit(s) due\n", totalDue)
	},
}

func init() {
	rootCmd.AddCommand(dueCmd)
}

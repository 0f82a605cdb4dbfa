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

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress across all documents",
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[status] ")
		s, err := openStore(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()

		blob := loadState(s, logger)
		if len(blob.Documents) == 0 {
			fmt.Printf("%s No documents imported yet (run 'recite import')\n", ui.RenderDim("·"))
			return
		}

		now := time.Now()
		docIDs := make([]string, 0, len(blob.Documents))
		for id := range blob.Documents {
			docIDs = append(docIDs, id)
		}
		sort.Strings(docIDs)

		for _, docID := range docIDs {
			doc := blob.Documents[docID]
			mastered, due, total := 0, 0, len(doc.Units)
			for _, u := range doc.Units {
				rs := blob.ReviewFor(docID, u.ID)
				if rs == nil {
					continue
				}
				if rs.Mastered {
					mastered++
				}
				if srs.Due(rs, now) {
					due++
				}
			}

			marker := " "
			if docID == blob.Selected {
				marker = ui.RenderAccent("▸")
			}
			line := fmt.Sprintf("%s %s: %d/%d mastered", marker, doc.Title, mastered, total)
			if due > 0 {
				line += ui.RenderWarn(fmt.Sprintf(", %d due", due))
			}
			if stats, ok := blob.Stats[docID]; ok && stats.Streak > 0 {
				line += ui.RenderDim(fmt.Sprintf(" · %d-day streak", stats.Streak))
			}
			fmt.Println(line)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/recite/internal/ingest"
	"github.com/mschirtzinger/recite/internal/ui"
)

var importCmd = &cobra.Command{
	Use:   "import FILE...",
	Short: "Import parsed documents into the local store",
	Long: `Import one or more parsed-document files (.json, .yaml, .yml).

Each file must contain the parser output: a title, optional qualifiers,
and ordered units of body/label items. Document and unit identifiers are
derived from the content, so importing the same file on another device
produces identical ids; review progress keyed by either import's ids is
addressable by the other. Re-importing a document replaces its text but
keeps the review history of units that still exist.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[import] ")
		s, err := openStore(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()

		blob := loadState(s, logger)
		now := time.Now()

		imported := 0
		for _, path := range args {
			pd, err := ingest.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), path, err)
				continue
			}
			doc, err := ingest.Build(pd, now)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), path, err)
				continue
			}
			blob.PutDocument(doc)
			if blob.Selected == "" {
				blob.Selected = doc.ID
			}
			fmt.Printf("%s %s (%s, %d units)\n", ui.RenderPass("✓"), doc.Title, doc.ID, len(doc.Units))
			imported++
		}

		if err := s.Save(blob); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving state: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nImported %d of %d documents\n", imported, len(args))
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

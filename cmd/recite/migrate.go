package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/recite/internal/migrate"
	"github.com/mschirtzinger/recite/internal/ui"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Re-key stored state to canonical identifiers",
	Long: `Rewrite document and unit keys to their canonical derived form and
decay stale streaks.

Migration runs automatically on load; this command runs it explicitly
and reports what changed. Running it twice in a row is a no-op.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger("[migrate] ")
		s, err := openStore(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()

		blob := s.Load()

		migrated, result := migrate.Run(blob, time.Now())
		if err := migrate.CheckInvariants(blob, migrated); err != nil {
			fmt.Fprintf(os.Stderr, "Error: migration invariant violated, aborting: %v\n", err)
			os.Exit(1)
		}
		if err := s.Save(migrated); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving state: %v\n", err)
			os.Exit(1)
		}

		if result.DocsRekeyed == 0 && result.UnitsRekeyed == 0 && result.StreaksReset == 0 {
			fmt.Printf("%s Already canonical, nothing to do\n", ui.RenderPass("✓"))
			return
		}
		fmt.Printf("%s Migrated: %d document(s) re-keyed, %d unit(s) re-keyed, %d streak(s) reset\n",
			ui.RenderPass("✓"), result.DocsRekeyed, result.UnitsRekeyed, result.StreaksReset)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

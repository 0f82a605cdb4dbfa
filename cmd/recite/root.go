package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mschirtzinger/recite/internal/migrate"
	"github.com/mschirtzinger/recite/internal/srs"
	"github.com/mschirtzinger/recite/internal/state"
	"github.com/mschirtzinger/recite/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "recite",
	Short: "Local-first spaced repetition for structured text",
	Long: `recite tracks memorization progress for structured text documents
(passages split into ordered content units) using spaced repetition.

State lives in a local database and is synchronized across devices
through a remote mirror under last-write-wins timestamps. Local progress
is always authoritative: a sync failure never blocks or reverts a review.

Document and unit identifiers are derived from content, never random, so
importing the same text on two devices converges on identical keys with
no coordination.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("data-dir", "", "data directory (default ~/.recite)")
	pf.String("user", "", "user id for mirror sync")
	pf.String("mirror-url", "", "remote mirror base URL (empty disables sync)")
	pf.StringSlice("groups", nil, "group ids to fan review updates out to")
	pf.String("log-file", "", "write daemon logs to this file (rotated)")
	pf.String("params", "", "scheduler tuning TOML file (default <data-dir>/params.toml)")

	for _, name := range []string{"data-dir", "user", "mirror-url", "groups", "log-file", "params"} {
		if err := viper.BindPFlag(name, pf.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding flag %s: %v\n", name, err)
			os.Exit(1)
		}
	}
}

// initConfig loads ~/.recite/config.yaml (if present) and RECITE_* env vars.
func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultDataDir())
	viper.SetEnvPrefix("RECITE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config file: %v\n", err)
		}
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recite"
	}
	return filepath.Join(home, ".recite")
}

func dataDir() string {
	if dir := viper.GetString("data-dir"); dir != "" {
		return dir
	}
	return defaultDataDir()
}

// openStore opens the local database under the data directory.
func openStore(logger *log.Logger) (*store.Store, error) {
	return store.Open(filepath.Join(dataDir(), "recite.db"), logger)
}

// loadState loads the blob and migrates it onto canonical identifiers.
// Migration runs on every load; it is idempotent, and streak decay is a
// load-time rule. If migration changed anything, the result is written
// back best-effort.
func loadState(s *store.Store, logger *log.Logger) *state.Blob {
	blob := s.Load()
	migrated, res := migrate.Run(blob, time.Now())
	if res.DocsRekeyed > 0 || res.UnitsRekeyed > 0 || res.StreaksReset > 0 {
		if logger != nil {
			logger.Printf("Migration: %d docs re-keyed, %d units re-keyed, %d streaks reset",
				res.DocsRekeyed, res.UnitsRekeyed, res.StreaksReset)
		}
		if err := s.Save(migrated); err != nil && logger != nil {
			logger.Printf("Warning: failed to persist migrated state: %v", err)
		}
	}
	return migrated
}

// newLogger builds a prefixed logger. When --log-file is configured the
// output goes through a size-capped rotating file; otherwise stderr.
func newLogger(prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if path := viper.GetString("log-file"); path != "" {
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
		}
	}
	return log.New(w, prefix, log.LstdFlags)
}

// schedulerParams loads scheduler tuning, defaulting when no file exists.
func schedulerParams() srs.Params {
	path := viper.GetString("params")
	if path == "" {
		path = filepath.Join(dataDir(), "params.toml")
	}
	p, err := srs.LoadParams(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		return srs.DefaultParams()
	}
	return p
}

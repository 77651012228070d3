// Package cmd provides the recactl commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/couchcryptid/climate-risk-api/internal/adapter/sqlite"
	"github.com/couchcryptid/climate-risk-api/internal/options"
	"github.com/couchcryptid/climate-risk-api/internal/units"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	dbPath  string
	verbose bool
}

// NewRootCmd builds the recactl command tree.
func NewRootCmd() *cobra.Command {
	f := &rootFlags{}

	root := &cobra.Command{
		Use:   "recactl",
		Short: "Operate the climate risk API",
		Long: `recactl inspects and maintains a climate risk API deployment.

Examples:
  recactl seed
  recactl normalize risk-timeline < request.json
  recactl hash < request.json
  recactl convert 25 m/s km/h
  recactl convert --rate EUR=0.92 1000 USD EUR
  recactl jobs --limit 10`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&f.dbPath, "db", sharedcfg.EnvOrDefault("SQLITE_PATH", "reca.db"), "sqlite database path")
	root.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newNormalizeCmd(f),
		newHashCmd(),
		newConvertCmd(f),
		newSeedCmd(f),
		newJobsCmd(f),
	)
	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

func (f *rootFlags) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (f *rootFlags) open(ctx context.Context) (*sqlite.DB, error) {
	db, err := sqlite.Open(ctx, f.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.dbPath, err)
	}
	return db, nil
}

func loadRegistry() (*units.Registry, error) {
	doc, err := options.Load()
	if err != nil {
		return nil, err
	}
	return units.NewRegistry(doc, nil)
}

// readInput reads the named file, or stdin when the name is empty or "-".
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "" || name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

package cmd

import (
	"fmt"

	"github.com/couchcryptid/climate-risk-api/internal/adapter/sqlite"
	"github.com/spf13/cobra"
)

func newSeedCmd(f *rootFlags) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load predefined measures and precalculated locations",
		Long: `Upsert the predefined adaptation measures and precalculated locations into
the database. Without --file the built-in seed data is used. Seeding twice is
harmless.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := sqlite.DefaultSeed()
			if file != "" {
				var raw []byte
				if raw, err = readInput(cmd, file); err == nil {
					data, err = sqlite.ParseSeed(raw)
				}
			}
			if err != nil {
				return err
			}

			db, err := f.open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Seed(cmd.Context(), data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d measures and %d locations into %s\n",
				len(data.Measures), len(data.Locations), f.dbPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "seed JSON file (- for stdin)")
	return cmd
}

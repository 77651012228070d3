package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/climate-risk-api/internal/domain"
	"github.com/spf13/cobra"
)

func newNormalizeCmd(f *rootFlags) *cobra.Command {
	var (
		file   string
		native bool
	)

	cmd := &cobra.Command{
		Use:   "normalize <widget>",
		Short: "Normalize a widget request and print its job ID",
		Long: `Normalize a widget request read from stdin (or --file) the way the API
does on submission, resolving the place against the precalculated locations
in the database. Prints the job ID and the canonical request.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: widgetNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			var req domain.Request
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("decode request: %w", err)
			}

			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			db, err := f.open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			normalizer := domain.NewNormalizer(reg, db.Locations(), f.logger(cmd))
			c, err := normalizer.Normalize(cmd.Context(), domain.Widget(args[0]), req)
			if err != nil {
				return err
			}
			id, err := c.JobID()
			if err != nil {
				return err
			}
			if native {
				c = c.Native()
			}
			body, err := domain.CanonicalJSON(c)
			if err != nil {
				return err
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, body, "", "  "); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job_id: %s\n%s\n", id, pretty.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "request JSON file (default stdin)")
	cmd.Flags().BoolVar(&native, "native", false, "print the native-unit form the job ID is computed from")
	return cmd
}

func widgetNames() []string {
	out := make([]string, 0, len(domain.Widgets()))
	for _, w := range domain.Widgets() {
		out = append(out, string(w))
	}
	return out
}

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/climate-risk-api/internal/domain"
	"github.com/spf13/cobra"
)

func newHashCmd() *cobra.Command {
	var (
		file      string
		canonical bool
	)

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the job ID of an arbitrary JSON document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			var v any
			if err := dec.Decode(&v); err != nil {
				return fmt.Errorf("decode input: %w", err)
			}

			if canonical {
				b, err := domain.CanonicalJSON(v)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
			}
			id, err := domain.HashID(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file (default stdin)")
	cmd.Flags().BoolVar(&canonical, "canonical", false, "also print the canonical encoding")
	return cmd
}

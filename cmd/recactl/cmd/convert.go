package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/couchcryptid/climate-risk-api/internal/adapter/rates"
	"github.com/couchcryptid/climate-risk-api/internal/units"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newConvertCmd(f *rootFlags) *cobra.Command {
	var (
		delta    bool
		rateArgs map[string]string
		ratesURL string
	)

	cmd := &cobra.Command{
		Use:   "convert <value> <from> <to>",
		Short: "Convert a quantity between units",
		Long: `Convert a quantity between two units of one dimension.

Currency conversions need rates: pass them with --rate (units of each
currency per native currency unit) or fetch them with --rates-url.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[0], err)
			}
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			base := reg.NativeUnit(units.Currency)

			var source units.RateSource
			switch {
			case len(rateArgs) > 0:
				static := units.StaticRates{Base: base, Rates: make(map[string]decimal.Decimal, len(rateArgs))}
				for code, s := range rateArgs {
					d, err := decimal.NewFromString(s)
					if err != nil {
						return fmt.Errorf("invalid rate for %s: %w", code, err)
					}
					static.Rates[code] = d
				}
				source = static
			case ratesURL != "":
				table, err := rates.NewClient(ratesURL, 10*time.Second, f.logger(cmd)).Latest(cmd.Context(), base)
				if err != nil {
					return err
				}
				source = units.StaticRates(table)
			}

			conv := units.NewConverter(reg, source)
			from, to := reg.Canonical(args[1]), reg.Canonical(args[2])
			var fn units.Func
			if delta {
				fn, err = conv.MakeDelta(cmd.Context(), from, to)
			} else {
				fn, err = conv.Make(cmd.Context(), from, to)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(fn(value), 'g', -1, 64))
			return nil
		},
	}

	cmd.Flags().BoolVar(&delta, "delta", false, "convert a difference rather than an absolute value")
	cmd.Flags().StringToStringVar(&rateArgs, "rate", nil, "exchange rate as CODE=rate, repeatable")
	cmd.Flags().StringVar(&ratesURL, "rates-url", "", "fetch live rates from a Frankfurter-compatible API")
	return cmd
}

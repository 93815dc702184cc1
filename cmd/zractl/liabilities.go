package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/siphomateke/zra-helper-sub001/internal/workflow"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow/liabilities"
)

type liabilitiesOptions struct {
	taxTypes []string
	from     string
	to       string
	retries  int
}

func newLiabilitiesCmd(global *globalOptions) *cobra.Command {
	opts := &liabilitiesOptions{}

	cmd := &cobra.Command{
		Use:   "liabilities",
		Short: "Collect pending liabilities for a set of tax types",
		Example: `  zractl liabilities --tax-types ITX,VAT --from 01/2023 --to 12/2023
  zractl liabilities --tax-types PAYE --from 01/2024 --to 06/2024 --retries 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := opts.input()
			if err != nil {
				return err
			}

			env, err := global.load(cmd)
			if err != nil {
				return err
			}
			sess, err := newSession(env.config, env.logger)
			if err != nil {
				return err
			}
			defer sess.Close()

			r := workflow.NewRunner[liabilities.Input, liabilities.Output](liabilities.New(sess.portal), sess.tree, env.logger)
			return runWithRetries[liabilities.Input, liabilities.Output](cmd.Context(), r, input, opts.retries, cmd.OutOrStdout(), env.logger)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.taxTypes, "tax-types", "t", nil, "tax type codes, for example ITX,VAT")
	cmd.Flags().StringVar(&opts.from, "from", "", "start of the period (MM/YYYY)")
	cmd.Flags().StringVar(&opts.to, "to", "", "end of the period (MM/YYYY)")
	cmd.Flags().IntVar(&opts.retries, "retries", 2, "how many times to retry failed work")
	_ = cmd.MarkFlagRequired("tax-types")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (o *liabilitiesOptions) input() (liabilities.Input, error) {
	if o.retries < 0 {
		return liabilities.Input{}, fmt.Errorf("--retries must not be negative")
	}
	input := liabilities.Input{From: o.from, To: o.to}
	for _, code := range o.taxTypes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			input.TaxTypeIDs = append(input.TaxTypeIDs, liabilities.TaxType(code))
		}
	}
	if err := validateInput(input); err != nil {
		return liabilities.Input{}, err
	}
	return input, nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/siphomateke/zra-helper-sub001/internal/workflow"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow/receipts"
)

type receiptsOptions struct {
	dir     string
	retries int
}

func newReceiptsCmd(global *globalOptions) *cobra.Command {
	opts := &receiptsOptions{}

	cmd := &cobra.Command{
		Use:     "receipts RECEIPT_ID...",
		Short:   "Download payment receipts",
		Example: `  zractl receipts 118230001 118230002 --dir ./receipts`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := opts.input(args)
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

			wf := receipts.New(sess.portal, env.config.Downloads.Dir)
			r := workflow.NewRunner[receipts.Input, receipts.Output](wf, sess.tree, env.logger)
			return runWithRetries[receipts.Input, receipts.Output](cmd.Context(), r, input, opts.retries, cmd.OutOrStdout(), env.logger)
		},
	}

	cmd.Flags().StringVarP(&opts.dir, "dir", "d", "", "directory to save receipts in (default from config)")
	cmd.Flags().IntVar(&opts.retries, "retries", 2, "how many times to retry failed downloads")
	return cmd
}

func (o *receiptsOptions) input(ids []string) (receipts.Input, error) {
	if o.retries < 0 {
		return receipts.Input{}, fmt.Errorf("--retries must not be negative")
	}
	input := receipts.Input{ReceiptIDs: ids, Dir: o.dir}
	if err := validateInput(input); err != nil {
		return receipts.Input{}, err
	}
	return input, nil
}

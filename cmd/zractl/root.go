package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/siphomateke/zra-helper-sub001/internal/config"
	"github.com/siphomateke/zra-helper-sub001/internal/platform/logger"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configPath string
}

// environment is the configuration and logger a subcommand runs with.
type environment struct {
	config *config.Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "zractl",
		Short: "Run ZRA portal workflows",
		Long: `zractl runs the liabilities and receipts workflows against the ZRA
portal in-process, retrying whatever failed, and prints the result as JSON.`,
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default is ./config.yaml)")

	root.AddCommand(
		newLiabilitiesCmd(opts),
		newReceiptsCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

// load reads the configuration and sets up logging on the command's error
// stream so that stdout only carries results.
func (o *globalOptions) load(cmd *cobra.Command) (*environment, error) {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.SetupWithWriter(cfg.Server, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return &environment{config: cfg, logger: log}, nil
}

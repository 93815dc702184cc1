package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/siphomateke/zra-helper-sub001/internal/service/auth"
)

func newTokenCmd(global *globalOptions) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API access token",
		Long: `Mint an access token for the server API, signed with the configured
auth.jwt_secret. The token is printed on its own line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := global.load(cmd)
			if err != nil {
				return err
			}
			jwtService, err := auth.NewJWTService(env.config.Auth)
			if err != nil {
				return fmt.Errorf("failed to create JWT service: %w", err)
			}
			token, err := jwtService.GenerateToken(cmd.Context(), subject)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "operator", "subject the token is issued to")
	return cmd
}

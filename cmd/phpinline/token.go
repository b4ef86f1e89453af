package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/phpinline/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the HTTP API",
	Long: `Signs a JWT with server.jwtSecret so a client can call the API started by
'phpinline serve'. The subject only identifies the caller in server logs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		if cfg.Server.JWTSecret == "" {
			return errors.New("server.jwtSecret is not set; configure it before issuing tokens")
		}

		tokens, err := auth.NewTokenService(cfg.Server.JWTSecret)
		if err != nil {
			return err
		}
		token, err := tokens.Generate(subject, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringP("subject", "s", "cli", "Name of the caller the token is issued to")
	tokenCmd.Flags().Duration("ttl", auth.DefaultTTL, "How long the token stays valid")
}

package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rpggio/inkwell/internal/config"
	"github.com/spf13/cobra"
)

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(apikeyCreateCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var (
		user        string
		token       string
		description string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a user",
		Long: `Create a bearer token for a user. The token is printed once; only
its hash is stored.

Examples:
  inkwell apikey create --user alice
  inkwell apikey create --user ci --description "release bot"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			if token == "" {
				var err error
				if token, err = newToken(); err != nil {
					return err
				}
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			logger, closeLog := newLogger(cfg.Log.Level, cfg.Log.Path, true)
			defer closeLog()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.apiKeys.Create(cmd.Context(), token, user, description); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User the key authenticates as")
	cmd.Flags().StringVar(&token, "token", "", "Use this token instead of a random one")
	cmd.Flags().StringVar(&description, "description", "", "Free-form note stored with the key")

	return cmd
}

func newToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return "ink_" + hex.EncodeToString(buf), nil
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mentorlink/study-agent/internal/application/command"
	"github.com/mentorlink/study-agent/internal/interface/http/handlers"
)

func newAPIKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage service API keys",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "hash <key>",
		Short: "Print the bcrypt hash to add to AUTH_API_KEY_HASHES",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := handlers.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	})
	return cmd
}

func newTokenCommand(e *env) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "token <actor-id>",
		Short: "Issue a bearer token for an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("AUTH_JWT_SECRET is not set")
			}
			actor := command.Actor{ID: args[0], Role: command.Role(role)}
			if !actor.Role.IsValid() {
				return fmt.Errorf("unknown role %q", role)
			}
			auth := handlers.NewAuthenticator(handlers.AuthConfig{
				Secret:   []byte(cfg.Auth.JWTSecret),
				Issuer:   cfg.Auth.JWTIssuer,
				TokenTTL: cfg.Auth.TokenTTL,
			})
			token, err := auth.IssueToken(actor)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(command.RoleStudent), "actor role (student, mentor, admin)")
	return cmd
}

package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tutorlive/backend/internal/auth"
	"github.com/tutorlive/backend/internal/models"
)

// tokenCmd mints an API token for local testing against the configured JWT secret.
func tokenCmd() *cobra.Command {
	var userID, email, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for a user (development)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.IsProduction() {
				return fmt.Errorf("token minting is disabled in production")
			}
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("--user: %w", err)
			}
			r := models.Role(role)
			switch r {
			case models.RoleAdmin, models.RoleTutor, models.RoleLearner:
			default:
				return fmt.Errorf("--role must be admin, tutor or learner")
			}
			tok, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours).Generate(id, email, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (uuid)")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&role, "role", string(models.RoleTutor), "admin, tutor or learner")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

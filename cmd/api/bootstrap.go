package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"companyauth.org/internal/auth"
	"companyauth.org/internal/config"
)

// bootstrapAdmin creates the configured administrator holding the bypass
// role. An existing account with that email is left untouched.
func bootstrapAdmin(ctx context.Context, c *auth.Components, cfg config.BootstrapConfig, logger *slog.Logger) error {
	if cfg.AdminEmail == "" {
		return nil
	}
	roles, err := c.Catalog.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: list roles: %w", err)
	}
	var roleID int64
	for _, r := range roles {
		if r.Name == c.Settings.BypassRole() {
			roleID = r.ID
			break
		}
	}
	if roleID == 0 {
		return fmt.Errorf("bootstrap: role %q does not exist", c.Settings.BypassRole())
	}

	u, err := c.Service.Register(ctx, auth.Registration{
		FirstName: "Administrator",
		Email:     cfg.AdminEmail,
		Password:  cfg.AdminPassword,
		RoleID:    roleID,
	})
	switch {
	case errors.Is(err, auth.ErrEmailAlreadyExists):
		logger.Info("bootstrap administrator already present", slog.String("email", cfg.AdminEmail))
		return nil
	case err != nil:
		return fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("bootstrap administrator created", slog.Int64("user_id", u.ID), slog.String("role", u.Role))
	return nil
}

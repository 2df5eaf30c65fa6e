package main

import (
	"context"
	"fmt"

	"github.com/example/receiptshare/internal/config"
	"go.uber.org/zap"
)

// seed creates the bootstrap admin and API client when configured and absent.
func (a *App) seed(ctx context.Context, b config.Bootstrap) error {
	if b.AdminEmail != "" {
		_, err := a.DB.GetCredentialByEmail(ctx, b.AdminEmail)
		if codeOf(err) == CodeNotFound {
			hashed, herr := hashPassword(b.AdminPassword)
			if herr != nil {
				return herr
			}
			_, _, err = a.DB.CreatePrincipal(ctx, KindAdmin, "bootstrap", b.AdminEmail, hashed)
			if err == nil {
				a.log.Info("bootstrap admin created", zap.String("email", b.AdminEmail))
			}
		}
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	if b.ClientID != "" {
		_, err := a.DB.GetClientByClientID(ctx, b.ClientID)
		if codeOf(err) == CodeNotFound {
			hashed, herr := hashPassword(b.ClientSecret)
			if herr != nil {
				return herr
			}
			_, err = a.DB.CreateClient(ctx, b.ClientID, hashed, "bootstrap")
			if err == nil {
				a.log.Info("bootstrap client created", zap.String("client_id", b.ClientID))
			}
		}
		if err != nil {
			return fmt.Errorf("bootstrap client: %w", err)
		}
	}
	return nil
}

package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/broker"
	"paper-trader/internal/security"
)

// addAuthCommands adds Kite Connect session commands. The session is only
// used for prices.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the Kite Connect session used for prices",
		Long: `Manage the Kite Connect session used for live prices.

1. Run 'paper-trader auth login-url' and open the URL.
2. After signing in, copy request_token from the redirect URL.
3. Run 'paper-trader auth session <request_token>'.

The access token is encrypted with the vault passphrase from
credentials.toml (or PAPER_TRADER_VAULT_KEY) and expires at 06:00 IST.`,
	}
	cmd.AddCommand(newLoginURLCmd(app))
	cmd.AddCommand(newSessionCmd(app))
	cmd.AddCommand(newAuthStatusCmd(app))
	cmd.AddCommand(newLogoutCmd(app))
	rootCmd.AddCommand(cmd)
}

func (a *App) kiteAuth() (*broker.KiteAuth, error) {
	if !a.Config.HasKiteCredentials() {
		return nil, apperrors.Wrap(apperrors.ErrNotAuthenticated, "set api_key and api_secret in credentials.toml")
	}
	z := a.Config.Credentials.Zerodha
	return broker.NewKiteAuth(z.APIKey, z.APISecret), nil
}

func (a *App) vault() *security.TokenVault {
	return security.NewTokenVault(a.Config.VaultPath(), a.Config.Credentials.Vault.Passphrase)
}

func newLoginURLCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "login-url",
		Short: "Print the Kite Connect login URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			auth, err := app.kiteAuth()
			if err != nil {
				return err
			}
			url := auth.LoginURL()
			if output.IsJSON() {
				return output.JSON(map[string]string{"login_url": url})
			}
			output.Bold("Login URL:")
			output.Println(url)
			output.Println()
			output.Info("After logging in, you'll be redirected to a URL like:")
			output.Dim("  https://your-redirect-url.com/?request_token=XXXXXX&status=success")
			output.Println("Then run: paper-trader auth session <request_token>")
			return nil
		},
	}
}

func newSessionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "session REQUEST_TOKEN",
		Short: "Exchange a request token and store the access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			auth, err := app.kiteAuth()
			if err != nil {
				return err
			}

			accessToken, err := auth.Exchange(args[0])
			if err != nil {
				output.Error("Login failed: %v", err)
				return err
			}
			tok, err := app.vault().Store(accessToken, app.Config.Credentials.Zerodha.UserID)
			if err != nil {
				return err
			}
			app.auditTokenStored(cmd.Context(), tok)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"stored":     true,
					"user_id":    tok.UserID,
					"expires_at": tok.ExpiresAt,
				})
			}
			output.Success("✓ Session stored")
			output.Printf("  Token:    %s\n", security.MaskCredential(tok.AccessToken))
			output.Printf("  Expires:  %s\n", formatDateTime(tok.ExpiresAt))
			return nil
		},
	}
}

// auditTokenStored records the login. Audit failures are logged only.
func (a *App) auditTokenStored(ctx context.Context, tok security.StoredToken) {
	if !a.Config.Security.AuditEnabled {
		return
	}
	al, err := security.NewAuditLogger(security.DefaultAuditConfig(a.Config.Security.AuditPath))
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to open audit log")
		return
	}
	defer al.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	err = al.Log(ctx, security.AuditEvent{
		EventType: security.AuditTokenStored,
		Success:   true,
		Details: map[string]interface{}{
			"user_id":    tok.UserID,
			"expires_at": tok.ExpiresAt,
		},
	})
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to write audit event")
	}
}

func newAuthStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a usable session is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			tok, err := app.vault().Load()
			valid := err == nil

			if output.IsJSON() {
				res := map[string]interface{}{"valid": valid, "mode": app.Config.PriceSource.Mode}
				if !tok.ExpiresAt.IsZero() {
					res["expires_at"] = tok.ExpiresAt
				}
				if err != nil {
					res["error"] = err.Error()
				}
				return output.JSON(res)
			}

			switch {
			case valid:
				output.Success("✓ Kite session valid until %s (%s left)",
					formatDateTime(tok.ExpiresAt), formatDuration(time.Until(tok.ExpiresAt)))
			case errors.Is(err, apperrors.ErrDataNotFound):
				output.Warning("No stored session; prices are simulated")
			default:
				output.Warning("Stored session unusable: %v", err)
			}
			return nil
		},
	}
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.vault().Clear(); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"cleared": true})
			}
			output.Success("✓ Session removed")
			return nil
		},
	}
}

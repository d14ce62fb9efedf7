package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"twinbridge/cmd/cli/command/state"
	"twinbridge/internal/microservices/control-api/middleware"
)

// auth.go handles control API tokens.
// the control API trusts any HS256 token signed with CONTROL_JWT_SECRET, so an
// operator holding the secret can mint one locally.

var timeNow = time.Now

// authCmd represents the auth command for token related subcommands
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Control API token commands",
}

// loginCmd mints and saves a token
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Issue a control API token and save it",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		if secret == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			secret = cfg.ControlJWTSecret
		}
		if secret == "" {
			return errors.New("no secret: pass --secret or set CONTROL_JWT_SECRET")
		}

		signed, err := middleware.IssueToken(secret, subject, ttl)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		saved := &state.ControlToken{
			Token:     signed,
			Subject:   subject,
			APIURL:    apiURL,
			ExpiresAt: timeNow().Add(ttl),
		}
		if err := state.SaveToken(tokenFile, saved); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}

		fmt.Printf("✓ Token for %q saved to %s (expires %s)\n", subject, tokenFile, saved.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

// logoutCmd removes the saved token
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved control API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := state.ClearToken(tokenFile); err != nil {
			return err
		}
		fmt.Println("✓ Token removed.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)

	loginCmd.Flags().String("secret", "", "signing secret (defaults to CONTROL_JWT_SECRET)")
	loginCmd.Flags().StringP("subject", "s", "operator", "token subject")
	loginCmd.Flags().Duration("ttl", 12*time.Hour, "token lifetime")
}

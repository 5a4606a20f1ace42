package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/protrace/protrace/internal/identity"
	"github.com/protrace/protrace/pkg/client"
)

var (
	tokenSecret string
	tokenIssuer string
	tokenTTL    time.Duration
	tokenScopes []string
	tokenSave   string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage platform bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a platform token signed with the server's auth.jwt_secret",
	Long: `issue mints an HS256 platform token. The secret must equal the
server's auth.jwt_secret; it is read from --secret, then from auth.jwt_secret
in the config file or the AUTH_JWT_SECRET environment variable.

  protrace token issue --platform shop-eu --save ~/.protrace/token`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = viper.GetString("auth.jwt_secret")
		}
		if secret == "" {
			secret = viper.GetString("AUTH_JWT_SECRET")
		}
		if secret == "" {
			return errors.New("no signing secret: use --secret or set auth.jwt_secret")
		}
		if platformID == "" {
			return errors.New("--platform is required")
		}

		tok, err := issueToken([]byte(secret), tokenIssuer, tokenTTL, platformID, tokenScopes)
		if err != nil {
			return err
		}
		if tokenSave != "" {
			if err := client.SaveToken(tokenSave, tok); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "token saved to %s\n", tokenSave)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenSecret, "secret", "", "HS256 signing secret")
	tokenIssueCmd.Flags().StringVar(&tokenIssuer, "issuer", "protrace", "token issuer (must match the server's auth.issuer)")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime")
	tokenIssueCmd.Flags().StringSliceVar(&tokenScopes, "scope",
		[]string{identity.ScopeRegister, identity.ScopeAnchor}, "scopes to grant")
	tokenIssueCmd.Flags().StringVar(&tokenSave, "save", "", "also write the token to this file (mode 0600)")

	tokenCmd.AddCommand(tokenIssueCmd)
}

func issueToken(secret []byte, issuer string, ttl time.Duration, platform string, scopes []string) (string, error) {
	tokens, err := identity.NewPlatformTokenIssuer(secret, issuer, ttl)
	if err != nil {
		return "", err
	}
	return tokens.Issue(platform, scopes)
}

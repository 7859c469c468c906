package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nkit/internal/services"
	"nkit/internal/utils"
)

func newTokenCommand() *cobra.Command {
	var (
		subject string
		scope   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API",
		Example: `  # Issue a read-only token
  NKIT_AUTH_JWT_SECRET=... nkit token --subject reporting --scope read`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := envFrom(cmd)
			auth := services.NewAuthService(e.cfg.Auth.JWTSecret, e.cfg.Auth.Issuer, e.cfg.Auth.TokenTTL, nil)

			token, claims, err := auth.Issue(subject, scope)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "token %s for %s (%s) expires %s\n",
				claims.ID, claims.Subject, claims.Scope, claims.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Annotations = map[string]string{annotationNoDatabase: "true"}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringVar(&scope, "scope", utils.ScopeRead, "token scope (read|write)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimedesk/authclient/role"
	"github.com/crimedesk/authclient/token"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			u := a.client.State().User()
			if u == nil {
				fmt.Fprintln(out, "Not logged in")
				return nil
			}

			fmt.Fprintf(out, "User:     %s <%s>\n", u.DisplayName(), u.Email)
			fmt.Fprintf(out, "  Role:   %s\n", u.Role)
			fmt.Fprintf(out, "  2FA:    %t\n", u.MFAEnabled)
			if claims, err := token.Decode(u.AccessToken); err == nil {
				if exp, ok := token.ExpiresAt(claims); ok {
					fmt.Fprintf(out, "  Expires: %s\n", exp.UTC().Format(time.RFC3339))
				}
			}
			if a.client.IsAuthenticated() {
				fmt.Fprintln(out, "  Token:  valid")
			} else {
				fmt.Fprintln(out, "  Token:  expired")
			}
			return nil
		},
	}
}

func newGuardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "guard [role...]",
		Short: "Check whether the session may open a view restricted to roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			roles := make([]role.Role, 0, len(args))
			for _, arg := range args {
				r, err := role.Parse(arg)
				if err != nil {
					return fmt.Errorf("parse role %q: %w", arg, err)
				}
				roles = append(roles, r)
			}

			d := a.client.Guard(cmd.Context(), roles...)
			if d.Allowed {
				fmt.Fprintln(cmd.OutOrStdout(), "allowed")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "denied, redirect to %s\n", d.Redirect)
			return nil
		},
	}
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new token pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session refreshed")
			return nil
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and remove it from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crimedesk/authclient"
)

func newProfileCmd(a *app) *cobra.Command {
	var upd authclient.ProfileUpdate
	var mfa bool

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update the profile of the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("mfa") {
				upd.MFAEnabled = &mfa
			}
			u, err := a.client.UpdateProfile(cmd.Context(), upd)
			if err != nil {
				return fmt.Errorf("update profile: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile updated: %s <%s>, 2FA %t\n", u.DisplayName(), u.Email, u.MFAEnabled)
			return nil
		},
	}

	cmd.Flags().StringVar(&upd.FirstName, "first-name", "", "New first name")
	cmd.Flags().StringVar(&upd.LastName, "last-name", "", "New last name")
	cmd.Flags().StringVar(&upd.Email, "email", "", "New email")
	cmd.Flags().BoolVar(&mfa, "mfa", false, "Enable or disable two-factor authentication")
	return cmd
}

func newPasswdCmd(a *app) *cobra.Command {
	var current, next string

	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the password of the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.ChangePassword(cmd.Context(), current, next); err != nil {
				return fmt.Errorf("change password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password changed")
			return nil
		},
	}

	cmd.Flags().StringVar(&current, "current", "", "Current password")
	cmd.Flags().StringVar(&next, "new", "", "New password")
	return cmd
}

func newLanguageCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "language [code]",
		Short: "Show or set the preferred UI language",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return a.client.SetLanguage(cmd.Context(), args[0])
			}
			lang, err := a.client.Language(cmd.Context())
			if err != nil {
				return err
			}
			if lang == "" {
				return errors.New("no language stored")
			}
			fmt.Fprintln(cmd.OutOrStdout(), lang)
			return nil
		},
	}
}

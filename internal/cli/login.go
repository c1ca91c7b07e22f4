package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crimedesk/authclient"
)

func newLoginCmd(a *app) *cobra.Command {
	var email, password, code string
	var resend bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Long: "Log in with email and password. Accounts with two-factor authentication " +
			"are asked for the emailed code, unless --code is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			var err error
			if email == "" {
				if email, err = prompt(in, out, "Email: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = prompt(in, out, "Password: "); err != nil {
					return err
				}
			}
			if email == "" || password == "" {
				return errors.New("email and password are required")
			}

			flow := a.client.NewLoginFlow()
			state, err := flow.Submit(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}

			if state == authclient.AwaitingMFACode {
				if resend {
					if err := flow.Resend(cmd.Context()); err != nil {
						return fmt.Errorf("resend code: %w", err)
					}
				}
				if code == "" {
					if code, err = prompt(in, out, "Verification code: "); err != nil {
						return err
					}
				}
				if _, err := flow.SubmitCode(cmd.Context(), code); err != nil {
					return fmt.Errorf("verify code: %w", err)
				}
			}

			u := flow.Result().User
			fmt.Fprintf(out, "Logged in as %s (%s)\n", u.DisplayName(), u.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email (prompted if omitted)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted if omitted)")
	cmd.Flags().StringVar(&code, "code", "", "Two-factor code (prompted if required and omitted)")
	cmd.Flags().BoolVar(&resend, "resend", false, "Request a new two-factor code before prompting")
	return cmd
}

// newVerifyCmd completes a login whose code step was left pending by an
// earlier "login" run.
func newVerifyCmd(a *app) *cobra.Command {
	var email, code string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Submit a two-factor code for a pending login",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || code == "" {
				return errors.New("--email and --code are required")
			}
			res, err := a.client.VerifyMFA(cmd.Context(), email, code)
			if err != nil {
				return fmt.Errorf("verify code: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", res.User.DisplayName(), res.User.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&code, "code", "", "Two-factor code")
	return cmd
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

// Command adminctl signs an operator in to the back office from a terminal.
// The session cookie is kept in a local file so later commands reuse it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/waitlist-admin/internal/client/api"
	"github.com/iliyamo/waitlist-admin/internal/client/authstate"
	"github.com/iliyamo/waitlist-admin/internal/model"
)

type globalFlags struct {
	server      string
	sessionFile string
	timeout     time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "adminctl",
		Short:         "Sign in to the waitlist back office",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.server, "server", envOr("WAITLIST_SERVER", "http://localhost:8080"), "server base URL")
	root.PersistentFlags().StringVar(&g.sessionFile, "session-file", "", "session file (default $WAITLIST_SESSION_FILE or the user config dir)")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "overall timeout per command")

	root.AddCommand(loginCmd(g), whoamiCmd(g), logoutCmd(g))
	return root
}

func loginCmd(g *globalFlags) *cobra.Command {
	var passwordFile string
	cmd := &cobra.Command{
		Use:   "login <identifier>",
		Short: "Log in and save the session",
		Long: `Log in with an e-mail identifier and save the session cookie locally.

The secret is read from --password-file, or prompted for on the terminal
when the flag is omitted or "-".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readLoginSecret(passwordFile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			s, err := open(ctx, g)
			if err != nil {
				return err
			}
			defer s.ctl.Close()

			res := s.ctl.Login(ctx, args[0], secret)
			if res.Err != nil {
				return describe(res.Err)
			}
			if err := s.save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", res.Account.Identifier, res.Account.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&passwordFile, "password-file", "", `file holding the secret, or "-" to prompt`)
	return cmd
}

func whoamiCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the account of the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			s, err := open(ctx, g)
			if err != nil {
				return err
			}
			defer s.ctl.Close()

			st, err := s.settled(ctx)
			if err != nil {
				return err
			}
			switch st.Status {
			case authstate.StatusAuthenticated:
				printAccount(cmd, *st.Account)
				return nil
			case authstate.StatusUnauthenticated:
				return errors.New("not logged in")
			default:
				return describe(st.Err)
			}
		},
	}
}

func logoutCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget it locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			s, err := open(ctx, g)
			if err != nil {
				return err
			}
			defer s.ctl.Close()

			if err := s.ctl.Logout(ctx); err != nil {
				return err
			}
			if err := removeSession(s.path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func printAccount(cmd *cobra.Command, a model.AccountSummary) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "ID:         %d\n", a.ID)
	fmt.Fprintf(w, "Identifier: %s\n", a.Identifier)
	fmt.Fprintf(w, "Name:       %s\n", a.Name)
	fmt.Fprintf(w, "Role:       %s\n", a.Role)
	if a.LastLoginAt != nil {
		fmt.Fprintf(w, "Last login: %s\n", a.LastLoginAt.Format(time.RFC3339))
	}
}

// describe turns client errors into operator-facing messages.
func describe(err error) error {
	var rl *api.RateLimitedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rl):
		return fmt.Errorf("too many attempts, retry in %s", rl.RetryAfter.Round(time.Second))
	case errors.Is(err, api.ErrInvalidCredentials):
		return errors.New("invalid identifier or secret")
	case errors.Is(err, api.ErrValidation):
		return errors.New("identifier and secret are required")
	case errors.Is(err, api.ErrTransport):
		return fmt.Errorf("server unreachable: %w", err)
	default:
		return err
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/crimedesk/authclient"
	"github.com/crimedesk/authclient/internal/config"
	"github.com/crimedesk/authclient/internal/logging"
	"github.com/crimedesk/authclient/notify"
)

// app is the state shared by the subcommands of one invocation.
type app struct {
	flagConfig    string
	flagServer    string
	flagStore     string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	settings *config.Settings
	logger   *slog.Logger
	client   *authclient.Client
	closer   io.Closer
}

// NewRootCmd creates the root cobra command for the authclient CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "authclient",
		Short: "Session client for the crime reporting API",
		Long: "authclient logs in to the crime reporting API, keeps the session on disk " +
			"and refreshes it, the same way the web front end does.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&a.flagConfig, "config", "", "Config file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&a.flagServer, "server", "", "API base URL (or AUTHCLIENT_SERVER env)")
	root.PersistentFlags().StringVar(&a.flagStore, "store", "", "Session store: memory, file, redis, sqlite")
	root.PersistentFlags().BoolVar(&a.flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&a.flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.flagLogFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(
		newLoginCmd(a),
		newVerifyCmd(a),
		newStatusCmd(a),
		newGuardCmd(a),
		newRefreshCmd(a),
		newLogoutCmd(a),
		newProfileCmd(a),
		newPasswdCmd(a),
		newLanguageCmd(a),
		newMetricsCmd(a),
	)

	// cobra skips PersistentPostRun when RunE fails, so each subcommand
	// closes the client and store itself.
	for _, sub := range root.Commands() {
		run := sub.RunE
		if run == nil {
			continue
		}
		sub.RunE = func(cmd *cobra.Command, args []string) error {
			defer a.close()
			return run(cmd, args)
		}
	}

	return root
}

// open loads settings, opens the session store and restores any stored
// session. A failed restore is logged and leaves the client logged out.
func (a *app) open(cmd *cobra.Command) error {
	s, err := config.Load(a.flagConfig, cmd.Flags())
	if err != nil {
		return err
	}
	if a.flagDebug {
		s.Log.Level = "debug"
	}
	a.settings = s
	a.logger = logging.NewLoggerWithWriter(logging.ParseLevel(s.Log.Level), s.Log.Format, cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, closer, err := s.OpenStore(ctx, a.logger)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	a.closer = closer

	out := cmd.OutOrStdout()
	b := authclient.New()
	if s.Audit {
		b = b.WithAuditSink(authclient.NewJSONWriterSink(cmd.ErrOrStderr()))
	}
	client, err := b.
		WithConfig(s.ClientConfig()).
		WithStore(store).
		WithLogger(a.logger).
		WithNotifier(notify.Func(func(_ context.Context, n notify.Notice) {
			fmt.Fprintf(out, "[%s] %s\n", n.Level, n.Message)
		})).
		WithNavigator(authclient.NavigatorFunc(func(_ context.Context, route string) {
			fmt.Fprintf(out, "-> %s\n", route)
		})).
		Build()
	if err != nil {
		closer.Close()
		a.closer = nil
		return err
	}
	a.client = client

	if err := client.Restore(ctx); err != nil {
		a.logger.Warn("could not restore session", "error", err)
	}
	return nil
}

func (a *app) close() {
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	if a.closer != nil {
		if err := a.closer.Close(); err != nil {
			a.logger.Warn("close session store", "error", err)
		}
		a.closer = nil
	}
}

// Package cli implements the journal command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"tradejournal/internal/coach"
	"tradejournal/internal/config"
	"tradejournal/internal/logging"
	"tradejournal/pkg/journal"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// Reviewer reviews a journal. *coach.Coach implements it.
type Reviewer interface {
	Review(ctx context.Context, summary journal.Summary, recent []journal.TradeRecord) (*coach.Review, error)
}

// App holds the state shared by all commands of one invocation.
type App struct {
	configPath string
	apiURL     string
	token      string
	localDB    string
	owner      string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger

	// NewReviewer builds the coach; tests replace it.
	NewReviewer func(ctx context.Context, opts coach.Options) (Reviewer, error)
}

// NewApp returns an App using the Gemini coach.
func NewApp() *App {
	return &App{
		NewReviewer: func(ctx context.Context, opts coach.Options) (Reviewer, error) {
			return coach.New(ctx, opts)
		},
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "journal",
		Short: "Trading journal client",
		Long: `Journal logs trades to a journal server and keeps a live, synced view
of them with win rate, P&L and R statistics.

Examples:
  journal trades add --pair EURUSD --direction Long --session London \
      --strategy breakout --risk 50 --result-usd 120 --result-r 2.4
  journal stats
  journal watch
  journal --local ./journal.db export org -o trades.org`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&app.configPath, "config", "c", "", "config file (default is the user config dir)")
	flags.StringVar(&app.apiURL, "api-url", "", "journal server URL (overrides client.base_url)")
	flags.StringVar(&app.token, "token", "", "bearer token (overrides client.token)")
	flags.StringVar(&app.localDB, "local", "", "use a local SQLite journal instead of a server")
	flags.StringVar(&app.owner, "owner", "local", "owner id for --local")
	flags.StringVar(&app.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newTradesCmd(app),
		newStatsCmd(app),
		newWatchCmd(app),
		newExportCmd(app),
		newReviewCmd(app),
		newConfigCmd(app),
		newVersionCmd(),
	)
	return root
}

func (a *App) setup(cmd *cobra.Command) error {
	logger, _, err := logging.NewLogger(logging.Options{
		Level:   a.logLevel,
		Console: cmd.ErrOrStderr(),
		Service: "journal-cli",
	})
	if err != nil {
		return err
	}
	a.logger = logger

	// config commands manage the file themselves.
	if cmd.Parent() != nil && cmd.Parent().Name() == "config" {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.apiURL != "" {
		cfg.Client.BaseURL = a.apiURL
	}
	if a.token != "" {
		cfg.Client.Token = a.token
	}
	a.cfg = cfg
	return nil
}

// Execute runs the CLI with os.Args and returns the process exit code.
func Execute(ctx context.Context) int {
	root := NewRootCmd(NewApp())
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "journal version %s\n", Version)
		},
	}
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

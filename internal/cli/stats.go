package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tradejournal/pkg/journal"
)

func newStatsCmd(app *App) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show win rate, P&L and R statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withConn(cmd.Context(), func(c *conn) error {
				sum, err := c.summary(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(sum)
				}
				writeSummary(cmd.OutOrStdout(), sum)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full summary as JSON")
	return cmd
}

func writeSummary(w io.Writer, sum journal.Summary) {
	printf(w, "%s", journal.FormatStatsOrg(sum.Stats))
	if len(sum.Monthly) > 0 {
		printf(w, "\n* Monthly\n")
		for _, m := range sum.Monthly {
			printf(w, "| %s | %d | %s |\n", m.Month, m.Trades, m.PnL.StringFixed(2))
		}
	}
}

func statusLine(v journal.View) string {
	s := v.Stats
	line := fmt.Sprintf("[%s] %d trades  P&L %s  %sR  win rate %.1f%%  PF %.2f",
		v.State, s.Total, s.TotalCurrency.StringFixed(2), s.TotalR.StringFixed(2), s.WinRate, s.ProfitFactor)
	if v.Stale {
		line += "  (stale, resyncing)"
	}
	return line
}

func newWatchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the journal live until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return app.withConn(ctx, func(c *conn) error {
				out := cmd.OutOrStdout()
				session := journal.NewSession(ctx, c.adapter, c.owner, app.cfg.Client.SessionOptions())
				defer session.Close()

				updates := make(chan journal.View, 16)
				unsubscribe := session.OnChange(func(v journal.View) {
					select {
					case updates <- v:
					default:
					}
				})
				defer unsubscribe()

				<-session.Ready()
				if err := session.Err(); err != nil {
					return err
				}
				printf(out, "%s\n", statusLine(session.View()))
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-session.Done():
						return session.Err()
					case v := <-updates:
						printf(out, "%s\n", statusLine(v))
					}
				}
			})
		},
	}
}

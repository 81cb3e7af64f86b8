package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tradejournal/pkg/journal"
)

func newTradesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List, add and remove trades",
	}
	cmd.AddCommand(newTradesListCmd(app), newTradesAddCmd(app), newTradesRmCmd(app))
	return cmd
}

func newTradesListCmd(app *App) *cobra.Command {
	var order string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List trades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if order == "" {
				order = app.cfg.Client.Order
			}
			o, ok := journal.ParseOrder(order)
			if !ok {
				return fmt.Errorf("unknown order %q (date, insertion, newest)", order)
			}
			return app.withConn(cmd.Context(), func(c *conn) error {
				records, err := c.records(cmd.Context())
				if err != nil {
					return err
				}
				store := journal.NewStore()
				store.Reset(records)
				return writeTradeTable(cmd.OutOrStdout(), store.Snapshot(o))
			})
		},
	}
	cmd.Flags().StringVar(&order, "order", "", "date, insertion or newest (default from config)")
	return cmd
}

func writeTradeTable(w io.Writer, records []journal.TradeRecord) error {
	if len(records) == 0 {
		printf(w, "no trades\n")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tPAIR\tDIR\tSESSION\tSTRATEGY\tRISK\tP&L\tR\tMOOD")
	for _, r := range records {
		mood := ""
		if r.Mood != nil {
			mood = string(*r.Mood)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.OccurredOn, r.Instrument, r.Direction, r.Session, r.StrategyTag,
			r.RiskAmount.StringFixed(2), r.ResultInCurrency.StringFixed(2),
			r.ResultInRiskUnits.StringFixed(2), mood)
	}
	return tw.Flush()
}

type addFlags struct {
	date       string
	pair       string
	direction  string
	session    string
	strategy   string
	risk       float64
	resultUSD  float64
	resultR    float64
	setup      string
	mood       string
	screenshot string
	notes      string
}

func (f addFlags) fields() (journal.TradeFields, error) {
	dir, ok := journal.ParseDirection(f.direction)
	if !ok {
		return journal.TradeFields{}, journal.NewError(journal.ErrCodeValidation,
			fmt.Sprintf("direction must be Long or Short, got %q", f.direction))
	}
	fields := journal.TradeFields{
		OccurredOn:          f.date,
		Instrument:          strings.ToUpper(strings.TrimSpace(f.pair)),
		Direction:           dir,
		Session:             f.session,
		StrategyTag:         f.strategy,
		RiskAmount:          journal.NewAmount(f.risk),
		ResultInCurrency:    journal.NewAmount(f.resultUSD),
		ResultInRiskUnits:   journal.NewAmount(f.resultR),
		SetupTag:            optionalFlag(f.setup),
		ScreenshotReference: optionalFlag(f.screenshot),
		FreeformNotes:       optionalFlag(f.notes),
	}
	if f.mood != "" {
		mood, ok := journal.ParseMood(f.mood)
		if !ok {
			return journal.TradeFields{}, journal.NewError(journal.ErrCodeValidation,
				fmt.Sprintf("unknown mood %q", f.mood))
		}
		fields.Mood = &mood
	}
	return fields, fields.Validate()
}

func optionalFlag(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

func newTradesAddCmd(app *App) *cobra.Command {
	var f addFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Log a trade",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := f.fields()
			if err != nil {
				return err
			}
			return app.withConn(cmd.Context(), func(c *conn) error {
				rec, err := c.adapter.Create(cmd.Context(), c.owner, fields)
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "logged %s %s %s (%s)\n", rec.OccurredOn, rec.Instrument, rec.Direction, rec.ID)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.date, "date", time.Now().Format(journal.DateLayout), "trade date (YYYY-MM-DD)")
	flags.StringVar(&f.pair, "pair", "", "instrument, e.g. EURUSD")
	flags.StringVar(&f.direction, "direction", "", "Long or Short")
	flags.StringVar(&f.session, "session", "", "market session")
	flags.StringVar(&f.strategy, "strategy", "", "strategy tag")
	flags.Float64Var(&f.risk, "risk", 0, "amount risked")
	flags.Float64Var(&f.resultUSD, "result-usd", 0, "result in account currency")
	flags.Float64Var(&f.resultR, "result-r", 0, "result in R")
	flags.StringVar(&f.setup, "setup", "", "setup tag")
	flags.StringVar(&f.mood, "mood", "", "Calm, Focused, Tilted, Revenge or Fearful")
	flags.StringVar(&f.screenshot, "screenshot", "", "screenshot URL")
	flags.StringVar(&f.notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("pair")
	_ = cmd.MarkFlagRequired("direction")
	return cmd
}

func newTradesRmCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a trade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withConn(cmd.Context(), func(c *conn) error {
				if err := c.adapter.Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

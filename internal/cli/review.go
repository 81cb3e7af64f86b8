package cli

import (
	"github.com/spf13/cobra"

	"tradejournal/internal/coach"
)

func newReviewCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Ask the coach to review the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reviewer, err := app.NewReviewer(ctx, coach.Options{
				APIKey: app.cfg.Coach.APIKey,
				Model:  app.cfg.Coach.Model,
				Logger: app.logger,
			})
			if err != nil {
				return err
			}
			return app.withConn(ctx, func(c *conn) error {
				records, err := c.records(ctx)
				if err != nil {
					return err
				}
				sum, err := c.summary(ctx)
				if err != nil {
					return err
				}
				review, err := reviewer.Review(ctx, sum, records)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				printf(out, "%s\n", review.Summary)
				for _, section := range []struct {
					title string
					items []string
				}{
					{"Strengths", review.Strengths},
					{"Weaknesses", review.Weaknesses},
					{"Suggestions", review.Suggestions},
				} {
					if len(section.items) == 0 {
						continue
					}
					printf(out, "\n%s:\n", section.title)
					for _, item := range section.items {
						printf(out, "  - %s\n", item)
					}
				}
				return nil
			})
		},
	}
}

package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tradejournal/pkg/journal"
)

func newExportCmd(app *App) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:       "export <org|csv>",
		Short:     "Export trades as Org-mode or CSV",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"org", "csv"},
		RunE: func(cmd *cobra.Command, args []string) error {
			format := args[0]
			if format != "org" && format != "csv" {
				return fmt.Errorf("unknown export format %q (org, csv)", format)
			}
			return app.withConn(cmd.Context(), func(c *conn) error {
				records, err := c.records(cmd.Context())
				if err != nil {
					return err
				}
				var buf bytes.Buffer
				if format == "csv" {
					if err := journal.WriteCSV(&buf, records); err != nil {
						return fmt.Errorf("write csv: %w", err)
					}
				} else {
					buf.WriteString(journal.FormatStatsOrg(journal.Compute(records)))
					buf.WriteString("\n* Trades\n")
					buf.WriteString(journal.FormatTradesOrg(records))
				}

				if output == "" || output == "-" {
					_, err := cmd.OutOrStdout().Write(buf.Bytes())
					return err
				}
				if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
				if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				printf(cmd.OutOrStdout(), "exported %d trades to %s\n", len(records), output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

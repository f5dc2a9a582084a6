package handlers

import (
	"context"
	"evalboard/internal/core"
	"evalboard/internal/narrative"
	"evalboard/internal/score"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewReportCmd creates the report command group
func NewReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show or generate aggregate reports",
		Long: `Inspect the aggregate report history or force the batch check.

Examples:
  # Show the latest report
  evalboard report show

  # List every report written so far
  evalboard report show --history

  # Append a report now if a batch is due
  evalboard report generate`,
	}

	cmd.AddCommand(newReportShowCmd())
	cmd.AddCommand(newReportGenerateCmd())
	return cmd
}

func newReportShowCmd() *cobra.Command {
	var (
		history bool
		width   int
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the latest aggregate report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			view, err := a.service(nil).Report(ctx)
			if err != nil {
				return err
			}

			if history {
				printHistory(view.ReportHistory.Reports)
				return nil
			}

			fmt.Printf("Score:       %s\n", colorScore(view.Score))
			fmt.Printf("Evaluations: %d\n", view.EvaluationCount)
			fmt.Printf("Next report: %d more evaluation(s)\n", view.Remaining)
			fmt.Println(strings.Repeat("━", 40))
			fmt.Println(narrative.Summarize(view.Report, width))
			return nil
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "List every stored report")
	cmd.Flags().IntVar(&width, "max-chars", 2000, "Truncate the report text to this many characters")
	return cmd
}

func newReportGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Append an aggregate report if a batch is due",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*a.cfg.Pipeline.GenerationTimeout)
			defer cancel()

			report, err := a.service(nil).MaybeGenerateReport(ctx)
			if err != nil {
				return fmt.Errorf("report generation failed: %w", err)
			}
			if report == nil {
				fmt.Println("No report due.")
				return nil
			}

			fmt.Printf("✅ Report generated for %d evaluations (score %s)\n",
				report.StudentCount, colorScore(score.Display(report.Narrative)))
			return nil
		},
	}
}

// printHistory lists reports oldest first.
func printHistory(reports []core.Report) {
	if len(reports) == 0 {
		fmt.Println("No reports yet.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENTS\tSCORE\tCREATED\tID")
	fmt.Fprintln(w, "━━━━━━━━\t━━━━━\t━━━━━━━\t━━")
	for _, r := range reports {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			r.StudentCount,
			colorScore(score.Display(r.Narrative)),
			r.Timestamp.Local().Format("2006-01-02 15:04"),
			r.ID,
		)
	}
	w.Flush()
}

// colorScore colors a display score by the same tiers the narratives use.
func colorScore(display string) string {
	v, err := strconv.Atoi(display)
	if err != nil {
		return color.New(color.FgHiBlack).Sprint(display)
	}
	text := display + "/100"
	switch {
	case v >= 80:
		return color.New(color.FgGreen).Sprint(text)
	case v >= 60:
		return color.New(color.FgYellow).Sprint(text)
	default:
		return color.New(color.FgRed).Sprint(text)
	}
}

package handlers

import (
	"context"
	"evalboard/internal/core"
	"evalboard/internal/narrative"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewEvaluationsCmd creates the evaluations command group
func NewEvaluationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "evaluations",
		Aliases: []string{"evals"},
		Short:   "List or delete stored evaluations",
	}

	cmd.AddCommand(newEvaluationsListCmd())
	cmd.AddCommand(newEvaluationsDeleteCmd())
	return cmd
}

func newEvaluationsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored evaluations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			evals, err := a.service(nil).List(ctx)
			if err != nil {
				return err
			}
			if len(evals) == 0 {
				fmt.Println("No evaluations yet.")
				return nil
			}

			core.SortChronological(evals)
			// Newest first for display.
			for i, j := 0, len(evals)-1; i < j; i, j = i+1, j-1 {
				evals[i], evals[j] = evals[j], evals[i]
			}
			if limit > 0 && len(evals) > limit {
				evals = evals[:limit]
			}

			printEvaluations(evals)
			fmt.Printf("\nStore: %s\n", a.gateway.State())
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of evaluations to show (0 for all)")
	return cmd
}

func newEvaluationsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			result, err := a.service(nil).Delete(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to delete evaluation %s: %w", args[0], err)
			}

			fmt.Printf("✅ Deleted %s, %d evaluation(s) remaining\n", args[0], result.RemainingCount)
			if result.UpdatedScore != nil {
				fmt.Printf("Updated score: %s\n", colorScore(fmt.Sprint(*result.UpdatedScore)))
			} else {
				fmt.Println(color.New(color.FgYellow).Sprint("Below the report threshold, no score available."))
			}
			return nil
		},
	}
}

// printEvaluations renders evals as a table.
func printEvaluations(evals []core.Evaluation) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tT/C/K/S/M\tNARRATIVE\tCOMMENT")
	fmt.Fprintln(w, "━━\t━━━━━━━\t━━━━━━━━━\t━━━━━━━━━\t━━━━━━━")
	for _, e := range evals {
		c := e.Criteria
		fmt.Fprintf(w, "%s\t%s\t%d/%d/%d/%d/%d\t%s\t%s\n",
			e.ID,
			e.Timestamp.Local().Format("2006-01-02 15:04"),
			c.Teaching, c.Communication, c.Knowledge, c.Support, c.Management,
			narrativeState(e.Narrative),
			truncate(strings.ReplaceAll(e.Comments, "\n", " "), 40),
		)
	}
	w.Flush()
}

// narrativeState summarizes enrichment progress for one record.
func narrativeState(text string) string {
	switch {
	case text == core.PendingNarrative:
		return color.New(color.FgYellow).Sprint("pending")
	case narrative.IsErrorNarrative(text):
		return color.New(color.FgRed).Sprint("error")
	default:
		return color.New(color.FgGreen).Sprint("ready")
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

package commands

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"courier.ai/internal/persistence/indexdb"
	"courier.ai/internal/printer"
)

var runsData string

var runsCmd = &cobra.Command{
	Use:   "runs [RUN_ID]",
	Short: "List recorded runs or summarise one",
	Long: `List the runs recorded in <data>/index.sqlite, or summarise one run:
deliveries, reward banked, plans computed and failed, elections seen.

A run id may be shortened to any unique prefix.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsData, "data", "./data", "Data directory given to courier run")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	idx, err := indexdb.OpenSQLite(filepath.Join(runsData, "index.sqlite"))
	if err != nil {
		return printer.Error("Cannot open the run index", err.Error(), []string{"Check --data"})
	}
	defer idx.Close()

	runs, err := idx.Runs(cmd.Context())
	if err != nil {
		return printer.Error("Cannot read runs", err.Error(), nil)
	}
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		writeRuns(out, runs)
		return nil
	}

	id, err := resolveRunID(runs, args[0])
	if err != nil {
		return printer.Error("Unknown run", err.Error(), []string{"List runs with: courier runs"})
	}
	sum, err := idx.Summary(cmd.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return printer.Error("Unknown run", id, nil)
	}
	if err != nil {
		return printer.Error("Cannot summarise run", err.Error(), nil)
	}
	writeSummary(out, sum)
	return nil
}

func resolveRunID(runs []indexdb.RunRow, prefix string) (string, error) {
	var match []string
	for _, r := range runs {
		if r.RunID == prefix {
			return r.RunID, nil
		}
		if strings.HasPrefix(r.RunID, prefix) {
			match = append(match, r.RunID)
		}
	}
	switch len(match) {
	case 0:
		return "", fmt.Errorf("no run matches %q", prefix)
	case 1:
		return match[0], nil
	}
	return "", fmt.Errorf("%q matches %d runs", prefix, len(match))
}

func writeRuns(out io.Writer, runs []indexdb.RunRow) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tAGENT\tMODE\tPLANNER\tSTARTED\tDURATION\tSCORE")
	for _, r := range runs {
		dur := "running"
		if !r.EndedAt.IsZero() {
			dur = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s (%s)\t%s\t%s\t%s\t%s\t%d\n",
			shortID(r.RunID), r.AgentID, r.Name, r.Mode, r.Planner,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), dur, r.Score)
	}
	tw.Flush()
}

func writeSummary(out io.Writer, s indexdb.RunSummary) {
	fmt.Fprintf(out, "Run %s\n", s.Run.RunID)
	fmt.Fprintf(out, "  agent      %s (%s)\n", s.Run.AgentID, s.Run.Name)
	fmt.Fprintf(out, "  mode       %s, %s planner\n", s.Run.Mode, s.Run.Planner)
	fmt.Fprintf(out, "  score      %d\n", s.Run.Score)
	fmt.Fprintf(out, "  delivered  %d parcels in %d trips, reward %d\n", s.Parcels, s.Deliveries, s.Reward)
	fmt.Fprintf(out, "  plans      %d (%d failed)\n", s.Plans, s.FailedPlans)
	fmt.Fprintf(out, "  elections  %d\n", s.Elections)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/phold-sim/sim/results"
	"github.com/inference-sim/phold-sim/sim/trace"
)

var (
	historyDBPath string // SQLite run history read by `history`
	historyLimit  int    // Runs shown by `history`
)

// historyCmd lists recent runs from the SQLite history
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs recorded with --results-db",
	Run: func(cmd *cobra.Command, args []string) {
		if err := showHistory(cmd.Context(), os.Stdout, historyDBPath, historyLimit); err != nil {
			logrus.Fatalf("run history: %v", err)
		}
	},
}

// showHistory prints the limit most recent runs stored at path.
func showHistory(ctx context.Context, w io.Writer, path string, limit int) error {
	store, err := results.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	recs, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	printHistory(w, recs)
	return nil
}

func printHistory(w io.Writer, recs []results.RunRecord) {
	fmt.Fprintf(w, "%-20s %-10s %9s %8s %7s %10s %12s %14s  %s\n",
		"started", "device", "lps", "stop", "reducer", "rounds", "events", "events/s", "digest")
	for _, r := range recs {
		digest := r.StateDigest
		if len(digest) > 12 {
			digest = digest[:12]
		}
		fmt.Fprintf(w, "%-20s %-10s %9d %8.2f %7s %10d %12d %14.0f  %s\n",
			r.StartedAt.Format("2006-01-02T15:04:05"), r.Device, r.NumLPs, r.StopTime, r.Reducer,
			r.Rounds, r.EventsProcessed, r.EventsPerSecond, digest)
	}
}

func printTraceSummary(s *trace.TraceSummary) {
	fmt.Println("=== Round Trace ===")
	fmt.Printf("Rounds               : %d (%d active)\n", s.TotalRounds, s.ActiveRounds)
	fmt.Printf("LPs advanced         : total %d, max %d, mean %.2f per round\n", s.TotalAdvanced, s.MaxAdvanced, s.MeanAdvanced)
	fmt.Printf("LBTS range           : %.4f .. %.4f (monotonic: %v)\n", s.FirstLBTS, s.LastLBTS, s.Monotonic)
}

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/rulesched/internal/lock"
	"github.com/Iron-Ham/rulesched/internal/tui"
	"github.com/Iron-Ham/rulesched/internal/workload"
)

var watchCmd = &cobra.Command{
	Use:   "watch <workload.yaml>",
	Short: "Run a workload under a live job board",
	Long: `Run a workload file and show every job on a live board. Press c to
cancel all jobs and q to quit. When stdout is not a terminal this behaves
like run.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

// isTerminal is swapped in tests.
var isTerminal = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !isTerminal() {
		return runRun(cmd, args)
	}
	w, err := workload.Load(args[0])
	if err != nil {
		return err
	}

	eng, err := newEngine(w.Workers)
	if err != nil {
		return err
	}
	defer eng.close()

	tracker := tui.NewTracker()
	tracker.Attach(eng.bus)
	plan, err := workload.Build(eng.manager, w)
	if err != nil {
		return err
	}

	ctx := lock.WithThread(cmd.Context(), lock.NewThread("main"))
	if err := plan.Start(ctx); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- plan.Wait(context.WithoutCancel(ctx))
	}()

	board := tui.NewBoard(args[0], tracker, done, func() { eng.manager.Cancel(nil) }).
		WithStats(func() string {
			s := eng.manager.PoolStats()
			return fmt.Sprintf("workers %d  busy %d", s.Workers, s.Busy)
		})
	final, err := tui.RunBoard(board)
	if err != nil {
		return err
	}
	if !final.Finished() {
		// Quit early: the board already canceled everything, wait for it.
		if err := <-done; err != nil {
			return err
		}
	}
	out := cmd.OutOrStdout()
	printSummary(out, tracker, runResult{pool: eng.manager.PoolStats()})
	return final.Err()
}

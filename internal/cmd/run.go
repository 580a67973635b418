package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/rulesched/internal/event"
	"github.com/Iron-Ham/rulesched/internal/jobs"
	"github.com/Iron-Ham/rulesched/internal/lock"
	"github.com/Iron-Ham/rulesched/internal/tui"
	"github.com/Iron-Ham/rulesched/internal/tui/styles"
	"github.com/Iron-Ham/rulesched/internal/workload"
)

var runCmd = &cobra.Command{
	Use:   "run <workload.yaml>",
	Short: "Run a workload and print job lifecycle events",
	Long: `Run a workload file on the engine. Every lifecycle transition is
printed as it happens, followed by a summary table.

Use --cancel with a glob over job names to cancel matching jobs, for
example --cancel 'index-*' --cancel-after 200ms.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runCancelPattern string
	runCancelAfter   time.Duration
	runQuiet         bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runCancelPattern, "cancel", "", "glob of job names to cancel, e.g. 'build/*'")
	runCmd.Flags().DurationVar(&runCancelAfter, "cancel-after", 0, "delay before --cancel is applied")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "print only the summary")
}

func runRun(cmd *cobra.Command, args []string) error {
	w, err := workload.Load(args[0])
	if err != nil {
		return err
	}
	cancel, err := cancelFamily(runCancelPattern)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	var outMu sync.Mutex
	tracker := tui.NewTracker()
	if !runQuiet {
		tracker.OnEvent(func(e event.Event) {
			if line := tui.LifecycleLine(e); line != "" {
				outMu.Lock()
				fmt.Fprintln(out, line)
				outMu.Unlock()
			}
		})
	}

	res, err := runWorkload(ctx, w, tracker, cancel, runCancelAfter)
	outMu.Lock()
	defer outMu.Unlock()
	printSummary(out, tracker, res)
	return err
}

// runResult is what a finished workload reports besides its job rows.
type runResult struct {
	elapsed time.Duration
	pool    jobs.PoolStats
}

// runWorkload runs w to completion on a fresh engine. Jobs matching cancel,
// when set, are canceled after cancelAfter. Canceling ctx cancels every job.
func runWorkload(ctx context.Context, w *workload.Workload, tracker *tui.Tracker, cancel any, cancelAfter time.Duration) (runResult, error) {
	eng, err := newEngine(w.Workers)
	if err != nil {
		return runResult{}, err
	}
	defer eng.close()
	tracker.Attach(eng.bus)

	plan, err := workload.Build(eng.manager, w)
	if err != nil {
		return runResult{}, err
	}

	start := time.Now()
	tctx := lock.WithThread(ctx, lock.NewThread("main"))
	if err := plan.Start(tctx); err != nil {
		return runResult{}, err
	}
	stopWatch := watchCancel(ctx, eng, cancel, cancelAfter)
	defer stopWatch()

	// Joins outlive ctx so a canceled run still waits for its jobs to stop.
	err = plan.Wait(context.WithoutCancel(tctx))
	return runResult{elapsed: time.Since(start), pool: eng.manager.PoolStats()}, err
}

// watchCancel cancels family after delay, and every job once ctx is done.
func watchCancel(ctx context.Context, eng *engine, family any, delay time.Duration) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		var timer <-chan time.Time
		if family != nil {
			timer = time.After(delay)
		}
		for {
			select {
			case <-done:
				return
			case <-timer:
				eng.logger.Info("canceling jobs", "family", fmt.Sprint(family))
				eng.manager.Cancel(family)
				timer = nil
			case <-ctx.Done():
				eng.logger.Info("interrupted, canceling every job")
				eng.manager.Cancel(nil)
				return
			}
		}
	})
	return func() {
		close(done)
		wg.Wait()
	}
}

// cancelFamily compiles the --cancel pattern. An empty pattern means no
// family.
func cancelFamily(pattern string) (any, error) {
	if pattern == "" {
		return nil, nil
	}
	return jobs.NewGlobFamily(pattern)
}

func printSummary(out io.Writer, tracker *tui.Tracker, res runResult) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, tui.JobTable(tracker.Rows(), time.Now()))
	for _, g := range tracker.Groups() {
		fmt.Fprintf(out, "group %s %s  failed %d  canceled %d\n",
			styles.Primary.Render(g.GroupName), styles.Status(g.Severity), g.Failed, g.Canceled)
	}
	fmt.Fprintln(out, tui.Summary(tracker.Counts()))
	fmt.Fprintln(out, styles.Muted.Render(fmt.Sprintf("finished in %s with %d workers",
		res.elapsed.Round(time.Millisecond), res.pool.Workers)))
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/rulesched/internal/event"
	"github.com/Iron-Ham/rulesched/internal/lock"
	"github.com/Iron-Ham/rulesched/internal/tui"
	"github.com/Iron-Ham/rulesched/internal/tui/styles"
)

var deadlockCmd = &cobra.Command{
	Use:   "deadlock",
	Short: "Drive threads into a lock cycle and show how it is resolved",
	Long: `Start N threads that each take one lock and then reach for their
neighbour's, closing a cycle. The lock manager detects the deadlock,
suspends the locks of one thread so the others can proceed, and gives
them back once they are free. The command prints the lock graph while
the cycle forms, every resolved deadlock, and fails if any thread did
not finish.`,
	Args: cobra.NoArgs,
	RunE: runDeadlock,
}

var (
	deadlockThreads int
	deadlockTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(deadlockCmd)
	deadlockCmd.Flags().IntVarP(&deadlockThreads, "threads", "n", 2, "number of threads in the cycle (at least 2)")
	deadlockCmd.Flags().DurationVar(&deadlockTimeout, "timeout", 10*time.Second, "give up if the threads have not finished")
}

func runDeadlock(cmd *cobra.Command, args []string) error {
	if deadlockThreads < 2 {
		return fmt.Errorf("--threads must be at least 2, got %d", deadlockThreads)
	}
	eng, err := newEngine(0)
	if err != nil {
		return err
	}
	defer eng.close()

	tracker := tui.NewTracker()
	tracker.Attach(eng.bus)
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithTimeout(cmd.Context(), deadlockTimeout)
	defer cancel()
	if err := driveCycle(ctx, eng.manager.LockManager(), deadlockThreads, out); err != nil {
		return err
	}

	deadlocks := tracker.Deadlocks()
	for _, line := range deadlockLines(deadlocks) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, styles.Subtitle.Render("lock graph after the run"))
	fmt.Fprintln(out, tui.GraphTable(eng.manager.LockManager().Snapshot()))
	if len(deadlocks) == 0 {
		return fmt.Errorf("no deadlock was detected")
	}
	fmt.Fprintln(out, styles.SuccessMsg.Render(fmt.Sprintf("%d threads finished, %d deadlock(s) resolved",
		deadlockThreads, len(deadlocks))))
	return nil
}

// driveCycle makes thread i hold lock i and then acquire lock i+1 (mod n).
// The graph is printed once every thread holds its first lock.
func driveCycle(ctx context.Context, lm *lock.Manager, n int, out io.Writer) error {
	locks := make([]*lock.OrderedLock, n)
	for i := range locks {
		locks[i] = lm.NewLock()
	}

	var held sync.WaitGroup
	held.Add(n)
	proceed := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			tctx := lock.WithThread(gctx, lock.NewThread(fmt.Sprintf("thread-%d", i)))
			first, second := locks[i], locks[(i+1)%n]
			if err := first.Acquire(tctx); err != nil {
				held.Done()
				return fmt.Errorf("thread-%d: acquire %s: %w", i, first, err)
			}
			defer first.Release()
			held.Done()

			select {
			case <-proceed:
			case <-gctx.Done():
				return gctx.Err()
			}
			if err := second.Acquire(tctx); err != nil {
				return fmt.Errorf("thread-%d: acquire %s: %w", i, second, err)
			}
			second.Release()
			return nil
		})
	}

	held.Wait()
	fmt.Fprintln(out, styles.Subtitle.Render("lock graph before the cycle closes"))
	fmt.Fprintln(out, tui.GraphTable(lm.Snapshot()))
	close(proceed)
	return g.Wait()
}

// deadlockLines renders resolved deadlocks, one per line.
func deadlockLines(ds []event.DeadlockResolvedEvent) []string {
	lines := make([]string, len(ds))
	for i, d := range ds {
		lines[i] = tui.LifecycleLine(d)
	}
	return lines
}

package lock

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/rulesched/internal/errors"
	"github.com/Iron-Ham/rulesched/internal/rule"
)

// Graph cell states. Positive values count holds.
const (
	noState     = 0
	waitForLock = -1
)

// conflictPasses bounds the propagation of implicit holds. Rule hierarchies
// are trees, so two hops reach every conflicting rule.
const conflictPasses = 2

// Deadlock describes a wait cycle and how it was broken.
type Deadlock struct {
	// Threads are every thread taking part in the cycle.
	Threads []*Thread
	// Candidate is the thread whose locks are suspended.
	Candidate *Thread
	// Locks are the suspendable locks taken from Candidate.
	Locks []rule.Rule
}

// GraphSnapshot is a copy of the ownership graph for display.
type GraphSnapshot struct {
	Threads []string
	Locks   []string
	Cells   [][]int
}

// Detector tracks which threads hold or wait for which locks and rules.
// graph[i][j] is the hold count of thread i on lock j, or -1 while thread i
// waits for lock j. Rows and columns are created on demand and compacted
// once empty. A Detector is not safe for concurrent use; Manager guards it.
type Detector struct {
	graph   [][]int
	locks   []rule.Rule
	threads []*Thread
	resize  bool

	errorOnDeadlock bool
	debugf          func(msg string, args ...any)
}

func newDetector() *Detector {
	return &Detector{debugf: func(string, ...any) {}}
}

// isLock reports whether r is a suspendable lock rather than a rule.
func isLock(r rule.Rule) bool {
	_, ok := r.(*OrderedLock)
	return ok
}

func (d *Detector) lockIndex(r rule.Rule, add bool) int {
	i := slices.Index(d.locks, r)
	if i < 0 && add {
		d.locks = append(d.locks, r)
		d.resize = true
		i = len(d.locks) - 1
	}
	return i
}

func (d *Detector) threadIndex(t *Thread, add bool) int {
	i := slices.Index(d.threads, t)
	if i < 0 && add {
		d.threads = append(d.threads, t)
		d.resize = true
		i = len(d.threads) - 1
	}
	return i
}

// resizeGraph grows the matrix after new rows or columns were appended.
// Existing cells keep their indices.
func (d *Detector) resizeGraph() {
	next := make([][]int, len(d.threads))
	for i := range next {
		next[i] = make([]int, len(d.locks))
		if i < len(d.graph) {
			copy(next[i], d.graph[i])
		}
	}
	d.graph = next
	d.resize = false
}

func (d *Detector) contains(t *Thread) bool {
	return slices.Contains(d.threads, t)
}

func (d *Detector) isEmpty() bool {
	return len(d.locks) == 0 && len(d.threads) == 0 && len(d.graph) == 0
}

// lockAcquired records that owner now holds r, and implicitly every lock
// that conflicts with r or with a lock r implicitly holds.
func (d *Detector) lockAcquired(owner *Thread, r rule.Rule) {
	li := d.lockIndex(r, true)
	ti := d.threadIndex(owner, true)
	if d.resize {
		d.resizeGraph()
	}
	row := d.graph[ti]
	if row[li] == waitForLock {
		row[li] = noState
	}

	conflicting := []rule.Rule{r}
	row[li]++
	for range conflictPasses {
		for k := 0; k < len(conflicting); k++ {
			current := conflicting[k]
			for j, possible := range d.locks {
				if !slices.Contains(conflicting, possible) && current.IsConflicting(possible) {
					conflicting = append(conflicting, possible)
					row[j]++
				}
			}
		}
	}
}

// lockReleased records one release of r by owner. Releasing a rule also
// releases every other rule the thread holds.
func (d *Detector) lockReleased(owner *Thread, r rule.Rule) {
	li := d.lockIndex(r, false)
	ti := d.threadIndex(owner, false)
	if ti < 0 {
		d.debugf("lock already released by thread", "lock", rule.Name(r), "thread", owner.Name())
		return
	}
	if li < 0 {
		d.debugf("thread already released lock", "lock", rule.Name(r), "thread", owner.Name())
		return
	}

	row := d.graph[ti]
	releasingLock := isLock(r)
	// a suspended lock is marked waiting; the release just clears the mark
	if releasingLock && row[li] == waitForLock {
		row[li] = noState
		return
	}

	for j, other := range d.locks {
		if r.IsConflicting(other) || (!releasingLock && !isLock(other) && row[j] > noState) {
			if row[j] == noState {
				d.debugf("more releases than acquires", "lock", rule.Name(r), "thread", owner.Name())
			} else {
				row[j]--
			}
		}
	}
	if row[li] == noState {
		d.reduceGraph(ti, r)
	}
}

// lockReleasedCompletely clears every rule held by owner regardless of
// count. Suspendable locks are left alone.
func (d *Detector) lockReleasedCompletely(owner *Thread, r rule.Rule) {
	ri := d.lockIndex(r, false)
	ti := d.threadIndex(owner, false)
	if ti < 0 {
		d.debugf("rule already released by thread", "rule", rule.Name(r), "thread", owner.Name())
		return
	}
	if ri < 0 {
		d.debugf("thread already released rule", "rule", rule.Name(r), "thread", owner.Name())
		return
	}
	row := d.graph[ti]
	for j, other := range d.locks {
		if !isLock(other) && row[j] > noState {
			row[j] = noState
		}
	}
	d.reduceGraph(ti, r)
}

// lockWaitStart records that client waits for r and checks for a cycle.
// On a cycle it picks a thread whose suspendable locks are released to
// break it, marks them as waited on by that thread and returns the
// Deadlock.
func (d *Detector) lockWaitStart(client *Thread, r rule.Rule) (*Deadlock, error) {
	d.setToWait(client, r, false)
	li := d.lockIndex(r, false)
	visited := make([]int, len(d.threads))
	if !d.checkWaitCycles(visited, li) {
		return nil, nil
	}

	threads := d.threadsInDeadlock(client)
	candidate := d.resolutionCandidate(threads)
	toSuspend, err := d.realLocksForThread(candidate)
	if err != nil {
		return nil, err
	}
	if d.errorOnDeadlock {
		return nil, errors.NewDetectorError("lockWaitStart", errors.ErrDeadlock).
			WithThread(client.Name()).WithRule(rule.Name(r))
	}
	for _, l := range toSuspend {
		d.setToWait(candidate, l, true)
	}
	return &Deadlock{Threads: threads, Candidate: candidate, Locks: toSuspend}, nil
}

// lockWaitStop clears a wait that ended without the lock being granted.
func (d *Detector) lockWaitStop(owner *Thread, r rule.Rule) {
	li := d.lockIndex(r, false)
	ti := d.threadIndex(owner, false)
	if ti < 0 {
		d.debugf("thread already removed from graph", "thread", owner.Name())
		return
	}
	if li < 0 {
		d.debugf("lock already removed from graph", "lock", rule.Name(r))
		return
	}
	if d.graph[ti][li] != waitForLock {
		d.debugf("thread already owns lock", "thread", owner.Name(), "lock", rule.Name(r))
		return
	}
	d.graph[ti][li] = noState
	d.reduceGraph(ti, r)
}

// setToWait marks owner as waiting for r. Suspension only marks existing
// cells; a fresh wait on a rule also copies the holds of conflicting rules
// into r's column so the cycle check sees them.
func (d *Detector) setToWait(owner *Thread, r rule.Rule, suspend bool) {
	needTransfer := !suspend && !isLock(r)
	li := d.lockIndex(r, !suspend)
	ti := d.threadIndex(owner, !suspend)
	if d.resize {
		d.resizeGraph()
	}
	d.graph[ti][li] = waitForLock
	if needTransfer {
		d.fillPresentEntries(r, li)
	}
}

func (d *Detector) fillPresentEntries(newLock rule.Rule, li int) {
	for j, other := range d.locks {
		if j == li || !newLock.IsConflicting(other) {
			continue
		}
		for i := range d.graph {
			if d.graph[i][j] > noState && d.graph[i][li] == noState {
				d.graph[i][li] = d.graph[i][j]
			}
		}
	}
	for j, other := range d.locks {
		if j == li || !newLock.IsConflicting(other) {
			continue
		}
		for i := range d.graph {
			if d.graph[i][li] > noState && d.graph[i][j] == noState {
				d.graph[i][j] = d.graph[i][li]
			}
		}
	}
}

// checkWaitCycles walks from every holder of lock li along wait edges.
// Reaching a thread already on the path means a cycle.
func (d *Detector) checkWaitCycles(onPath []int, li int) bool {
	for i := range d.graph {
		if d.graph[i][li] <= noState {
			continue
		}
		if onPath[i] > noState {
			return true
		}
		onPath[i]++
		for j, cell := range d.graph[i] {
			if cell == waitForLock && d.checkWaitCycles(onPath, j) {
				return true
			}
		}
		onPath[i]--
	}
	return false
}

func (d *Detector) threadsInDeadlock(cause *Thread) []*Thread {
	threads := make([]*Thread, 0, 2)
	if d.ownsLocks(cause) {
		threads = append(threads, cause)
	}
	d.addCycleThreads(&threads, cause)
	return threads
}

// addCycleThreads adds the threads blocking next, keeping only those that
// lead back into the set.
func (d *Detector) addCycleThreads(threads *[]*Thread, next *Thread) bool {
	blocking := d.blockingThreads(next)
	if len(blocking) == 0 {
		return false
	}
	inCycle := false
	for _, t := range blocking {
		if slices.Contains(*threads, t) {
			inCycle = true
			continue
		}
		*threads = append(*threads, t)
		if d.addCycleThreads(threads, t) {
			inCycle = true
		} else if i := slices.Index(*threads, t); i >= 0 {
			*threads = slices.Delete(*threads, i, i+1)
		}
	}
	return inCycle
}

func (d *Detector) blockingThreads(current *Thread) []*Thread {
	return d.threadsOwning(d.waitingLock(current))
}

func (d *Detector) waitingLock(t *Thread) rule.Rule {
	ti := d.threadIndex(t, false)
	for j, cell := range d.graph[ti] {
		if cell == waitForLock {
			return d.locks[j]
		}
	}
	return nil
}

func (d *Detector) threadsOwning(r rule.Rule) []*Thread {
	if r == nil {
		return nil
	}
	li := d.lockIndex(r, false)
	var owners []*Thread
	for i := range d.graph {
		if d.graph[i][li] > noState {
			owners = append(owners, d.threads[i])
		}
	}
	if len(owners) == 0 {
		d.debugf("lock in deadlock is not owned by any thread", "lock", rule.Name(r))
	}
	if len(owners) > 1 && isLock(r) {
		d.debugf("lock owned by more than one thread", "lock", rule.Name(r))
	}
	return owners
}

func (d *Detector) ownsLocks(t *Thread) bool {
	ti := d.threadIndex(t, false)
	return slices.ContainsFunc(d.graph[ti], func(cell int) bool { return cell > noState })
}

func (d *Detector) ownsKind(t *Thread, locks bool) bool {
	ti := d.threadIndex(t, false)
	for j, cell := range d.graph[ti] {
		if cell > noState && isLock(d.locks[j]) == locks {
			return true
		}
	}
	return false
}

// resolutionCandidate prefers a thread holding no rules, then one holding
// at least one suspendable lock.
func (d *Detector) resolutionCandidate(candidates []*Thread) *Thread {
	for _, t := range candidates {
		if !d.ownsKind(t, false) {
			return t
		}
	}
	for _, t := range candidates {
		if d.ownsKind(t, true) {
			return t
		}
	}
	return candidates[0]
}

func (d *Detector) realLocksForThread(owner *Thread) ([]rule.Rule, error) {
	ti := d.threadIndex(owner, false)
	var owned []rule.Rule
	for j, cell := range d.graph[ti] {
		if cell > noState && isLock(d.locks[j]) {
			owned = append(owned, d.locks[j])
		}
	}
	if len(owned) == 0 {
		return nil, errors.NewDetectorError("lockWaitStart",
			errors.IllegalState("resolveDeadlock", "thread with no suspendable locks chosen to resolve deadlock")).
			WithThread(owner.Name())
	}
	return owned, nil
}

// reduceGraph drops the row of thread ti if it is empty, and every empty
// column that conflicts with r or belongs to a rule.
func (d *Detector) reduceGraph(ti int, r rule.Rule) {
	emptyCols := make([]bool, len(d.locks))
	for j, other := range d.locks {
		emptyCols[j] = r.IsConflicting(other) || !isLock(other)
	}
	rowEmpty := !slices.ContainsFunc(d.graph[ti], func(cell int) bool { return cell != noState })

	numEmpty := 0
	for j := range emptyCols {
		if !emptyCols[j] {
			continue
		}
		for i := range d.graph {
			if d.graph[i][j] != noState {
				emptyCols[j] = false
				break
			}
		}
		if emptyCols[j] {
			numEmpty++
		}
	}
	if numEmpty == 0 && !rowEmpty {
		return
	}

	keptLocks := make([]rule.Rule, 0, len(d.locks)-numEmpty)
	for j, l := range d.locks {
		if !emptyCols[j] {
			keptLocks = append(keptLocks, l)
		}
	}
	keptThreads := d.threads
	if rowEmpty {
		keptThreads = slices.Delete(slices.Clone(d.threads), ti, ti+1)
	}

	if len(keptThreads) == 0 && len(keptLocks) == 0 {
		d.graph, d.locks, d.threads = nil, nil, nil
		return
	}

	next := make([][]int, 0, len(keptThreads))
	for i, row := range d.graph {
		if rowEmpty && i == ti {
			continue
		}
		compact := make([]int, 0, len(keptLocks))
		for j, cell := range row {
			if !emptyCols[j] {
				compact = append(compact, cell)
			}
		}
		next = append(next, compact)
	}
	d.graph, d.locks, d.threads = next, keptLocks, keptThreads
}

// snapshot copies the graph.
func (d *Detector) snapshot() GraphSnapshot {
	s := GraphSnapshot{
		Threads: make([]string, len(d.threads)),
		Locks:   make([]string, len(d.locks)),
		Cells:   make([][]int, len(d.graph)),
	}
	for i, t := range d.threads {
		s.Threads[i] = t.Name()
	}
	for j, l := range d.locks {
		s.Locks[j] = rule.Name(l)
	}
	for i, row := range d.graph {
		s.Cells[i] = slices.Clone(row)
	}
	return s
}

// String dumps the graph, one row per thread.
func (d *Detector) String() string {
	var sb strings.Builder
	sb.WriteString(" :: \n")
	names := make([]string, len(d.locks))
	for j, l := range d.locks {
		names[j] = rule.Name(l)
	}
	sb.WriteString(" locks: " + strings.Join(names, ", ") + "\n")
	for i, row := range d.graph {
		fmt.Fprintf(&sb, " %s : ", d.threads[i].Name())
		for _, cell := range row {
			fmt.Fprintf(&sb, "%d ", cell)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("-------\n")
	return sb.String()
}

package jobs

// jobQueue is a priority queue of jobs linked through their own prev/next
// fields around a sentinel. next points toward the head; the tail is
// head.next and the job that runs next is head.prev. All methods require
// Manager.mu.
type jobQueue struct {
	head *Job

	// allowConflictOvertaking lets a new job pass a conflicting one
	allowConflictOvertaking bool
	// allowPriorityOvertaking lets a new job pass one with a later start
	allowPriorityOvertaking bool
}

func newJobQueue(allowConflictOvertaking, allowPriorityOvertaking bool) *jobQueue {
	head := &Job{name: "queue head", startTime: tNone, stamp: tNone}
	head.next, head.prev = head, head
	return &jobQueue{
		head:                    head,
		allowConflictOvertaking: allowConflictOvertaking,
		allowPriorityOvertaking: allowPriorityOvertaking,
	}
}

// canOvertake reports whether newEntry may move ahead of entry.
func (q *jobQueue) canOvertake(newEntry, entry *Job) bool {
	if entry == q.head {
		return false
	}
	// A re-queued job keeps the place its stamp earned.
	if newEntry.stamp > 0 && newEntry.stamp < entry.stamp {
		return true
	}
	// Never pass an entry that is ready at the same time or earlier.
	if q.allowPriorityOvertaking && entry.compare(newEntry) <= 0 {
		return false
	}
	return q.allowConflictOvertaking || !newEntry.conflictsWith(entry)
}

// enqueue inserts newEntry scanning from the tail.
func (q *jobQueue) enqueue(newEntry *Job) {
	tail := q.head.next
	for q.canOvertake(newEntry, tail) {
		tail = tail.next
	}
	// tail is the entry newEntry stays behind
	behind := tail.prev
	newEntry.next = tail
	newEntry.prev = behind
	behind.next = newEntry
	tail.prev = newEntry
}

func (q *jobQueue) remove(j *Job) {
	j.unlink()
}

// resort re-queues a job whose ordering fields changed.
func (q *jobQueue) resort(j *Job) {
	q.remove(j)
	q.enqueue(j)
}

// peek returns the next job to run, or nil.
func (q *jobQueue) peek() *Job {
	if q.head.prev == q.head {
		return nil
	}
	return q.head.prev
}

func (q *jobQueue) isEmpty() bool {
	return q.head.next == q.head
}

// clear drops every entry. Dropped jobs keep stale links.
func (q *jobQueue) clear() {
	q.head.next, q.head.prev = q.head, q.head
}

// each visits entries from head to tail until fn returns false.
func (q *jobQueue) each(fn func(*Job) bool) {
	for j := q.head.prev; j != q.head; {
		prev := j.prev
		if !fn(j) {
			return
		}
		j = prev
	}
}

func (q *jobQueue) len() int {
	n := 0
	q.each(func(*Job) bool { n++; return true })
	return n
}

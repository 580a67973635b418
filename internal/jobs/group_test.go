package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/rulesched/internal/errors"
)

func TestNewGroup_Validates(t *testing.T) {
	m := newTestManager(t, 1)
	tests := []struct {
		name       string
		maxThreads int
		seeds      int
		wantErr    bool
	}{
		{"unlimited", 0, 0, false},
		{"throttled with seeds", 2, 3, false},
		{"negative threads", -1, 0, true},
		{"negative seeds", 1, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := m.NewGroup(tt.name, tt.maxThreads, tt.seeds)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrIllegalArgument) {
					t.Errorf("NewGroup() error = %v, want illegal argument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewGroup() error = %v", err)
			}
			if g.State() != GroupNone || g.MaxThreads() != tt.maxThreads {
				t.Errorf("new group = %s state %v max %d", g, g.State(), g.MaxThreads())
			}
		})
	}
}

func TestGroup_CompletesAfterAllSeeds(t *testing.T) {
	m := newTestManager(t, 2)
	ctx, _ := threadCtx(t, "test")
	g, err := m.NewGroup("seeded", 0, 3)
	if err != nil {
		t.Fatal(err)
	}

	schedule := func(name string) *Job {
		j := m.NewJob(name, WorkFunc(okWork))
		if err := j.SetGroup(g); err != nil {
			t.Fatal(err)
		}
		if err := j.Schedule(ctx, 0); err != nil {
			t.Fatal(err)
		}
		return j
	}
	join(t, ctx, schedule("seed-1"))
	join(t, ctx, schedule("seed-2"))
	time.Sleep(20 * time.Millisecond)
	if got := g.State(); got != GroupActive {
		t.Fatalf("group state after 2 of 3 seeds = %v, want ACTIVE", got)
	}
	if ok, err := g.Join(ctx, 20*time.Millisecond, nil); ok || err != nil {
		t.Errorf("Join before the last seed = %v, %v; want false, nil", ok, err)
	}

	schedule("seed-3")
	ok, err := g.Join(ctx, 5*time.Second, nil)
	if err != nil || !ok {
		t.Fatalf("Join() = %v, %v; want true, nil", ok, err)
	}
	if got := g.State(); got != GroupNone {
		t.Errorf("group state after completion = %v, want NONE", got)
	}
	if !g.Result().IsOK() {
		t.Errorf("group result = %v, want OK", g.Result())
	}
}

func TestGroup_ChildJobsAreNotSeeds(t *testing.T) {
	m := newTestManager(t, 2)
	ctx, _ := threadCtx(t, "test")
	g, err := m.NewGroup("tree", 0, 1)
	if err != nil {
		t.Fatal(err)
	}

	var childRan atomic.Bool
	child := m.NewJob("child", WorkFunc(func(context.Context, Monitor) *Status {
		time.Sleep(20 * time.Millisecond)
		childRan.Store(true)
		return OKStatus
	}))
	if err := child.SetGroup(g); err != nil {
		t.Fatal(err)
	}
	parent := m.NewJob("parent", WorkFunc(func(ctx context.Context, _ Monitor) *Status {
		if err := child.Schedule(ctx, 0); err != nil {
			return ErrorStatus(err)
		}
		return OKStatus
	}))
	if err := parent.SetGroup(g); err != nil {
		t.Fatal(err)
	}
	if err := parent.Schedule(ctx, 0); err != nil {
		t.Fatal(err)
	}

	ok, err := g.Join(ctx, 5*time.Second, nil)
	if err != nil || !ok {
		t.Fatalf("Join() = %v, %v; want true, nil", ok, err)
	}
	if !childRan.Load() {
		t.Error("group completed before the child job ran")
	}
}

func TestGroup_ThrottlesRunningJobs(t *testing.T) {
	m := newTestManager(t, 4)
	ctx, _ := threadCtx(t, "test")
	g, err := m.NewGroup("narrow", 2, 0)
	if err != nil {
		t.Fatal(err)
	}

	var running, peak atomic.Int32
	work := WorkFunc(func(context.Context, Monitor) *Status {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return OKStatus
	})
	for i := range 6 {
		j := m.NewJob(fmt.Sprintf("n-%d", i), work)
		if err := j.SetGroup(g); err != nil {
			t.Fatal(err)
		}
		if err := j.Schedule(ctx, 0); err != nil {
			t.Fatal(err)
		}
	}
	ok, err := g.Join(ctx, 5*time.Second, nil)
	if err != nil || !ok {
		t.Fatalf("Join() = %v, %v; want true, nil", ok, err)
	}
	if got := peak.Load(); got != 2 {
		t.Errorf("peak concurrency = %d, want 2", got)
	}
}

func TestGroup_FailureCancelsRemainingJobs(t *testing.T) {
	m := newTestManager(t, 2)
	ctx, _ := threadCtx(t, "test")
	g, err := m.NewGroup("fragile", 1, 0)
	if err != nil {
		t.Fatal(err)
	}

	failing := m.NewJob("failing", WorkFunc(func(context.Context, Monitor) *Status {
		return NewStatus(Error, "broken", nil)
	}))
	patient := WorkFunc(func(ctx context.Context, _ Monitor) *Status {
		select {
		case <-ctx.Done():
			return CancelStatus
		case <-time.After(2 * time.Second):
			return OKStatus
		}
	})
	rest := []*Job{m.NewJob("rest-1", patient), m.NewJob("rest-2", patient)}
	m.Suspend()
	for _, j := range append([]*Job{failing}, rest...) {
		if err := j.SetGroup(g); err != nil {
			t.Fatal(err)
		}
		if err := j.Schedule(ctx, 0); err != nil {
			t.Fatal(err)
		}
	}
	m.Resume()

	ok, err := g.Join(ctx, 5*time.Second, nil)
	if err != nil || !ok {
		t.Fatalf("Join() = %v, %v; want true, nil", ok, err)
	}
	for _, j := range rest {
		if !j.Result().Matches(Cancel) {
			t.Errorf("%s result = %v, want cancel", j, j.Result())
		}
	}
	res := g.Result()
	if !res.Matches(Error) {
		t.Fatalf("group result = %v, want error", res)
	}
	for _, c := range res.Children {
		if c.Matches(Cancel) {
			t.Errorf("group result %v includes a cancel caused by the failure", res)
		}
	}
}

type tolerantPolicy struct{ DefaultGroupPolicy }

func (tolerantPolicy) ShouldCancel(*Status, int, int) bool { return false }

func TestGroup_CustomPolicyKeepsGoing(t *testing.T) {
	m := newTestManager(t, 1)
	ctx, _ := threadCtx(t, "test")
	g, err := m.NewGroup("tolerant", 0, 0, WithPolicy(tolerantPolicy{}))
	if err != nil {
		t.Fatal(err)
	}

	var jobs []*Job
	for i, sev := range []Severity{Error, OK, Warning} {
		s := NewStatus(sev, fmt.Sprintf("result %d", i), nil)
		j := m.NewJob(fmt.Sprintf("t-%d", i), WorkFunc(func(context.Context, Monitor) *Status { return s }))
		if err := j.SetGroup(g); err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, j)
	}
	m.Suspend()
	for _, j := range jobs {
		if err := j.Schedule(ctx, 0); err != nil {
			t.Fatal(err)
		}
	}
	m.Resume()

	ok, err := g.Join(ctx, 5*time.Second, nil)
	if err != nil || !ok {
		t.Fatalf("Join() = %v, %v; want true, nil", ok, err)
	}
	for _, j := range jobs {
		if j.Result().Matches(Cancel) {
			t.Errorf("%s was canceled", j)
		}
	}
	if got := len(g.Result().Children); got != 2 {
		t.Errorf("group result children = %d, want the 2 non-OK results", got)
	}
}

func TestGroup_CancelByUser(t *testing.T) {
	m := newTestManager(t, 2)
	ctx, _ := threadCtx(t, "test")
	g, err := m.NewGroup("doomed", 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{}, 1)
	running := m.NewJob("running", blockingWork(started, nil))
	sleeping := m.NewJob("sleeping", WorkFunc(okWork))
	for _, j := range []*Job{running, sleeping} {
		if err := j.SetGroup(g); err != nil {
			t.Fatal(err)
		}
	}
	if err := running.Schedule(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := sleeping.Schedule(ctx, time.Hour); err != nil {
		t.Fatal(err)
	}
	<-started
	if got := len(g.ActiveJobs()); got != 2 {
		t.Errorf("ActiveJobs() = %d, want 2", got)
	}

	g.Cancel()
	ok, err := g.Join(ctx, 5*time.Second, nil)
	if err != nil || !ok {
		t.Fatalf("Join() = %v, %v; want true, nil", ok, err)
	}
	if !g.Result().Matches(Cancel) {
		t.Errorf("group result = %v, want cancel", g.Result())
	}
}

func TestGroup_JoinOwnGroupFails(t *testing.T) {
	m := newTestManager(t, 1)
	ctx, _ := threadCtx(t, "test")
	g, err := m.NewGroup("self", 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	var joinErr error
	j := m.NewJob("member", WorkFunc(func(ctx context.Context, _ Monitor) *Status {
		_, joinErr = g.Join(ctx, 0, nil)
		return OKStatus
	}))
	if err := j.SetGroup(g); err != nil {
		t.Fatal(err)
	}
	if err := j.Schedule(ctx, 0); err != nil {
		t.Fatal(err)
	}
	join(t, ctx, j)
	if !errors.Is(joinErr, errors.ErrIllegalState) {
		t.Errorf("joining own group error = %v, want illegal state", joinErr)
	}

	other, err := m.NewGroup("other", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.SetGroup(other); !errors.Is(err, errors.ErrIllegalState) {
		t.Errorf("moving a job to another group error = %v, want illegal state", err)
	}
}

func TestJob_JoinInOwnThrottledGroupNeedsTimeout(t *testing.T) {
	m := newTestManager(t, 1)
	ctx, _ := threadCtx(t, "test")
	g, err := m.NewGroup("narrow", 1, 0)
	if err != nil {
		t.Fatal(err)
	}

	sibling := m.NewJob("sibling", WorkFunc(okWork))
	var joinErr error
	j := m.NewJob("joiner", WorkFunc(func(ctx context.Context, _ Monitor) *Status {
		_, joinErr = sibling.Join(ctx, 0, nil)
		return OKStatus
	}))
	for _, job := range []*Job{sibling, j} {
		if err := job.SetGroup(g); err != nil {
			t.Fatal(err)
		}
	}
	if err := sibling.Schedule(ctx, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := j.Schedule(ctx, 0); err != nil {
		t.Fatal(err)
	}
	join(t, ctx, j)
	if !errors.Is(joinErr, errors.ErrIllegalState) {
		t.Errorf("join inside own throttled group error = %v, want illegal state", joinErr)
	}
	sibling.Cancel()
}

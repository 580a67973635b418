package workload

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/rulesched/internal/errors"
	"github.com/Iron-Ham/rulesched/internal/jobs"
	"github.com/Iron-Ham/rulesched/internal/lock"
	"github.com/Iron-Ham/rulesched/internal/rule"
)

// step is the slice a simulated job sleeps between cancellation checks.
const step = 10 * time.Millisecond

// Plan is a workload built on a manager and ready to schedule.
type Plan struct {
	manager *jobs.Manager
	roots   []*node
	all     []*node
	groups  map[string]*jobs.Group
	mutexes map[string]rule.Rule
}

type node struct {
	spec     JobSpec
	job      *jobs.Job
	children []*node
}

// Build creates the groups and jobs of w on m without scheduling anything.
func Build(m *jobs.Manager, w *Workload) (*Plan, error) {
	p := &Plan{
		manager: m,
		groups:  make(map[string]*jobs.Group, len(w.Groups)),
		mutexes: make(map[string]rule.Rule),
	}
	for _, g := range w.Groups {
		group, err := m.NewGroup(g.Name, g.MaxThreads, g.SeedJobs)
		if err != nil {
			return nil, errors.Wrapf(err, "group %s", g.Name)
		}
		p.groups[g.Name] = group
	}
	for _, spec := range w.Jobs {
		n, err := p.build(spec)
		if err != nil {
			return nil, err
		}
		p.roots = append(p.roots, n)
	}
	return p, nil
}

func (p *Plan) build(spec JobSpec) (*node, error) {
	n := &node{spec: spec}
	for _, c := range spec.Children {
		child, err := p.build(c)
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, child)
	}
	n.job = p.manager.NewJob(spec.Name, &simulated{node: n, manager: p.manager})
	if err := n.job.SetPriority(spec.priority()); err != nil {
		return nil, errors.Wrapf(err, "job %s", spec.Name)
	}
	if r := rule.Combine(spec.ruleOrNil(), p.mutex(spec.Mutex)); r != nil {
		if err := n.job.SetRule(r); err != nil {
			return nil, errors.Wrapf(err, "job %s", spec.Name)
		}
	}
	if spec.Group != "" {
		if err := n.job.SetGroup(p.groups[spec.Group]); err != nil {
			return nil, errors.Wrapf(err, "job %s", spec.Name)
		}
	}
	p.all = append(p.all, n)
	return n, nil
}

// mutex returns the exclusive rule named name, creating it on first use.
func (p *Plan) mutex(name string) rule.Rule {
	if name == "" {
		return nil
	}
	r, ok := p.mutexes[name]
	if !ok {
		r = rule.Identity(name)
		p.mutexes[name] = r
	}
	return r
}

// Jobs returns every job in the plan, children before their parents.
func (p *Plan) Jobs() []*jobs.Job {
	out := make([]*jobs.Job, len(p.all))
	for i, n := range p.all {
		out[i] = n.job
	}
	return out
}

// Job returns the job named name.
func (p *Plan) Job(name string) *jobs.Job {
	for _, n := range p.all {
		if n.spec.Name == name {
			return n.job
		}
	}
	return nil
}

// Groups returns the plan's groups by name.
func (p *Plan) Groups() map[string]*jobs.Group { return p.groups }

// Start schedules the top-level jobs with their delays.
func (p *Plan) Start(ctx context.Context) error {
	for _, n := range p.roots {
		if err := n.job.Schedule(ctx, n.spec.Delay.Std()); err != nil {
			return errors.Wrapf(err, "schedule %s", n.spec.Name)
		}
	}
	return nil
}

// Wait joins every job. A parent is joined before its children, since a
// child is only scheduled while its parent runs. Each top-level job is
// joined on its own thread.
func (p *Plan) Wait(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, root := range p.roots {
		g.Go(func() error {
			tctx := lock.WithThread(ctx, lock.NewThread("join-"+root.spec.Name))
			return joinTree(tctx, root)
		})
	}
	return g.Wait()
}

func joinTree(ctx context.Context, n *node) error {
	if _, err := n.job.Join(ctx, 0, nil); err != nil {
		return errors.Wrapf(err, "join %s", n.spec.Name)
	}
	for _, c := range n.children {
		if err := joinTree(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// simulated is the work of a workload job: it opens its nested scopes,
// sleeps for the configured duration, optionally yields halfway, schedules
// its children and reports the configured outcome.
type simulated struct {
	node    *node
	manager *jobs.Manager
}

func (s *simulated) Run(ctx context.Context, monitor jobs.Monitor) *jobs.Status {
	spec := s.node.spec
	steps := max(1, int(spec.Duration.Std()/step))
	monitor.BeginTask(spec.Name, steps)
	defer monitor.Done()

	var opened []rule.Rule
	defer func() {
		for i := len(opened) - 1; i >= 0; i-- {
			// A mismatch here means the scope stack was corrupted by another
			// caller on this thread; the job result already reflects it.
			_ = s.manager.EndRule(ctx, opened[i])
		}
	}()
	for _, p := range spec.Nested {
		r := rule.NewPath(p)
		monitor.SubTask("begin " + p)
		err := s.manager.BeginRule(ctx, r, monitor)
		opened = append(opened, r)
		if err != nil {
			if errors.IsCanceled(err) {
				return jobs.CancelStatus
			}
			return jobs.ErrorStatus(errors.Wrapf(err, "begin %s", p))
		}
	}

	half := steps / 2
	for i := range steps {
		if spec.Yield && i == half {
			monitor.SubTask("yield")
			if _, err := s.node.job.YieldRule(ctx, monitor); err != nil {
				if errors.IsCanceled(err) {
					return jobs.CancelStatus
				}
				return jobs.ErrorStatus(errors.Wrapf(err, "yield"))
			}
		}
		if monitor.IsCanceled() {
			return jobs.CancelStatus
		}
		select {
		case <-ctx.Done():
			return jobs.CancelStatus
		case <-time.After(min(step, spec.Duration.Std())):
		}
		monitor.Worked(1)
	}

	for _, c := range s.node.children {
		if err := c.job.Schedule(ctx, c.spec.Delay.Std()); err != nil {
			return jobs.ErrorStatus(errors.Wrapf(err, "schedule child %s", c.spec.Name))
		}
	}
	if spec.Fail {
		return jobs.NewStatus(jobs.Error, fmt.Sprintf("%s failed as configured", spec.Name), nil)
	}
	return jobs.OKStatus
}

// BelongsTo puts the job in the family named after its group.
func (s *simulated) BelongsTo(family any) bool {
	name, ok := family.(string)
	return ok && s.node.spec.Group != "" && name == s.node.spec.Group
}

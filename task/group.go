package task

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Group runs named tasks concurrently, and is waited on until all have
// exited. The first task to return a non-nil error cancels the Context of
// the Group, and every task is expected to monitor that Context and return
// upon its cancellation.
//
// Tasks may be queued before Start, or started directly with Go once the
// Group is running. Unlike errgroup.Group, errors returned by tasks are
// annotated with the description of the failing task.
type Group struct {
	ctx      context.Context
	cancelFn context.CancelFunc
	eg       *errgroup.Group

	mu      sync.Mutex
	queued  []queuedTask
	started bool
}

type queuedTask struct {
	desc string
	fn   func() error
}

// NewGroup returns a new, empty Group deriving from the parent Context.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{ctx: ctx, cancelFn: cancel, eg: eg}
}

// Context of the Group. It's cancelled by an explicit Cancel, by the first
// task to fail, or by cancellation of the parent Context.
func (g *Group) Context() context.Context { return g.ctx }

// Cancel the Group Context.
func (g *Group) Cancel() { g.cancelFn() }

// Queue a task for execution upon Start. Queue panics if the Group is started.
func (g *Group) Queue(desc string, fn func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		panic("Queue called after Start")
	}
	g.queued = append(g.queued, queuedTask{desc: desc, fn: fn})
}

// Start all queued tasks. Start may be called only once.
func (g *Group) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		panic("Start already called")
	}
	g.started = true

	for _, t := range g.queued {
		g.spawn(t)
	}
	g.queued = nil
}

// Go starts a task of an already-started Group.
func (g *Group) Go(desc string, fn func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started {
		panic("Go called before Start")
	}
	g.spawn(queuedTask{desc: desc, fn: fn})
}

func (g *Group) spawn(t queuedTask) {
	g.eg.Go(func() error {
		var err = t.fn()
		log.WithFields(log.Fields{"task": t.desc, "err": err}).Debug("task exited")
		return errors.WithMessage(err, t.desc)
	})
}

// Wait for all started tasks to exit, returning the first non-nil error.
// Start must have been called, or Wait panics.
func (g *Group) Wait() error {
	g.mu.Lock()
	var started = g.started
	g.mu.Unlock()

	if !started {
		panic("Wait called before Start")
	}
	var err = g.eg.Wait()
	g.cancelFn()
	return err
}

// Package control is the caller-facing surface over the executor: it tracks
// the selected entity and submits lifecycle requests with the idempotence
// guards the display manager leaves to its callers.
package control

import (
	"context"
	"log/slog"
	"sync"

	"github.com/capsules-dev/capsules/internal/entity"
	"github.com/capsules-dev/capsules/internal/errors"
	"github.com/capsules-dev/capsules/internal/lifecycle"
	"github.com/capsules-dev/capsules/internal/logging"
	"github.com/capsules-dev/capsules/internal/task"
)

// Dispatcher runs lifecycle requests.
type Dispatcher interface {
	Dispatch(ctx context.Context, r lifecycle.Request) error
}

// Selection identifies the entity a caller is working with.
type Selection struct {
	Kind entity.Kind `json:"kind"`
	Name string      `json:"name"`
}

// Controller submits guarded requests to an Executor.
type Controller struct {
	exec    *task.Executor
	orch    Dispatcher
	display lifecycle.Display
	logger  *slog.Logger

	mu       sync.Mutex
	selected *Selection
}

// New creates a Controller.
func New(exec *task.Executor, orch Dispatcher, display lifecycle.Display, logger *slog.Logger) *Controller {
	return &Controller{
		exec:    exec,
		orch:    orch,
		display: display,
		logger:  logging.OrDiscard(logger),
	}
}

// Selected returns the current selection.
func (c *Controller) Selected() (Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return Selection{}, false
	}
	return *c.selected, true
}

// Select makes name the current selection.
func (c *Controller) Select(kind entity.Kind, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = &Selection{Kind: kind, Name: name}
}

// ClearSelection forgets the current selection.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = nil
}

// OnComplete registers the handler that runs after every submitted job.
func (c *Controller) OnComplete(fn func(task.Outcome)) {
	c.exec.OnComplete(fn)
}

// Submit queues r on the executor. Guards run on the worker, just before the
// request, so they see the state left by earlier jobs.
func (c *Controller) Submit(r lifecycle.Request) (*task.Ticket, error) {
	return c.exec.Submit(task.Job{
		Name:   string(r.Op()),
		Target: r.Target(),
		Run: func(ctx context.Context) error {
			return c.guarded(ctx, r)
		},
	})
}

// Do submits r and waits for its result.
func (c *Controller) Do(ctx context.Context, r lifecycle.Request) (lifecycle.Result, error) {
	t, err := c.Submit(r)
	if err != nil {
		return lifecycle.Result{}, err
	}
	out, err := t.Wait(ctx)
	if err != nil {
		return lifecycle.Result{}, err
	}
	return lifecycle.ResultOf(out.Err), nil
}

// SubmitSelected builds the request for op against the current selection.
func (c *Controller) SubmitSelected(op lifecycle.Op) (*task.Ticket, error) {
	sel, ok := c.Selected()
	if !ok {
		return nil, errors.NewInvalidRequest("nothing is selected")
	}
	r, err := requestFor(op, sel)
	if err != nil {
		return nil, err
	}
	return c.Submit(r)
}

func requestFor(op lifecycle.Op, sel Selection) (lifecycle.Request, error) {
	isCapsule := sel.Kind == entity.KindCapsule
	switch op {
	case lifecycle.OpStart:
		return lifecycle.Start{Name: sel.Name}, nil
	case lifecycle.OpStop:
		return lifecycle.Stop{Name: sel.Name}, nil
	case lifecycle.OpRestart:
		return lifecycle.Restart{Name: sel.Name}, nil
	case lifecycle.OpDeleteTemplate, lifecycle.OpDeleteCapsule:
		if isCapsule {
			return lifecycle.DeleteCapsule{Name: sel.Name}, nil
		}
		return lifecycle.DeleteTemplate{Name: sel.Name}, nil
	case lifecycle.OpAttach, lifecycle.OpDetach:
		if !isCapsule {
			return nil, errors.NewInvalidRequest("display sessions exist only for capsules")
		}
		if op == lifecycle.OpAttach {
			return lifecycle.Attach{Name: sel.Name}, nil
		}
		return lifecycle.Detach{Name: sel.Name}, nil
	}
	return nil, errors.NewInvalidRequest("operation " + string(op) + " needs more than a selection")
}

// guarded applies caller-level guards around r:
//   - attach only when not attached, detach only when attached;
//   - stopping or restarting an attached capsule detaches it first.
func (c *Controller) guarded(ctx context.Context, r lifecycle.Request) error {
	switch r := r.(type) {
	case lifecycle.Attach:
		if c.display.IsAttached(ctx, r.Name) {
			c.logger.Info("display already attached", "name", r.Name)
			return nil
		}
	case lifecycle.Detach:
		if !c.display.IsAttached(ctx, r.Name) {
			c.logger.Info("display not attached", "name", r.Name)
			return nil
		}
	case lifecycle.Stop, lifecycle.Restart:
		name := r.Target()
		if c.display.IsAttached(ctx, name) {
			if err := c.display.Detach(ctx, name); err != nil {
				c.logger.Warn("detach before "+string(r.Op())+" failed", "name", name, "error", err)
			}
		}
	}
	return c.orch.Dispatch(ctx, r)
}

// Package task runs mutating operations one at a time on a background worker.
//
// The executor holds at most one pending job. Jobs run strictly in submission
// order and never overlap, which is what keeps concurrent callers from
// corrupting the shared storage tree.
package task

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/capsules-dev/capsules/internal/clock"
	"github.com/capsules-dev/capsules/internal/errors"
	"github.com/capsules-dev/capsules/internal/logging"
)

var (
	// ErrBusy is returned by Submit while a job is already waiting for the worker.
	ErrBusy = errors.NewBusy()

	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = stderrors.New("executor closed")
)

// Job is a unit of work. Run must return its failures as errors; a panic is
// recovered and reported as an INTERNAL outcome.
type Job struct {
	Name   string
	Target string
	Run    func(ctx context.Context) error
}

// Outcome is the result of a finished job.
type Outcome struct {
	ID         string
	Name       string
	Target     string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Ticket tracks a submitted job.
type Ticket struct {
	ID      string
	done    chan struct{}
	outcome Outcome
}

// Done is closed when the job has finished.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Outcome returns the job's outcome. Only valid after Done is closed.
func (t *Ticket) Outcome() Outcome { return t.outcome }

// Wait blocks until the job finishes or ctx ends. The job keeps running if
// ctx ends first.
func (t *Ticket) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Journal records job lifecycles. Journal errors are logged and otherwise
// ignored.
type Journal interface {
	Started(id, name, target string, at time.Time) error
	Finished(id string, err error, at time.Time) error
}

// Options configures an Executor.
type Options struct {
	Logger  *slog.Logger
	Clock   clock.Clock
	Journal Journal
	// OnComplete runs on the worker after every job, whatever its outcome.
	OnComplete func(Outcome)
}

type pending struct {
	job    Job
	ticket *Ticket
}

// Executor is a single-slot, single-worker job runner.
type Executor struct {
	logger  *slog.Logger
	clock   clock.Clock
	journal Journal

	mu         sync.Mutex
	closed     bool
	onComplete func(Outcome)
	entropy    *ulid.MonotonicEntropy

	slot chan pending
	done chan struct{}
}

// New starts an Executor and its worker goroutine.
func New(opts Options) *Executor {
	e := &Executor{
		logger:     logging.OrDiscard(opts.Logger),
		clock:      opts.Clock,
		journal:    opts.Journal,
		onComplete: opts.OnComplete,
		entropy:    ulid.Monotonic(rand.Reader, 0),
		slot:       make(chan pending, 1),
		done:       make(chan struct{}),
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	go e.worker()
	return e
}

// OnComplete replaces the completion handler.
func (e *Executor) OnComplete(fn func(Outcome)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onComplete = fn
}

// Submit queues job. It fails with ErrBusy if another job is already waiting
// and with ErrClosed after Shutdown.
func (e *Executor) Submit(job Job) (*Ticket, error) {
	if job.Run == nil {
		return nil, errors.NewInvalidRequest("job has no function")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	id, err := ulid.New(ulid.Timestamp(e.clock.Now()), e.entropy)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	t := &Ticket{ID: id.String(), done: make(chan struct{})}

	select {
	case e.slot <- pending{job: job, ticket: t}:
		e.logger.Debug("job submitted", "id", t.ID, "job", job.Name, "target", job.Target)
		return t, nil
	default:
		return nil, ErrBusy
	}
}

// Shutdown stops accepting jobs and waits for the pending and in-flight jobs
// to finish, or for ctx to end. Running jobs are never cancelled.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.slot)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) worker() {
	defer close(e.done)
	for p := range e.slot {
		e.run(p)
	}
}

func (e *Executor) run(p pending) {
	out := Outcome{ID: p.ticket.ID, Name: p.job.Name, Target: p.job.Target, StartedAt: e.clock.Now()}
	log := e.logger.With("id", out.ID, "job", out.Name, "target", out.Target)

	if e.journal != nil {
		if err := e.journal.Started(out.ID, out.Name, out.Target, out.StartedAt); err != nil {
			log.Warn("journal start failed", "error", err)
		}
	}

	log.Info("job started")
	out.Err = safeRun(p.job.Run)
	out.FinishedAt = e.clock.Now()
	if out.Err != nil {
		log.Error("job failed", "error", out.Err)
	} else {
		log.Info("job finished")
	}

	if e.journal != nil {
		if err := e.journal.Finished(out.ID, out.Err, out.FinishedAt); err != nil {
			log.Warn("journal finish failed", "error", err)
		}
	}

	p.ticket.outcome = out
	close(p.ticket.done)

	e.mu.Lock()
	handler := e.onComplete
	e.mu.Unlock()
	if handler != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("completion handler panicked", "panic", r)
				}
			}()
			handler(out)
		}()
	}
}

// safeRun converts a panic inside fn into an INTERNAL error.
func safeRun(fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternal(fmt.Errorf("job panicked: %v", r))
		}
	}()
	return fn(context.Background())
}

package lifecycle

import (
	"context"
	"fmt"

	"github.com/capsules-dev/capsules/internal/errors"
)

// Op names a mutating operation.
type Op string

const (
	OpCreateTemplate Op = "create_template"
	OpCreateCapsule  Op = "create_capsule"
	OpDeleteTemplate Op = "delete_template"
	OpDeleteCapsule  Op = "delete_capsule"
	OpStart          Op = "start"
	OpStop           Op = "stop"
	OpRestart        Op = "restart"
	OpAttach         Op = "attach"
	OpDetach         Op = "detach"
)

// Request is a mutating operation. The set of implementations is closed;
// Dispatch handles every one of them.
type Request interface {
	Op() Op
	Target() string
	request()
}

type (
	CreateTemplate struct {
		Name           string
		BaseImage      string
		NetworkEnabled bool
	}
	CreateCapsule struct {
		Name           string
		Template       string
		NetworkEnabled bool
		Ports          []string
	}
	DeleteTemplate struct{ Name string }
	DeleteCapsule  struct{ Name string }
	Start          struct{ Name string }
	Stop           struct{ Name string }
	Restart        struct{ Name string }
	Attach         struct{ Name string }
	Detach         struct{ Name string }
)

func (CreateTemplate) Op() Op { return OpCreateTemplate }
func (CreateCapsule) Op() Op  { return OpCreateCapsule }
func (DeleteTemplate) Op() Op { return OpDeleteTemplate }
func (DeleteCapsule) Op() Op  { return OpDeleteCapsule }
func (Start) Op() Op          { return OpStart }
func (Stop) Op() Op           { return OpStop }
func (Restart) Op() Op        { return OpRestart }
func (Attach) Op() Op         { return OpAttach }
func (Detach) Op() Op         { return OpDetach }

func (r CreateTemplate) Target() string { return r.Name }
func (r CreateCapsule) Target() string  { return r.Name }
func (r DeleteTemplate) Target() string { return r.Name }
func (r DeleteCapsule) Target() string  { return r.Name }
func (r Start) Target() string          { return r.Name }
func (r Stop) Target() string           { return r.Name }
func (r Restart) Target() string        { return r.Name }
func (r Attach) Target() string         { return r.Name }
func (r Detach) Target() string         { return r.Name }

func (CreateTemplate) request() {}
func (CreateCapsule) request()  {}
func (DeleteTemplate) request() {}
func (DeleteCapsule) request()  {}
func (Start) request()          {}
func (Stop) request()           {}
func (Restart) request()        {}
func (Attach) request()         {}
func (Detach) request()         {}

// Describe renders a request for logs and the run journal.
func Describe(r Request) string {
	return fmt.Sprintf("%s %s", r.Op(), r.Target())
}

// Dispatch runs r against the orchestrator.
func (o *Orchestrator) Dispatch(ctx context.Context, r Request) error {
	switch r := r.(type) {
	case CreateTemplate:
		return o.CreateTemplate(ctx, r.Name, r.BaseImage, r.NetworkEnabled)
	case CreateCapsule:
		return o.CreateCapsule(ctx, r.Name, r.Template, r.NetworkEnabled, r.Ports)
	case DeleteTemplate:
		return o.DeleteTemplate(ctx, r.Name)
	case DeleteCapsule:
		return o.DeleteCapsule(ctx, r.Name)
	case Start:
		return o.Start(ctx, r.Name)
	case Stop:
		return o.Stop(ctx, r.Name)
	case Restart:
		return o.Restart(ctx, r.Name)
	case Attach:
		return o.Attach(ctx, r.Name)
	case Detach:
		return o.Detach(ctx, r.Name)
	default:
		return errors.NewInternal(fmt.Errorf("unhandled request %T", r))
	}
}

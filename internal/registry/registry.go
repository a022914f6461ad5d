// Package registry answers questions about existing templates and capsules:
// what exists, what state it is in, and which capsules depend on a template.
// Storage is the source of truth for entity identity; the runtime is consulted
// for status, network mode, and port bindings.
package registry

import (
	"context"
	"log/slog"
	"os"
	"sort"

	"github.com/capsules-dev/capsules/internal/entity"
	"github.com/capsules-dev/capsules/internal/errors"
	"github.com/capsules-dev/capsules/internal/layout"
	"github.com/capsules-dev/capsules/internal/logging"
	"github.com/capsules-dev/capsules/internal/runtime"
)

// AttachProbe reports whether a display client is attached to a capsule.
type AttachProbe interface {
	IsAttached(ctx context.Context, name string) bool
}

// Options configures a Registry.
type Options struct {
	Layout        *layout.Layout
	Runtime       *runtime.Runtime
	BaseImagesDir string
	// Display is optional; without it capsules are reported as detached.
	Display AttachProbe
	Logger  *slog.Logger
}

// Registry scans storage and the runtime.
type Registry struct {
	layout        *layout.Layout
	rt            *runtime.Runtime
	baseImagesDir string
	display       AttachProbe
	logger        *slog.Logger
}

// New creates a Registry.
func New(opts Options) *Registry {
	return &Registry{
		layout:        opts.Layout,
		rt:            opts.Runtime,
		baseImagesDir: opts.BaseImagesDir,
		display:       opts.Display,
		logger:        logging.OrDiscard(opts.Logger),
	}
}

// Layout returns the storage layout the registry scans.
func (r *Registry) Layout() *layout.Layout { return r.layout }

// Templates lists every template with storage, sorted by name.
func (r *Registry) Templates(ctx context.Context) ([]entity.Template, error) {
	names, err := r.layout.TemplateNames()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	templates := make([]entity.Template, 0, len(names))
	for _, name := range names {
		t := entity.Template{Name: name, Status: entity.StatusUnknown}
		if meta, err := r.layout.ReadTemplateMetadata(name); err != nil {
			r.logger.Warn("template metadata unreadable", "name", name, "error", err)
		} else {
			t.BaseImage = meta.BaseImage
			t.NetworkEnabled = meta.NetworkEnabled
		}

		status, ok := r.rt.Status(ctx, name)
		t.State = entity.StateOf(true, ok)
		if ok {
			t.Status = status
			t.Network = r.rt.Network(ctx, name)
		}
		templates = append(templates, t)
	}
	return templates, nil
}

// Capsules lists every capsule with storage, sorted by name.
func (r *Registry) Capsules(ctx context.Context) ([]entity.Capsule, error) {
	names, err := r.layout.CapsuleNames()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	capsules := make([]entity.Capsule, 0, len(names))
	for _, name := range names {
		c := entity.Capsule{Name: name, Status: entity.StatusUnknown}
		meta, err := r.layout.ReadCapsuleMetadata(name)
		if err != nil {
			r.logger.Warn("capsule metadata unreadable", "name", name, "error", err)
		} else {
			c.TemplateName = meta.Template
			c.NetworkEnabled = meta.NetworkEnabled
		}

		status, ok := r.rt.Status(ctx, name)
		c.State = entity.StateOf(true, ok)
		if ok {
			c.Status = status
			c.Network = r.rt.Network(ctx, name)
			c.Ports = r.rt.Ports(ctx, name)
		} else if meta != nil {
			c.Ports, _ = entity.ParsePortMappings(meta.Ports)
		}
		if status == entity.StatusRunning && r.display != nil {
			c.DisplayAttached = r.display.IsAttached(ctx, name)
		}
		capsules = append(capsules, c)
	}
	return capsules, nil
}

// Exists reports whether name is taken in either namespace: a template
// directory, a capsule directory, or a runtime resource of that name. Any
// one of the three is enough.
func (r *Registry) Exists(ctx context.Context, name string) bool {
	return r.layout.HasTemplateStorage(name) ||
		r.layout.HasCapsuleStorage(name) ||
		r.rt.Exists(ctx, name)
}

// KindOf reports which namespace holds storage for name.
func (r *Registry) KindOf(name string) (entity.Kind, bool) {
	switch {
	case r.layout.HasTemplateStorage(name):
		return entity.KindTemplate, true
	case r.layout.HasCapsuleStorage(name):
		return entity.KindCapsule, true
	}
	return "", false
}

// LookupTemplate resolves a template reference through its persisted metadata.
func (r *Registry) LookupTemplate(name string) (*layout.TemplateMetadata, error) {
	if !r.layout.HasTemplateStorage(name) {
		return nil, r.templateNotFound(name)
	}
	meta, err := r.layout.ReadTemplateMetadata(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, r.templateNotFound(name)
		}
		return nil, errors.NewInternal(err)
	}
	return meta, nil
}

func (r *Registry) templateNotFound(name string) error {
	available, _ := r.layout.TemplateNames()
	return errors.NewTemplateNotFound(name, available)
}

// Dependents returns the sorted names of capsules whose persisted template
// reference equals template. A capsule whose metadata cannot be read may
// reference any template, so it is listed as well.
func (r *Registry) Dependents(template string) ([]string, error) {
	names, err := r.layout.CapsuleNames()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	var deps []string
	for _, name := range names {
		meta, err := r.layout.ReadCapsuleMetadata(name)
		if err != nil {
			r.logger.Warn("capsule metadata unreadable, counting it as a dependent", "name", name, "template", template, "error", err)
			deps = append(deps, name)
			continue
		}
		if meta.Template == template {
			deps = append(deps, name)
		}
	}
	sort.Strings(deps)
	return deps, nil
}

// Status returns the runtime status of name, StatusUnknown if it cannot be
// inspected.
func (r *Registry) Status(ctx context.Context, name string) entity.Status {
	status, _ := r.rt.Status(ctx, name)
	return status
}

// State reports how far name has been provisioned.
func (r *Registry) State(ctx context.Context, name string) entity.State {
	_, hasStorage := r.KindOf(name)
	return entity.StateOf(hasStorage, r.rt.Exists(ctx, name))
}

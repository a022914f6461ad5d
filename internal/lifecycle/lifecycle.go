// Package lifecycle creates, deletes, and drives templates and capsules.
//
// Every operation validates its preconditions before touching storage or the
// runtime. Once a step has changed anything, later failures are reported but
// not rolled back: an entity whose resource could not be provisioned stays in
// the storage-only state until it is deleted.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/capsules-dev/capsules/internal/clock"
	"github.com/capsules-dev/capsules/internal/entity"
	"github.com/capsules-dev/capsules/internal/errors"
	"github.com/capsules-dev/capsules/internal/gateway"
	"github.com/capsules-dev/capsules/internal/layout"
	"github.com/capsules-dev/capsules/internal/logging"
	"github.com/capsules-dev/capsules/internal/overlay"
	"github.com/capsules-dev/capsules/internal/registry"
	"github.com/capsules-dev/capsules/internal/runtime"
)

// Display is the display-session surface the orchestrator needs.
type Display interface {
	Attach(ctx context.Context, name string) error
	Detach(ctx context.Context, name string) error
	IsAttached(ctx context.Context, name string) bool
}

// displayServer is the command each capsule resource runs in the foreground.
func displayServer(name string) []string {
	return []string{"xpra", "start", "--bind=" + layout.DisplaySocketInContainer(name), "--daemon=no"}
}

// Options configures an Orchestrator. UID and GID default to the current
// process's.
type Options struct {
	Registry *registry.Registry
	Runtime  *runtime.Runtime
	Composer *overlay.Composer
	Display  Display
	Clock    clock.Clock
	Logger   *slog.Logger
	UID      int
	GID      int
}

// Orchestrator implements the entity lifecycle.
type Orchestrator struct {
	reg      *registry.Registry
	layout   *layout.Layout
	rt       *runtime.Runtime
	composer *overlay.Composer
	display  Display
	clock    clock.Clock
	logger   *slog.Logger
	uid      int
	gid      int
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		reg:      opts.Registry,
		layout:   opts.Registry.Layout(),
		rt:       opts.Runtime,
		composer: opts.Composer,
		display:  opts.Display,
		clock:    opts.Clock,
		logger:   logging.OrDiscard(opts.Logger),
		uid:      opts.UID,
		gid:      opts.GID,
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.uid == 0 && o.gid == 0 {
		o.uid, o.gid = os.Getuid(), os.Getgid()
	}
	return o
}

// checkNewName fails unless name is valid and unused in both namespaces.
func (o *Orchestrator) checkNewName(ctx context.Context, name string) error {
	if err := entity.ValidateName(name); err != nil {
		return err
	}
	if o.reg.Exists(ctx, name) {
		return errors.NewNameAlreadyExists(name)
	}
	return nil
}

// CreateTemplate builds the base image, captures its root-filesystem
// snapshot, and creates the template's idle resource.
func (o *Orchestrator) CreateTemplate(ctx context.Context, name, baseImage string, networkEnabled bool) error {
	if err := o.checkNewName(ctx, name); err != nil {
		return err
	}
	recipe, err := o.reg.LookupBaseImage(baseImage)
	if err != nil {
		return err
	}
	log := o.logger.With("template", name, "base_image", baseImage)
	log.Info("creating template")

	// Rebuilding an existing image is allowed.
	if err := o.rt.Build(ctx, recipe.Name, recipe.Dir, o.uid, o.gid).Err(); err != nil {
		return err
	}

	if err := o.layout.PrepareTemplate(name); err != nil {
		return errors.NewInternal(err)
	}
	meta := layout.TemplateMetadata{
		BaseImage:      recipe.Name,
		NetworkEnabled: networkEnabled,
		CreatedAt:      o.clock.Now().Unix(),
	}
	if err := o.layout.WriteTemplateMetadata(name, meta); err != nil {
		return errors.NewInternal(err)
	}

	image := runtime.ImageName(recipe.Name)
	res := o.rt.CaptureSnapshot(ctx, name, image, o.layout.TemplateRootfsDir(name), layout.SnapshotMount)
	if err := res.Err(); err != nil {
		log.Error("snapshot failed, template left storage-only", "error", err)
		return err
	}

	dirs, err := o.composer.SnapshotDirs(name)
	if err != nil {
		return errors.NewInternal(err)
	}
	volumes := []string{o.layout.TemplateSharedDir(name) + ":" + layout.TemplateDataMount}
	for _, dir := range dirs {
		volumes = append(volumes, o.layout.TemplateRootfsDir(name)+"/"+dir+":/"+dir)
	}

	spec := runtime.CreateSpec{
		Name:           name,
		Image:          image,
		NetworkEnabled: networkEnabled,
		Volumes:        volumes,
		Command:        []string{"sleep", "infinity"},
	}
	if err := o.rt.Create(ctx, spec).Err(); err != nil {
		log.Error("resource creation failed, template left storage-only", "error", err)
		return err
	}
	log.Info("template created", "snapshot_dirs", len(dirs))
	return nil
}

// CreateCapsule forks a capsule from template. Port mappings are parsed before
// anything is written; they only take effect when the network is enabled.
func (o *Orchestrator) CreateCapsule(ctx context.Context, name, template string, networkEnabled bool, ports []string) error {
	if err := o.checkNewName(ctx, name); err != nil {
		return err
	}
	mappings, err := entity.ParsePortMappings(ports)
	if err != nil {
		return err
	}
	tmpl, err := o.reg.LookupTemplate(template)
	if err != nil {
		return err
	}
	log := o.logger.With("capsule", name, "template", template)
	log.Info("creating capsule")

	if err := o.layout.PrepareCapsule(name); err != nil {
		return errors.NewInternal(err)
	}
	normalized := make([]string, len(mappings))
	for i, m := range mappings {
		normalized[i] = m.String()
	}
	meta := layout.CapsuleMetadata{
		Template:       template,
		NetworkEnabled: networkEnabled,
		Ports:          normalized,
		CreatedAt:      o.clock.Now().Unix(),
	}
	if err := o.layout.WriteCapsuleMetadata(name, meta); err != nil {
		return errors.NewInternal(err)
	}

	mounts, err := o.composer.Compose(name, template)
	if err != nil {
		log.Error("overlay composition failed, capsule left storage-only", "error", err)
		return errors.NewInternal(err)
	}
	if err := os.MkdirAll(o.layout.CapsuleSharedDir(name), 0o755); err != nil {
		return errors.NewInternal(err)
	}

	volumes := []string{o.layout.CapsuleSharedDir(name) + ":" + layout.CapsuleDataMount}
	for _, m := range mounts {
		volumes = append(volumes, m.VolumeArg())
	}
	spec := runtime.CreateSpec{
		Name:           name,
		Image:          runtime.ImageName(tmpl.BaseImage),
		User:           strconv.Itoa(o.uid) + ":" + strconv.Itoa(o.gid),
		NetworkEnabled: networkEnabled,
		Ports:          mappings,
		Env:            []string{"DISPLAY=:0"},
		Volumes:        volumes,
		Command:        displayServer(name),
	}
	if err := o.rt.Create(ctx, spec).Err(); err != nil {
		log.Error("resource creation failed, capsule left storage-only", "error", err)
		return err
	}
	log.Info("capsule created", "overlays", len(mounts), "ports", len(mappings))
	return nil
}

// DeleteCapsule removes a capsule's resource and storage. An attached display
// session is detached first; a failed detach is logged and ignored.
func (o *Orchestrator) DeleteCapsule(ctx context.Context, name string) error {
	hasResource, err := o.resolve(ctx, entity.KindCapsule, name)
	if err != nil {
		return err
	}
	log := o.logger.With("capsule", name)
	log.Info("deleting capsule")

	if o.display != nil && o.display.IsAttached(ctx, name) {
		if err := o.display.Detach(ctx, name); err != nil {
			log.Warn("detach before delete failed", "error", err)
		}
	}
	return o.remove(ctx, name, o.layout.CapsuleDir(name), hasResource)
}

// DeleteTemplate removes a template's resource and storage. It is refused
// while any capsule still references the template.
func (o *Orchestrator) DeleteTemplate(ctx context.Context, name string) error {
	hasResource, err := o.resolve(ctx, entity.KindTemplate, name)
	if err != nil {
		return err
	}
	deps, err := o.reg.Dependents(name)
	if err != nil {
		return err
	}
	if len(deps) > 0 {
		return errors.NewHasDependents(name, deps)
	}
	o.logger.Info("deleting template", "template", name)
	return o.remove(ctx, name, o.layout.TemplateDir(name), hasResource)
}

// resolve checks that name exists as kind and reports whether it has a
// runtime resource. A resource with no storage in the other namespace counts
// as either kind. A failed runtime listing aborts, so storage is never removed
// while the resource state is unknown.
func (o *Orchestrator) resolve(ctx context.Context, kind entity.Kind, name string) (bool, error) {
	if err := entity.ValidateName(name); err != nil {
		return false, err
	}
	storedKind, hasStorage := o.reg.KindOf(name)
	if hasStorage && storedKind != kind {
		return false, errors.NewNotFound(string(kind), name)
	}
	hasResource, err := o.rt.Lookup(ctx, name)
	if err != nil {
		return false, err
	}
	if !hasStorage && !hasResource {
		return false, errors.NewNotFound(string(kind), name)
	}
	return hasResource, nil
}

// remove force-removes the resource, if any, then the storage tree.
func (o *Orchestrator) remove(ctx context.Context, name, dir string, hasResource bool) error {
	if hasResource {
		if err := o.rt.Remove(ctx, name).Err(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(dir); err == nil {
		if err := o.rt.RemoveTree(ctx, dir).Err(); err != nil {
			return err
		}
	}
	o.logger.Info("deleted", "name", name)
	return nil
}

// Start starts the resource for name.
func (o *Orchestrator) Start(ctx context.Context, name string) error {
	return o.passThrough(ctx, "start", name, o.rt.Start)
}

// Stop stops the resource for name with no grace period.
func (o *Orchestrator) Stop(ctx context.Context, name string) error {
	return o.passThrough(ctx, "stop", name, o.rt.Stop)
}

// Restart restarts the resource for name with no grace period.
func (o *Orchestrator) Restart(ctx context.Context, name string) error {
	return o.passThrough(ctx, "restart", name, o.rt.Restart)
}

func (o *Orchestrator) passThrough(ctx context.Context, op, name string, fn func(context.Context, string) gateway.Result) error {
	if err := entity.ValidateName(name); err != nil {
		return err
	}
	o.logger.Info(op, "name", name)
	return fn(ctx, name).Err()
}

// Exec runs command inside name without waiting for it to finish.
func (o *Orchestrator) Exec(name string, command []string) error {
	if err := entity.ValidateName(name); err != nil {
		return err
	}
	if len(command) == 0 {
		return errors.NewInvalidRequest("command is required")
	}
	o.logger.Info("exec", "name", name, "command", command)
	return o.rt.Exec(name, command, "").Err()
}

// Attach starts a display session for a capsule.
func (o *Orchestrator) Attach(ctx context.Context, name string) error {
	if err := o.requireCapsule(name); err != nil {
		return err
	}
	return o.display.Attach(ctx, name)
}

// Detach ends a capsule's display session.
func (o *Orchestrator) Detach(ctx context.Context, name string) error {
	if err := o.requireCapsule(name); err != nil {
		return err
	}
	return o.display.Detach(ctx, name)
}

func (o *Orchestrator) requireCapsule(name string) error {
	if err := entity.ValidateName(name); err != nil {
		return err
	}
	if !o.layout.HasCapsuleStorage(name) {
		return errors.NewNotFound(string(entity.KindCapsule), name)
	}
	if o.display == nil {
		return errors.NewInternal(fmt.Errorf("display manager not configured"))
	}
	return nil
}

// Diff lists what a capsule has changed relative to its template's snapshot.
func (o *Orchestrator) Diff(name string) ([]overlay.Change, error) {
	if err := entity.ValidateName(name); err != nil {
		return nil, err
	}
	meta, err := o.layout.ReadCapsuleMetadata(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(string(entity.KindCapsule), name)
		}
		return nil, errors.NewInternal(err)
	}
	changes, err := o.composer.Diff(name, meta.Template)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return changes, nil
}

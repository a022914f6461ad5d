// Package runtime drives the container runtime through its command-line
// contract. Every method builds an argv and hands it to a gateway.Gateway;
// nothing here talks to the runtime any other way.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/capsules-dev/capsules/internal/entity"
	"github.com/capsules-dev/capsules/internal/gateway"
	"github.com/capsules-dev/capsules/internal/logging"
)

// Inspect formats understood by the runtime.
const (
	FormatStatus  = "{{.State.Status}}"
	FormatNetwork = "{{.HostConfig.NetworkMode}}"
	FormatPorts   = "{{range $key, $val := .NetworkSettings.Ports}}{{range $val}}{{.HostPort}}->{{$key}}  {{end}}{{end}}"
)

// Network modes passed to --network.
const (
	NetworkEnabled  = "pasta"
	NetworkDisabled = "none"
)

// snapshotScript copies the image's top-level directories into the mounted
// snapshot directory. It ships with every base image recipe.
const snapshotScript = "copy_root_directories.sh"

// ImageName is the runtime image built from a base image recipe.
func ImageName(baseImage string) string {
	return baseImage + "-capsule-image"
}

// NetworkMode returns the --network value for the enabled flag.
func NetworkMode(enabled bool) string {
	if enabled {
		return NetworkEnabled
	}
	return NetworkDisabled
}

// Runtime issues runtime verbs through a Gateway.
type Runtime struct {
	gw     gateway.Gateway
	bin    string
	logger *slog.Logger
}

// New creates a Runtime that invokes binary (normally "podman").
func New(gw gateway.Gateway, binary string, logger *slog.Logger) *Runtime {
	if binary == "" {
		binary = "podman"
	}
	return &Runtime{gw: gw, bin: binary, logger: logging.OrDiscard(logger)}
}

// Binary returns the runtime executable name.
func (r *Runtime) Binary() string { return r.bin }

func (r *Runtime) argv(args ...string) []string {
	return append([]string{r.bin}, args...)
}

// sink logs streamed output lines at info.
func (r *Runtime) sink(op, name string) func(string) {
	return func(line string) {
		r.logger.Info(line, "op", op, "name", name)
	}
}

// Build builds the base image recipe in recipeDir, tagging it ImageName(baseImage).
// Output is streamed to the log.
func (r *Runtime) Build(ctx context.Context, baseImage, recipeDir string, uid, gid int) gateway.Result {
	argv := r.argv("build",
		"-t", ImageName(baseImage),
		"--build-arg", "USER_ID="+strconv.Itoa(uid),
		"--build-arg", "GROUP_ID="+strconv.Itoa(gid),
		recipeDir,
	)
	return r.gw.Stream(ctx, argv, r.sink("build", baseImage))
}

// CaptureSnapshot runs a throwaway, network-less setup container that copies
// the image's root directories into snapshotDir.
func (r *Runtime) CaptureSnapshot(ctx context.Context, name, image, snapshotDir, mountPoint string) gateway.Result {
	argv := r.argv("run", "--rm",
		"--name", name+"_SETUP",
		"--network="+NetworkDisabled,
		"--userns=keep-id",
		"-v", snapshotDir+":"+mountPoint,
		image,
		"sudo", snapshotScript,
	)
	return r.gw.Stream(ctx, argv, r.sink("snapshot", name))
}

// CreateSpec describes a resource to create.
type CreateSpec struct {
	Name           string
	Image          string
	User           string
	NetworkEnabled bool
	Ports          []entity.PortMapping
	Env            []string
	Volumes        []string
	Command        []string
}

// Args renders the create arguments after the runtime binary. Port bindings
// are only emitted when the network is enabled.
func (s CreateSpec) Args() []string {
	args := []string{"create", "--name", s.Name}
	if s.User != "" {
		args = append(args, "--user", s.User)
	}
	args = append(args, "--userns=keep-id", "--network="+NetworkMode(s.NetworkEnabled))
	if s.NetworkEnabled {
		for _, p := range s.Ports {
			args = append(args, "-p", p.String())
		}
	}
	for _, e := range s.Env {
		args = append(args, "-e", e)
	}
	for _, v := range s.Volumes {
		args = append(args, "-v", v)
	}
	args = append(args, s.Image)
	return append(args, s.Command...)
}

// Create creates (but does not start) a resource.
func (r *Runtime) Create(ctx context.Context, spec CreateSpec) gateway.Result {
	return r.gw.Capture(ctx, r.argv(spec.Args()...))
}

// Start starts a resource.
func (r *Runtime) Start(ctx context.Context, name string) gateway.Result {
	return r.gw.Capture(ctx, r.argv("start", name))
}

// Stop stops a resource without a grace period.
func (r *Runtime) Stop(ctx context.Context, name string) gateway.Result {
	return r.gw.Capture(ctx, r.argv("stop", "--time", "0", name))
}

// Restart restarts a resource without a grace period.
func (r *Runtime) Restart(ctx context.Context, name string) gateway.Result {
	return r.gw.Capture(ctx, r.argv("restart", "--time", "0", name))
}

// Remove force-removes a resource, stopping it immediately if running.
func (r *Runtime) Remove(ctx context.Context, name string) gateway.Result {
	return r.gw.Capture(ctx, r.argv("rm", "-f", "-t", "0", name))
}

// RemoveTree deletes dir inside the runtime's user namespace, so files owned
// by mapped container users can be removed.
func (r *Runtime) RemoveTree(ctx context.Context, dir string) gateway.Result {
	return r.gw.Capture(ctx, r.argv("unshare", "rm", "-rf", dir))
}

// Inspect runs inspect with a Go-template format.
func (r *Runtime) Inspect(ctx context.Context, name, format string) gateway.Result {
	return r.gw.Capture(ctx, r.argv("inspect", name, "--format", format))
}

// Status returns the resource's mapped status. The bool is false when the
// inspect call itself failed, e.g. because no resource has that name.
func (r *Runtime) Status(ctx context.Context, name string) (entity.Status, bool) {
	res := r.Inspect(ctx, name, FormatStatus)
	if !res.Success {
		return entity.StatusUnknown, false
	}
	return entity.ParseStatus(res.Output), true
}

// Network returns the resource's network mode, or "" if it cannot be inspected.
func (r *Runtime) Network(ctx context.Context, name string) string {
	res := r.Inspect(ctx, name, FormatNetwork)
	if !res.Success {
		return ""
	}
	return strings.TrimSpace(res.Output)
}

// Ports returns the resource's published port bindings. Entries that do not
// fit the port grammar are logged and dropped.
func (r *Runtime) Ports(ctx context.Context, name string) []entity.PortMapping {
	res := r.Inspect(ctx, name, FormatPorts)
	if !res.Success {
		return nil
	}
	mappings, skipped := entity.ParseInspectPorts(res.Output)
	for _, s := range skipped {
		r.logger.Debug("skipping unparseable port binding", "name", name, "binding", s)
	}
	return mappings
}

// Names lists every resource name known to the runtime.
func (r *Runtime) Names(ctx context.Context) ([]string, error) {
	res := r.gw.Capture(ctx, r.argv("ps", "-a", "--format", "{{.Names}}"))
	if err := res.Err(); err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(res.Output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Lookup reports whether a resource named exactly name exists. A failed
// listing is returned as COMMAND_FAILED.
func (r *Runtime) Lookup(ctx context.Context, name string) (bool, error) {
	names, err := r.Names(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(names, name), nil
}

// Exists is Lookup for read paths: a failed listing counts as absent.
func (r *Runtime) Exists(ctx context.Context, name string) bool {
	found, err := r.Lookup(ctx, name)
	if err != nil {
		r.logger.Warn("runtime listing failed", "error", err)
		return false
	}
	return found
}

// Rootless reports whether the runtime runs without root privileges.
func (r *Runtime) Rootless(ctx context.Context) (bool, error) {
	res := r.gw.Capture(ctx, r.argv("info", "--format", "{{.Host.Security.Rootless}}"))
	if err := res.Err(); err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(strings.TrimSpace(res.Output))
	if err != nil {
		return false, fmt.Errorf("unexpected rootless value %q", res.Output)
	}
	return v, nil
}

// Version returns the runtime's version string.
func (r *Runtime) Version(ctx context.Context) (string, error) {
	res := r.gw.Capture(ctx, r.argv("version", "--format", "{{.Client.Version}}"))
	if err := res.Err(); err != nil {
		return "", err
	}
	return res.Output, nil
}

// Exec runs command inside the resource without waiting for it. Output goes
// to logPath when set.
func (r *Runtime) Exec(name string, command []string, logPath string) gateway.Result {
	argv := r.argv("exec", "--detach", name)
	return r.gw.Spawn(append(argv, command...), gateway.SpawnOptions{LogPath: logPath})
}

// InteractiveExecArgv is the argv for an interactive shell command inside the
// resource, to be run under a terminal emulator.
func (r *Runtime) InteractiveExecArgv(name string, command ...string) []string {
	if len(command) == 0 {
		command = []string{"/bin/bash"}
	}
	return append(r.argv("exec", "-it", name), command...)
}

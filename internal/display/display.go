// Package display manages remote-display client sessions for capsules.
//
// Each capsule runs a display server bound to a unix socket inside its shared
// directory. Attaching starts a detached client against that socket; a session
// counts as live while the socket shows up in the host's socket listing.
package display

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/capsules-dev/capsules/internal/clock"
	"github.com/capsules-dev/capsules/internal/errors"
	"github.com/capsules-dev/capsules/internal/gateway"
	"github.com/capsules-dev/capsules/internal/layout"
	"github.com/capsules-dev/capsules/internal/logging"
)

// Poll bounds.
const (
	DefaultAttachTimeout = 10 * time.Second
	DefaultDetachTimeout = 5 * time.Second
	DefaultPollInterval  = 500 * time.Millisecond
)

// RequiredVersion must appear in the display tool's version output.
const RequiredVersion = "v6."

// Options configures a Manager. Zero durations take the defaults.
type Options struct {
	Gateway             gateway.Gateway
	Layout              *layout.Layout
	Clock               clock.Clock
	Logger              *slog.Logger
	Binary              string
	SocketInspectBinary string
	AttachTimeout       time.Duration
	DetachTimeout       time.Duration
	PollInterval        time.Duration
}

// Manager attaches and detaches display clients. It keeps no state of its
// own; every query goes to the socket listing.
type Manager struct {
	gw            gateway.Gateway
	layout        *layout.Layout
	clock         clock.Clock
	logger        *slog.Logger
	bin           string
	ssBin         string
	attachTimeout time.Duration
	detachTimeout time.Duration
	interval      time.Duration
}

// New creates a Manager.
func New(opts Options) *Manager {
	m := &Manager{
		gw:            opts.Gateway,
		layout:        opts.Layout,
		clock:         opts.Clock,
		logger:        logging.OrDiscard(opts.Logger),
		bin:           opts.Binary,
		ssBin:         opts.SocketInspectBinary,
		attachTimeout: opts.AttachTimeout,
		detachTimeout: opts.DetachTimeout,
		interval:      opts.PollInterval,
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.bin == "" {
		m.bin = "xpra"
	}
	if m.ssBin == "" {
		m.ssBin = "ss"
	}
	if m.attachTimeout <= 0 {
		m.attachTimeout = DefaultAttachTimeout
	}
	if m.detachTimeout <= 0 {
		m.detachTimeout = DefaultDetachTimeout
	}
	if m.interval <= 0 {
		m.interval = DefaultPollInterval
	}
	return m
}

// Version returns the display tool's version output.
func (m *Manager) Version(ctx context.Context) (string, error) {
	res := m.gw.Capture(ctx, []string{m.bin, "--version"})
	if err := res.Err(); err != nil {
		return "", err
	}
	return res.Output, nil
}

// CheckVersion fails unless the display tool speaks the required protocol.
func (m *Manager) CheckVersion(ctx context.Context) error {
	out, err := m.Version(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(out, RequiredVersion) {
		return errors.NewIncompatibleVersion(m.bin, "6.x", out)
	}
	return nil
}

// Attach starts a display client for name and waits until the session is
// live. On timeout the client is left running and LIVENESS_TIMEOUT is
// returned.
func (m *Manager) Attach(ctx context.Context, name string) error {
	m.logger.Info("attaching display", "name", name)
	if err := m.CheckVersion(ctx); err != nil {
		return err
	}

	argv := []string{m.bin, "attach", "--title=" + name, "socket:" + m.layout.SocketLinkPath(name)}
	res := m.gw.Spawn(argv, gateway.SpawnOptions{LogPath: m.layout.DisplayLogPath(name)})
	if err := res.Err(); err != nil {
		return err
	}

	if !m.waitFor(ctx, name, true, m.attachTimeout) {
		return errors.NewLivenessTimeout("attach", name, m.attachTimeout)
	}
	m.logger.Info("display attached", "name", name)
	return nil
}

// Detach asks the display client of name to disconnect and waits until the
// session is gone.
func (m *Manager) Detach(ctx context.Context, name string) error {
	m.logger.Info("detaching display", "name", name)
	res := m.gw.Capture(ctx, []string{m.bin, "detach", "socket:" + m.layout.SocketLinkPath(name)})
	if err := res.Err(); err != nil {
		return err
	}

	if !m.waitFor(ctx, name, false, m.detachTimeout) {
		return errors.NewLivenessTimeout("detach", name, m.detachTimeout)
	}
	m.logger.Info("display detached", "name", name)
	return nil
}

// IsAttached reports whether a display session for name is live. A failing
// socket listing counts as not attached.
func (m *Manager) IsAttached(ctx context.Context, name string) bool {
	res := m.gw.Capture(ctx, []string{m.ssBin, "-x"})
	if !res.Success {
		return false
	}
	return hasSocket(res.Output, layout.DisplaySocketName(name))
}

// hasSocket reports whether a socket listing names socket as a whole path
// element, so "dev_socket" does not match ".../webdev_socket".
func hasSocket(listing, socket string) bool {
	for _, field := range strings.Fields(listing) {
		if field == socket || strings.HasSuffix(field, "/"+socket) {
			return true
		}
	}
	return false
}

// waitFor polls IsAttached until it equals want or bound elapses. The probe
// runs once more at the deadline, so a session that comes up during the last
// sleep still counts. Context cancellation ends the wait early as a failure.
func (m *Manager) waitFor(ctx context.Context, name string, want bool, bound time.Duration) bool {
	deadline := m.clock.Now().Add(bound)
	for {
		if m.IsAttached(ctx, name) == want {
			return true
		}
		if ctx.Err() != nil || !m.clock.Now().Before(deadline) {
			return false
		}
		m.clock.Sleep(m.interval)
	}
}

// Package terminal opens interactive shells and shared directories on the
// user's desktop.
package terminal

import (
	"os/exec"
	"strings"

	"github.com/capsules-dev/capsules/internal/entity"
	"github.com/capsules-dev/capsules/internal/errors"
	"github.com/capsules-dev/capsules/internal/gateway"
	"github.com/capsules-dev/capsules/internal/layout"
	"github.com/capsules-dev/capsules/internal/runtime"
)

// Known lists the terminal emulators tried, in order, when none is configured.
var Known = []string{
	"gnome-terminal", "konsole", "xfce4-terminal",
	"lxterminal", "mate-terminal", "terminator",
	"alacritty", "kitty", "st",
}

// Launcher starts terminals and file managers as detached processes.
type Launcher struct {
	gw        gateway.Gateway
	rt        *runtime.Runtime
	layout    *layout.Layout
	preferred string

	// LookPath resolves executables. Defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

// New creates a Launcher. preferred is the configured terminal, empty to
// auto-detect.
func New(gw gateway.Gateway, rt *runtime.Runtime, l *layout.Layout, preferred string) *Launcher {
	return &Launcher{gw: gw, rt: rt, layout: l, preferred: preferred, LookPath: exec.LookPath}
}

// Find returns the terminal to use: the configured one if installed, otherwise
// the first installed entry of Known.
func (l *Launcher) Find() (string, error) {
	if l.preferred != "" {
		if _, err := l.LookPath(l.preferred); err == nil {
			return l.preferred, nil
		}
	}
	for _, t := range Known {
		if _, err := l.LookPath(t); err == nil {
			return t, nil
		}
	}
	return "", errors.NewInvalidRequest("no terminal found, install one of: " + strings.Join(Known, ", "))
}

// Argv wraps command in the invocation syntax terminal expects.
func Argv(terminal string, command []string) []string {
	switch terminal {
	case "gnome-terminal", "mate-terminal":
		return append([]string{terminal, "--"}, command...)
	case "xfce4-terminal":
		return []string{terminal, "--command", strings.Join(command, " ")}
	case "kitty":
		return append([]string{terminal}, command...)
	default:
		return append([]string{terminal, "-e"}, command...)
	}
}

// OpenShell opens a terminal running an interactive shell inside name.
func (l *Launcher) OpenShell(name string) error {
	if err := entity.ValidateName(name); err != nil {
		return err
	}
	term, err := l.Find()
	if err != nil {
		return err
	}
	return l.gw.Spawn(Argv(term, l.rt.InteractiveExecArgv(name)), gateway.SpawnOptions{}).Err()
}

// OpenShared opens the shared directory of a template or capsule in the
// desktop's file manager.
func (l *Launcher) OpenShared(kind entity.Kind, name string) error {
	if err := entity.ValidateName(name); err != nil {
		return err
	}
	dir := l.layout.TemplateSharedDir(name)
	exists := l.layout.HasTemplateStorage(name)
	if kind == entity.KindCapsule {
		dir = l.layout.CapsuleSharedDir(name)
		exists = l.layout.HasCapsuleStorage(name)
	}
	if !exists {
		return errors.NewNotFound(string(kind), name)
	}
	return l.gw.Spawn([]string{"xdg-open", dir}, gateway.SpawnOptions{}).Err()
}

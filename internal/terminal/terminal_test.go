package terminal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsules-dev/capsules/internal/entity"
	"github.com/capsules-dev/capsules/internal/errors"
	"github.com/capsules-dev/capsules/internal/gateway"
	"github.com/capsules-dev/capsules/internal/layout"
	"github.com/capsules-dev/capsules/internal/runtime"
)

func installed(names ...string) func(string) (string, error) {
	set := map[string]bool{}
	for _, n := range names {
		set[n] = true
	}
	return func(name string) (string, error) {
		if set[name] {
			return "/usr/bin/" + name, nil
		}
		return "", fmt.Errorf("%s: not found", name)
	}
}

func newLauncher(t *testing.T, preferred string, have ...string) (*Launcher, *gateway.Recorder) {
	t.Helper()
	rec := gateway.NewRecorder()
	l := New(rec, runtime.New(rec, "podman", nil), layout.New(t.TempDir()), preferred)
	l.LookPath = installed(have...)
	return l, rec
}

func TestFind(t *testing.T) {
	tests := []struct {
		name      string
		preferred string
		have      []string
		want      string
	}{
		{"preferred installed", "kitty", []string{"kitty", "konsole"}, "kitty"},
		{"preferred missing falls back", "wezterm", []string{"st", "konsole"}, "konsole"},
		{"detection order", "", []string{"st", "alacritty", "xfce4-terminal"}, "xfce4-terminal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newLauncher(t, tt.preferred, tt.have...)
			got, err := l.Find()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFind_NoneInstalled(t *testing.T) {
	l, _ := newLauncher(t, "")

	_, err := l.Find()
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestArgv(t *testing.T) {
	cmd := []string{"podman", "exec", "-it", "dev", "/bin/bash"}

	assert.Equal(t, []string{"gnome-terminal", "--", "podman", "exec", "-it", "dev", "/bin/bash"}, Argv("gnome-terminal", cmd))
	assert.Equal(t, []string{"konsole", "-e", "podman", "exec", "-it", "dev", "/bin/bash"}, Argv("konsole", cmd))
	assert.Equal(t, []string{"xfce4-terminal", "--command", "podman exec -it dev /bin/bash"}, Argv("xfce4-terminal", cmd))
	assert.Equal(t, []string{"kitty", "podman", "exec", "-it", "dev", "/bin/bash"}, Argv("kitty", cmd))
	assert.Equal(t, []string{"st", "-e", "podman", "exec", "-it", "dev", "/bin/bash"}, Argv("st", cmd))
}

func TestOpenShell(t *testing.T) {
	l, rec := newLauncher(t, "", "konsole")

	require.NoError(t, l.OpenShell("dev"))
	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, gateway.ModeSpawn, calls[0].Mode)
	assert.Equal(t, "konsole -e podman exec -it dev /bin/bash", calls[0].String())
}

func TestOpenShared(t *testing.T) {
	l, rec := newLauncher(t, "")
	require.NoError(t, l.layout.PrepareCapsule("dev"))

	require.NoError(t, l.OpenShared(entity.KindCapsule, "dev"))
	assert.Equal(t, []string{"xdg-open " + l.layout.CapsuleSharedDir("dev")}, rec.Commands())

	err := l.OpenShared(entity.KindTemplate, "dev")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

package gateway

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsules-dev/capsules/internal/errors"
)

func TestExec_CaptureSuccess(t *testing.T) {
	g := NewExec(nil)

	res := g.Capture(context.Background(), []string{"sh", "-c", "echo '  hello  '"})
	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, "hello", res.Output)
	assert.NoError(t, res.Err())
}

func TestExec_CaptureNonZeroExit(t *testing.T) {
	g := NewExec(nil)

	res := g.Capture(context.Background(), []string{"sh", "-c", "echo broken >&2; exit 3"})
	require.False(t, res.Success)
	assert.Equal(t, "broken", res.ErrorMessage)

	err := res.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCommandFailed))
	assert.Equal(t, errors.KindProcess, errors.KindOf(err))
}

func TestExec_CaptureMissingExecutable(t *testing.T) {
	g := NewExec(nil)

	res := g.Capture(context.Background(), []string{"capsules-no-such-binary-xyz"})
	require.False(t, res.Success)
	assert.NotEmpty(t, res.ErrorMessage)
}

func TestExec_EmptyCommand(t *testing.T) {
	g := NewExec(nil)

	assert.False(t, g.Capture(context.Background(), nil).Success)
	assert.False(t, g.Stream(context.Background(), nil, nil).Success)
	assert.False(t, g.Spawn(nil, SpawnOptions{}).Success)
}

func TestExec_StreamForwardsLines(t *testing.T) {
	g := NewExec(nil)

	var lines []string
	res := g.Stream(context.Background(), []string{"sh", "-c", "echo one; echo two >&2; echo; echo three"}, func(line string) {
		lines = append(lines, line)
	})
	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestExec_StreamFailureKeepsTail(t *testing.T) {
	g := NewExec(nil)

	res := g.Stream(context.Background(), []string{"sh", "-c", "echo step one; echo no space left >&2; exit 1"}, func(string) {})
	require.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "no space left")
	assert.Contains(t, res.ErrorMessage, "exit status 1")
}

func TestExec_StreamOverlongLineDoesNotHang(t *testing.T) {
	g := NewExec(nil)
	script := "head -c 3000000 /dev/zero | tr '\\0' a; echo; echo done; exit 3"

	done := make(chan Result, 1)
	var lines []string
	go func() {
		done <- g.Stream(context.Background(), []string{"sh", "-c", script}, func(line string) {
			lines = append(lines, line)
		})
	}()

	select {
	case res := <-done:
		require.False(t, res.Success)
		assert.Contains(t, res.ErrorMessage, "token too long")
		assert.Contains(t, res.ErrorMessage, "exit status 3")
		assert.Empty(t, lines)
	case <-time.After(10 * time.Second):
		t.Fatal("Stream did not return after an overlong line")
	}
}

func TestForwardLines_DrainsAfterOverflow(t *testing.T) {
	long := strings.Repeat("x", maxLineBytes+1)
	r := strings.NewReader("first\n" + long + "\nafter\n")

	var got []string
	tail, err := forwardLines(r, func(l string) { got = append(got, l) }, 5)
	require.ErrorIs(t, err, bufio.ErrTooLong)
	assert.Equal(t, []string{"first"}, got)
	assert.Equal(t, []string{"first"}, tail)
	assert.Zero(t, r.Len())
}

func TestExec_SpawnWritesLog(t *testing.T) {
	g := NewExec(nil)
	logPath := filepath.Join(t.TempDir(), "client.log")
	require.NoError(t, os.WriteFile(logPath, []byte("stale content\n"), 0600))

	res := g.Spawn([]string{"sh", "-c", "echo attached"}, SpawnOptions{LogPath: logPath})
	require.True(t, res.Success, res.ErrorMessage)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(logPath)
		return err == nil && strings.TrimSpace(string(data)) == "attached"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestExec_SpawnMissingExecutable(t *testing.T) {
	g := NewExec(nil)

	res := g.Spawn([]string{"capsules-no-such-binary-xyz"}, SpawnOptions{})
	assert.False(t, res.Success)
}

func TestRecorder_RulesAndOrder(t *testing.T) {
	r := NewRecorder()
	r.OnOutput([]string{"podman", "inspect"}, "running")
	r.OnFail([]string{"podman", "start"}, "no such container")
	r.OnOutput([]string{"podman", "inspect", "--format={{.HostConfig.NetworkMode}}"}, "pasta")

	ctx := context.Background()
	assert.Equal(t, "running", r.Capture(ctx, []string{"podman", "inspect", "--format={{.State.Status}}", "dev"}).Output)
	assert.Equal(t, "pasta", r.Capture(ctx, []string{"podman", "inspect", "--format={{.HostConfig.NetworkMode}}", "dev"}).Output)

	res := r.Capture(ctx, []string{"podman", "start", "dev"})
	assert.False(t, res.Success)
	assert.Equal(t, []string{"podman", "start", "dev"}, res.Command)

	assert.True(t, r.Spawn([]string{"xpra", "attach"}, SpawnOptions{LogPath: "/tmp/x.log"}).Success)

	calls := r.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, ModeSpawn, calls[3].Mode)
	assert.Equal(t, "/tmp/x.log", calls[3].LogPath)
	assert.Equal(t, []string{"podman start dev"}, r.CommandsWith("podman", "start"))
}

func TestRecorder_StreamFeedsSink(t *testing.T) {
	r := NewRecorder()
	r.OnOutput([]string{"podman", "build"}, "STEP 1/2\nSTEP 2/2")

	var lines []string
	res := r.Stream(context.Background(), []string{"podman", "build", "."}, func(l string) { lines = append(lines, l) })
	assert.True(t, res.Success)
	assert.Empty(t, res.Output)
	assert.Equal(t, []string{"STEP 1/2", "STEP 2/2"}, lines)
}

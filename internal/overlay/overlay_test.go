package overlay

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsules-dev/capsules/internal/layout"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newSnapshot creates a template whose snapshot has /etc and /home.
func newSnapshot(t *testing.T) (*Composer, *layout.Layout) {
	t.Helper()
	l := layout.New(t.TempDir())
	require.NoError(t, l.PrepareTemplate("base"))
	rootfs := l.TemplateRootfsDir("base")
	writeFile(t, filepath.Join(rootfs, "etc", "hostname"), "template")
	writeFile(t, filepath.Join(rootfs, "etc", "motd"), "hello")
	writeFile(t, filepath.Join(rootfs, "home", "user", ".bashrc"), "alias ll='ls -l'")
	writeFile(t, filepath.Join(rootfs, "not-a-dir"), "")
	return New(l), l
}

func TestMount_VolumeArg(t *testing.T) {
	m := Mount{Lower: "/t/rootfs/etc", Upper: "/c/etc/upper", Work: "/c/etc/work", Target: "/etc"}
	assert.Equal(t, "/t/rootfs/etc:/etc:O,upperdir=/c/etc/upper,workdir=/c/etc/work", m.VolumeArg())
}

func TestCompose(t *testing.T) {
	c, l := newSnapshot(t)

	dirs, err := c.SnapshotDirs("base")
	require.NoError(t, err)
	assert.Equal(t, []string{"etc", "home"}, dirs)

	mounts, err := c.Compose("dev", "base")
	require.NoError(t, err)
	require.Len(t, mounts, 2)

	assert.Equal(t, "/etc", mounts[0].Target)
	assert.Equal(t, filepath.Join(l.TemplateRootfsDir("base"), "etc"), mounts[0].Lower)
	assert.Equal(t, filepath.Join(l.CapsuleOverlayDir("dev"), "etc", "upper"), mounts[0].Upper)
	for _, m := range mounts {
		assert.DirExists(t, m.Upper)
		assert.DirExists(t, m.Work)
	}

	_, err = c.Compose("dev", "base")
	assert.Error(t, err, "overlay directories are never reused")
}

func TestCompose_MissingSnapshot(t *testing.T) {
	c := New(layout.New(t.TempDir()))

	_, err := c.Compose("dev", "ghost")
	assert.Error(t, err)
}

func TestCompose_RejectsCommaPaths(t *testing.T) {
	l := layout.New(filepath.Join(t.TempDir(), "a,b"))
	require.NoError(t, l.PrepareTemplate("base"))
	require.NoError(t, os.MkdirAll(filepath.Join(l.TemplateRootfsDir("base"), "etc"), 0o755))

	_, err := New(l).Compose("dev", "base")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "comma")
}

func TestView_UpperShadowsLower(t *testing.T) {
	c, _ := newSnapshot(t)
	mounts, err := c.Compose("dev", "base")
	require.NoError(t, err)
	writeFile(t, filepath.Join(mounts[0].Upper, "hostname"), "capsule")

	v, err := c.View("dev", "base")
	require.NoError(t, err)

	data, err := v.ReadFile("/etc/hostname")
	require.NoError(t, err)
	assert.Equal(t, "capsule", string(data))

	data, err = v.ReadFile("/etc/motd")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = v.ReadFile("/var/log")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestView_WhiteoutHidesLower(t *testing.T) {
	c, _ := newSnapshot(t)
	mounts, err := c.Compose("dev", "base")
	require.NoError(t, err)
	writeFile(t, filepath.Join(mounts[0].Upper, ".wh.motd"), "")

	v, err := c.View("dev", "base")
	require.NoError(t, err)

	_, err = v.Stat("/etc/motd")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestView_OpaqueDirHidesLowerChildren(t *testing.T) {
	c, _ := newSnapshot(t)
	mounts, err := c.Compose("dev", "base")
	require.NoError(t, err)
	home := mounts[1].Upper
	writeFile(t, filepath.Join(home, "user", ".wh..wh..opq"), "")
	writeFile(t, filepath.Join(home, "user", "notes"), "new")

	v, err := c.View("dev", "base")
	require.NoError(t, err)

	_, err = v.Stat("/home/user/.bashrc")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	data, err := v.ReadFile("/home/user/notes")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestView_CapsulesAreIsolated(t *testing.T) {
	c, l := newSnapshot(t)
	first, err := c.Compose("one", "base")
	require.NoError(t, err)
	_, err = c.Compose("two", "base")
	require.NoError(t, err)

	writeFile(t, filepath.Join(first[0].Upper, "hostname"), "one")
	writeFile(t, filepath.Join(first[0].Upper, "extra"), "x")

	two, err := c.View("two", "base")
	require.NoError(t, err)
	data, err := two.ReadFile("/etc/hostname")
	require.NoError(t, err)
	assert.Equal(t, "template", string(data))
	_, err = two.Stat("/etc/extra")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	// The snapshot itself is untouched.
	raw, err := os.ReadFile(filepath.Join(l.TemplateRootfsDir("base"), "etc", "hostname"))
	require.NoError(t, err)
	assert.Equal(t, "template", string(raw))
}

func TestDiff(t *testing.T) {
	c, _ := newSnapshot(t)
	mounts, err := c.Compose("dev", "base")
	require.NoError(t, err)
	etc, home := mounts[0].Upper, mounts[1].Upper
	writeFile(t, filepath.Join(etc, "hostname"), "changed")
	writeFile(t, filepath.Join(etc, ".wh.motd"), "")
	writeFile(t, filepath.Join(home, "user", "notes.txt"), "new")
	writeFile(t, filepath.Join(home, "guest", "profile"), "new")

	changes, err := c.Diff("dev", "base")
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{Kind: ChangeModified, Path: "/etc/hostname"},
		{Kind: ChangeDeleted, Path: "/etc/motd"},
		{Kind: ChangeAdded, Path: "/home/guest/"},
		{Kind: ChangeAdded, Path: "/home/guest/profile"},
		{Kind: ChangeAdded, Path: "/home/user/notes.txt"},
	}, changes)
}

func TestDiff_Untouched(t *testing.T) {
	c, _ := newSnapshot(t)
	_, err := c.Compose("dev", "base")
	require.NoError(t, err)

	changes, err := c.Diff("dev", "base")
	require.NoError(t, err)
	assert.Empty(t, changes)
}

package overlay

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Whiteout markers. Kernel overlayfs uses 0/0 character devices; the
// userspace implementation falls back to prefixed marker files when it cannot
// create device nodes.
const (
	whiteoutPrefix = ".wh."
	opaqueMarker   = ".wh..wh..opq"
)

// View is a read-only union of a capsule's upper layers over its template's
// snapshot, resolved the way the overlay mount would resolve it.
type View struct {
	mounts map[string]Mount
}

// View returns the union read view of capsule. The capsule's overlay
// directories must already exist.
func (c *Composer) View(capsule, template string) (*View, error) {
	dirs, err := c.SnapshotDirs(template)
	if err != nil {
		return nil, err
	}
	v := &View{mounts: make(map[string]Mount, len(dirs))}
	base := c.layout.CapsuleOverlayDir(capsule)
	for _, dir := range dirs {
		v.mounts[dir] = Mount{
			Lower:  filepath.Join(c.layout.TemplateRootfsDir(template), dir),
			Upper:  filepath.Join(base, dir, "upper"),
			Work:   filepath.Join(base, dir, "work"),
			Target: "/" + dir,
		}
	}
	return v, nil
}

// resolve maps an absolute in-capsule path to the host file that backs it.
func (v *View) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	top, rel, _ := strings.Cut(strings.TrimPrefix(clean, "/"), "/")
	m, ok := v.mounts[top]
	if !ok {
		return "", &fs.PathError{Op: "open", Path: clean, Err: fs.ErrNotExist}
	}

	// Walk down the upper layer. A whiteout on any component hides the lower
	// entry; an opaque directory hides everything below it in the lower layer.
	upper := m.Upper
	lowerVisible := true
	if rel != "" {
		for _, part := range strings.Split(rel, "/") {
			if isWhiteout(filepath.Join(upper, part)) || exists(filepath.Join(upper, whiteoutPrefix+part)) {
				return "", &fs.PathError{Op: "open", Path: clean, Err: fs.ErrNotExist}
			}
			if exists(filepath.Join(upper, opaqueMarker)) {
				lowerVisible = false
			}
			upper = filepath.Join(upper, part)
		}
	}
	if exists(upper) {
		return upper, nil
	}
	if !lowerVisible {
		return "", &fs.PathError{Op: "open", Path: clean, Err: fs.ErrNotExist}
	}
	lower := filepath.Join(m.Lower, filepath.FromSlash(rel))
	if !exists(lower) {
		return "", &fs.PathError{Op: "open", Path: clean, Err: fs.ErrNotExist}
	}
	return lower, nil
}

// Open opens the file visible at p inside the capsule.
func (v *View) Open(p string) (*os.File, error) {
	host, err := v.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.Open(host)
}

// ReadFile returns the contents of the file visible at p.
func (v *View) ReadFile(p string) ([]byte, error) {
	host, err := v.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(host)
}

// Stat describes the file visible at p.
func (v *View) Stat(p string) (fs.FileInfo, error) {
	host, err := v.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.Lstat(host)
}

// isWhiteout reports whether path is a 0/0 character device.
func isWhiteout(path string) bool {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFCHR && st.Rdev == 0
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

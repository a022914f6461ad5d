// Package overlay composes the copy-on-write filesystem of a capsule.
//
// A template's root-filesystem snapshot is the shared, read-only lower layer.
// Every capsule gets its own upper and work directory per snapshot directory,
// so writes made by one capsule never reach the template or another capsule.
package overlay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/capsules-dev/capsules/internal/layout"
)

// Mount is one overlay mount for a capsule resource.
type Mount struct {
	Lower  string `json:"lower"`
	Upper  string `json:"upper"`
	Work   string `json:"work"`
	Target string `json:"target"`
}

// VolumeArg renders the mount as a runtime volume argument.
func (m Mount) VolumeArg() string {
	return fmt.Sprintf("%s:%s:O,upperdir=%s,workdir=%s", m.Lower, m.Target, m.Upper, m.Work)
}

// Composer allocates overlay directories inside the storage layout.
type Composer struct {
	layout *layout.Layout
}

// New creates a Composer.
func New(l *layout.Layout) *Composer {
	return &Composer{layout: l}
}

// SnapshotDirs returns the sorted top-level directories of a template's
// root-filesystem snapshot.
func (c *Composer) SnapshotDirs(template string) ([]string, error) {
	entries, err := os.ReadDir(c.layout.TemplateRootfsDir(template))
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}

// Compose allocates fresh upper and work directories for every snapshot
// directory of template and returns the mounts for capsule. It fails if the
// capsule already has overlay directories for a snapshot directory.
func (c *Composer) Compose(capsule, template string) ([]Mount, error) {
	dirs, err := c.SnapshotDirs(template)
	if err != nil {
		return nil, fmt.Errorf("read snapshot of %s: %w", template, err)
	}

	base := c.layout.CapsuleOverlayDir(capsule)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}

	mounts := make([]Mount, 0, len(dirs))
	for _, dir := range dirs {
		m := Mount{
			Lower:  filepath.Join(c.layout.TemplateRootfsDir(template), dir),
			Upper:  filepath.Join(base, dir, "upper"),
			Work:   filepath.Join(base, dir, "work"),
			Target: "/" + dir,
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		if err := os.Mkdir(filepath.Join(base, dir), 0o755); err != nil {
			return nil, fmt.Errorf("allocate overlay for %s: %w", m.Target, err)
		}
		for _, d := range []string{m.Upper, m.Work} {
			if err := os.Mkdir(d, 0o755); err != nil {
				return nil, err
			}
		}
		mounts = append(mounts, m)
	}
	return mounts, nil
}

// validate rejects paths that would corrupt the comma-separated mount options.
func (m Mount) validate() error {
	for field, path := range map[string]string{"lower": m.Lower, "upper": m.Upper, "work": m.Work, "target": m.Target} {
		if strings.Contains(path, ",") {
			return fmt.Errorf("overlay %s path %q contains a comma", field, path)
		}
		if strings.ContainsAny(path, "\x00\n\r:") {
			return fmt.Errorf("overlay %s path %q contains invalid characters", field, path)
		}
	}
	return nil
}

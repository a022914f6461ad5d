package overlay

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ChangeKind classifies a path in a capsule's upper layer.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// Change is one difference between a capsule and its template.
type Change struct {
	Kind ChangeKind `json:"kind" yaml:"kind"`
	Path string     `json:"path" yaml:"path"`
}

// Diff lists what capsule has changed relative to its template's snapshot,
// sorted by path.
func (c *Composer) Diff(capsule, template string) ([]Change, error) {
	v, err := c.View(capsule, template)
	if err != nil {
		return nil, err
	}

	var changes []Change
	for _, m := range v.mounts {
		if _, err := os.Stat(m.Upper); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(m.Upper, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p == m.Upper {
				return nil
			}
			rel, err := filepath.Rel(m.Upper, p)
			if err != nil {
				return err
			}
			name := d.Name()
			target := path.Join(m.Target, filepath.ToSlash(rel))

			switch {
			case name == opaqueMarker:
				return nil
			case strings.HasPrefix(name, whiteoutPrefix):
				target = path.Join(path.Dir(target), strings.TrimPrefix(name, whiteoutPrefix))
				changes = append(changes, Change{Kind: ChangeDeleted, Path: target})
				return nil
			case isWhiteout(p):
				changes = append(changes, Change{Kind: ChangeDeleted, Path: target})
				return nil
			}

			_, lowerErr := os.Lstat(filepath.Join(m.Lower, rel))
			inLower := lowerErr == nil
			switch {
			case d.IsDir() && inLower:
				// Copied up only to hold changed children.
			case d.IsDir():
				changes = append(changes, Change{Kind: ChangeAdded, Path: target + "/"})
			case inLower:
				changes = append(changes, Change{Kind: ChangeModified, Path: target})
			default:
				changes = append(changes, Change{Kind: ChangeAdded, Path: target})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

// Package layout owns the on-disk storage tree. Every persisted path is
// computed here; one directory per entity, keyed by its name.
//
//	<root>/templates/<name>/metadata.json
//	<root>/templates/<name>/rootfs/<dir>/          snapshot copied from the base image
//	<root>/templates/<name>/shared/                mounted at /template_data
//	<root>/capsules/<name>/metadata.json
//	<root>/capsules/<name>/socket/socket           link to the display socket
//	<root>/capsules/<name>/overlay_fs/<dir>/{upper,work}
//	<root>/capsules/<name>/shared/                 mounted at /capsule_data
//	<root>/capsules/<name>/xpra_client.log
package layout

import (
	"os"
	"path/filepath"
	"sort"
)

// Fixed paths inside runtime resources.
const (
	TemplateDataMount = "/template_data"
	CapsuleDataMount  = "/capsule_data"
	SnapshotMount     = "/mnt/root_dirs"
)

const metadataFile = "metadata.json"

// Layout computes storage paths beneath Root.
type Layout struct {
	Root string
}

// New creates a Layout rooted at root.
func New(root string) *Layout {
	return &Layout{Root: root}
}

// TemplatesDir is the parent of every template directory.
func (l *Layout) TemplatesDir() string { return filepath.Join(l.Root, "templates") }

// CapsulesDir is the parent of every capsule directory.
func (l *Layout) CapsulesDir() string { return filepath.Join(l.Root, "capsules") }

// TemplateDir is the storage directory of a template.
func (l *Layout) TemplateDir(name string) string { return filepath.Join(l.TemplatesDir(), name) }

// CapsuleDir is the storage directory of a capsule.
func (l *Layout) CapsuleDir(name string) string { return filepath.Join(l.CapsulesDir(), name) }

// TemplateRootfsDir holds the template's root-filesystem snapshot.
func (l *Layout) TemplateRootfsDir(name string) string {
	return filepath.Join(l.TemplateDir(name), "rootfs")
}

// TemplateSharedDir is bind-mounted into the template at TemplateDataMount.
func (l *Layout) TemplateSharedDir(name string) string {
	return filepath.Join(l.TemplateDir(name), "shared")
}

// CapsuleSharedDir is bind-mounted into the capsule at CapsuleDataMount.
func (l *Layout) CapsuleSharedDir(name string) string {
	return filepath.Join(l.CapsuleDir(name), "shared")
}

// CapsuleOverlayDir holds the capsule's private upper/work directories.
func (l *Layout) CapsuleOverlayDir(name string) string {
	return filepath.Join(l.CapsuleDir(name), "overlay_fs")
}

// CapsuleSocketDir holds the link to the capsule's display socket.
func (l *Layout) CapsuleSocketDir(name string) string {
	return filepath.Join(l.CapsuleDir(name), "socket")
}

// SocketLinkPath is the host path the display client connects to.
func (l *Layout) SocketLinkPath(name string) string {
	return filepath.Join(l.CapsuleSocketDir(name), "socket")
}

// DisplaySocketName is the socket file name. It doubles as the liveness marker
// searched for in the socket listing.
func DisplaySocketName(name string) string { return name + "_socket" }

// DisplaySocketPath is the host path of the socket created by the capsule's
// display server.
func (l *Layout) DisplaySocketPath(name string) string {
	return filepath.Join(l.CapsuleSharedDir(name), "xpra", DisplaySocketName(name))
}

// DisplaySocketInContainer is the socket path the display server binds to.
func DisplaySocketInContainer(name string) string {
	return CapsuleDataMount + "/xpra/" + DisplaySocketName(name)
}

// DisplayLogPath receives the display client's output, truncated on each attach.
func (l *Layout) DisplayLogPath(name string) string {
	return filepath.Join(l.CapsuleDir(name), "xpra_client.log")
}

// TemplateMetadataPath is the template's metadata file.
func (l *Layout) TemplateMetadataPath(name string) string {
	return filepath.Join(l.TemplateDir(name), metadataFile)
}

// CapsuleMetadataPath is the capsule's metadata file.
func (l *Layout) CapsuleMetadataPath(name string) string {
	return filepath.Join(l.CapsuleDir(name), metadataFile)
}

// HasTemplateStorage reports whether the template directory exists.
func (l *Layout) HasTemplateStorage(name string) bool { return isDir(l.TemplateDir(name)) }

// HasCapsuleStorage reports whether the capsule directory exists.
func (l *Layout) HasCapsuleStorage(name string) bool { return isDir(l.CapsuleDir(name)) }

// TemplateNames lists template directories, sorted.
func (l *Layout) TemplateNames() ([]string, error) { return listDirs(l.TemplatesDir()) }

// CapsuleNames lists capsule directories, sorted.
func (l *Layout) CapsuleNames() ([]string, error) { return listDirs(l.CapsulesDir()) }

// PrepareTemplate creates the template directory tree.
func (l *Layout) PrepareTemplate(name string) error {
	for _, dir := range []string{l.TemplateRootfsDir(name), l.TemplateSharedDir(name)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// PrepareCapsule creates the capsule directory tree and links the socket
// directory to where the display server will create its socket.
func (l *Layout) PrepareCapsule(name string) error {
	dirs := []string{
		l.CapsuleSocketDir(name),
		l.CapsuleOverlayDir(name),
		filepath.Dir(l.DisplaySocketPath(name)),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	link := l.SocketLinkPath(name)
	if _, err := os.Lstat(link); err == nil {
		return nil
	}
	return os.Symlink(l.DisplaySocketPath(name), link)
}

// listDirs returns the sorted names of directories directly inside dir.
// A missing dir yields an empty list.
func listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

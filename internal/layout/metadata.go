package layout

import (
	"encoding/json"
	"fmt"
	"os"
)

// TemplateMetadata is persisted with every template.
type TemplateMetadata struct {
	BaseImage      string `json:"base_image"`
	NetworkEnabled bool   `json:"network_enabled"`
	CreatedAt      int64  `json:"created_at"`
}

// CapsuleMetadata is persisted with every capsule. Template is the
// non-nullable reference used for dependent lookups.
type CapsuleMetadata struct {
	Template       string   `json:"template"`
	NetworkEnabled bool     `json:"network_enabled"`
	Ports          []string `json:"ports,omitempty"`
	CreatedAt      int64    `json:"created_at"`
}

// WriteTemplateMetadata persists template metadata.
func (l *Layout) WriteTemplateMetadata(name string, m TemplateMetadata) error {
	return writeJSON(l.TemplateMetadataPath(name), m)
}

// ReadTemplateMetadata loads template metadata. A missing file returns an
// error satisfying os.IsNotExist.
func (l *Layout) ReadTemplateMetadata(name string) (*TemplateMetadata, error) {
	var m TemplateMetadata
	if err := readJSON(l.TemplateMetadataPath(name), &m); err != nil {
		return nil, err
	}
	if m.BaseImage == "" {
		return nil, fmt.Errorf("template %s: metadata has no base image", name)
	}
	return &m, nil
}

// WriteCapsuleMetadata persists capsule metadata.
func (l *Layout) WriteCapsuleMetadata(name string, m CapsuleMetadata) error {
	return writeJSON(l.CapsuleMetadataPath(name), m)
}

// ReadCapsuleMetadata loads capsule metadata. A missing file returns an
// error satisfying os.IsNotExist.
func (l *Layout) ReadCapsuleMetadata(name string) (*CapsuleMetadata, error) {
	var m CapsuleMetadata
	if err := readJSON(l.CapsuleMetadataPath(name), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

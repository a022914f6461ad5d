// Package entity defines templates, capsules, and the small value types shared
// by every layer: port mappings, runtime status, and provisioning state.
package entity

import (
	"regexp"

	"github.com/capsules-dev/capsules/internal/errors"
)

// Kind distinguishes the two entity namespaces. Names are unique across both.
type Kind string

const (
	KindTemplate Kind = "template"
	KindCapsule  Kind = "capsule"
)

// Template is a reusable, long-lived environment derived from a base image.
// Its root-filesystem snapshot is immutable after creation.
type Template struct {
	Name           string `json:"name" yaml:"name"`
	BaseImage      string `json:"base_image" yaml:"base_image"`
	NetworkEnabled bool   `json:"network_enabled" yaml:"network_enabled"`
	Status         Status `json:"status" yaml:"status"`
	Network        string `json:"network" yaml:"network"`
	State          State  `json:"state" yaml:"state"`
}

// Capsule is an instance forked from a template with its own writable
// overlays, optional port bindings, and optional display session.
type Capsule struct {
	Name            string        `json:"name" yaml:"name"`
	TemplateName    string        `json:"template" yaml:"template"`
	NetworkEnabled  bool          `json:"network_enabled" yaml:"network_enabled"`
	Ports           []PortMapping `json:"ports" yaml:"ports"`
	Status          Status        `json:"status" yaml:"status"`
	Network         string        `json:"network" yaml:"network"`
	DisplayAttached bool          `json:"display_attached" yaml:"display_attached"`
	State           State         `json:"state" yaml:"state"`
}

// MaxNameLength bounds entity names so they stay valid runtime resource names.
const MaxNameLength = 63

// namePattern is the set of names accepted as runtime resource names,
// directory names, and values inside comma-separated mount options.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidateName checks that name can be used for a template or capsule.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.NewInvalidName(name, "name must not be empty")
	case len(name) > MaxNameLength:
		return errors.NewInvalidName(name, "name is longer than 63 characters")
	case !namePattern.MatchString(name):
		return errors.NewInvalidName(name, "use letters, digits, '_', '.', or '-' and start with a letter or digit")
	}
	return nil
}

package entity

import "strings"

// Status is the runtime's process state for a resource.
type Status string

const (
	StatusRunning    Status = "running"
	StatusCreated    Status = "created"
	StatusExited     Status = "exited"
	StatusPaused     Status = "paused"
	StatusRestarting Status = "restarting"
	StatusDead       Status = "dead"
	StatusUnknown    Status = "unknown"
)

// ParseStatus maps a raw runtime state string into the fixed vocabulary.
// Anything unrecognized becomes StatusUnknown; it is never an error because
// the runtime's vocabulary can grow independently of ours.
func ParseStatus(raw string) Status {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusRunning, StatusCreated, StatusExited, StatusPaused, StatusRestarting, StatusDead:
		return s
	default:
		return StatusUnknown
	}
}

// State describes how far an entity has been provisioned.
type State string

const (
	// StateAbsent means neither storage nor a runtime resource exists.
	StateAbsent State = "absent"
	// StateStorageOnly means storage exists but the runtime resource does not,
	// typically because provisioning failed after storage was written.
	StateStorageOnly State = "storage-only"
	// StateResourceOnly means a runtime resource exists without storage.
	StateResourceOnly State = "resource-only"
	// StateProvisioned means both storage and the runtime resource exist.
	StateProvisioned State = "storage+resource"
)

// StateOf derives a State from the two existence checks.
func StateOf(hasStorage, hasResource bool) State {
	switch {
	case hasStorage && hasResource:
		return StateProvisioned
	case hasStorage:
		return StateStorageOnly
	case hasResource:
		return StateResourceOnly
	default:
		return StateAbsent
	}
}

// Package mcp exposes the capsule operations as an MCP server over stdio.
package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/capsules-dev/capsules/internal/config"
	"github.com/capsules-dev/capsules/internal/lifecycle"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"baseimage_list": {
		def:     baseImageListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBaseImageList },
	},
	"template_list": {
		def:     templateListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTemplateList },
	},
	"template_create": {
		def:     templateCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTemplateCreate },
	},
	"template_delete": {
		def: templateDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc {
			return h.named(func(n string) lifecycle.Request { return lifecycle.DeleteTemplate{Name: n} })
		},
	},
	"capsule_list": {
		def:     capsuleListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCapsuleList },
	},
	"capsule_create": {
		def:     capsuleCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCapsuleCreate },
	},
	"capsule_delete": {
		def: capsuleDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc {
			return h.named(func(n string) lifecycle.Request { return lifecycle.DeleteCapsule{Name: n} })
		},
	},
	"start": {
		def: startToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc {
			return h.named(func(n string) lifecycle.Request { return lifecycle.Start{Name: n} })
		},
	},
	"stop": {
		def: stopToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc {
			return h.named(func(n string) lifecycle.Request { return lifecycle.Stop{Name: n} })
		},
	},
	"restart": {
		def: restartToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc {
			return h.named(func(n string) lifecycle.Request { return lifecycle.Restart{Name: n} })
		},
	},
	"execute": {
		def:     executeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExecute },
	},
	"capsule_attach": {
		def: capsuleAttachToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc {
			return h.named(func(n string) lifecycle.Request { return lifecycle.Attach{Name: n} })
		},
	},
	"capsule_detach": {
		def: capsuleDetachToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc {
			return h.named(func(n string) lifecycle.Request { return lifecycle.Detach{Name: n} })
		},
	},
	"capsule_diff": {
		def:     capsuleDiffToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCapsuleDiff },
	},
	"history": {
		def:     historyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistory },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with the capsule tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(deps Deps, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"capsules",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(deps)

	disabled := make(map[string]bool)
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(deps Deps, cfg *config.Config, version string) error {
	return server.ServeStdio(NewServer(deps, cfg, version))
}

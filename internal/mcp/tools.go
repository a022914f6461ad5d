package mcp

import "github.com/mark3labs/mcp-go/mcp"

func nameArg(desc string) mcp.ToolOption {
	return mcp.WithString("name", mcp.Required(), mcp.Description(desc))
}

var baseImageListToolDef = mcp.NewTool("baseimage_list",
	mcp.WithDescription("List the base images templates can be built from."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var templateListToolDef = mcp.NewTool("template_list",
	mcp.WithDescription("List templates with their runtime status and provisioning state."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var templateCreateToolDef = mcp.NewTool("template_create",
	mcp.WithDescription("Build a base image and create a template from it. Blocks until the build finishes."),
	nameArg("New template name, unique across templates and capsules."),
	mcp.WithString("base_image", mcp.Required(), mcp.Description("Base image to build (see baseimage_list).")),
	mcp.WithBoolean("network_disabled", mcp.Description("Create the template without network access.")),
)

var templateDeleteToolDef = mcp.NewTool("template_delete",
	mcp.WithDescription("Delete a template. Fails with HAS_DEPENDENTS while capsules still use it."),
	mcp.WithDestructiveHintAnnotation(true),
	nameArg("Template name."),
)

var capsuleListToolDef = mcp.NewTool("capsule_list",
	mcp.WithDescription("List capsules with status, ports, and whether a display client is attached."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var capsuleCreateToolDef = mcp.NewTool("capsule_create",
	mcp.WithDescription("Create a capsule forked from a template, with its own writable overlays."),
	nameArg("New capsule name, unique across templates and capsules."),
	mcp.WithString("template", mcp.Required(), mcp.Description("Template to fork.")),
	mcp.WithBoolean("network_disabled", mcp.Description("Create the capsule without network access. Port mappings are ignored.")),
	mcp.WithArray("ports",
		mcp.Description("Port mappings as <host>:<container>[/tcp|udp], host port 1024-65535."),
		mcp.WithStringItems(),
	),
)

var capsuleDeleteToolDef = mcp.NewTool("capsule_delete",
	mcp.WithDescription("Delete a capsule and its overlays. Detaches the display first."),
	mcp.WithDestructiveHintAnnotation(true),
	nameArg("Capsule name."),
)

var startToolDef = mcp.NewTool("start",
	mcp.WithDescription("Start a template or capsule."),
	nameArg("Template or capsule name."),
)

var stopToolDef = mcp.NewTool("stop",
	mcp.WithDescription("Stop a template or capsule. An attached display is detached first."),
	nameArg("Template or capsule name."),
)

var restartToolDef = mcp.NewTool("restart",
	mcp.WithDescription("Restart a template or capsule. An attached display is detached first."),
	nameArg("Template or capsule name."),
)

var executeToolDef = mcp.NewTool("execute",
	mcp.WithDescription("Run a command inside a running template or capsule without waiting for it."),
	nameArg("Template or capsule name."),
	mcp.WithArray("command", mcp.Required(), mcp.Description("Command and arguments."), mcp.WithStringItems()),
)

var capsuleAttachToolDef = mcp.NewTool("capsule_attach",
	mcp.WithDescription("Open the capsule's display in a window on the host. No-op when already attached."),
	nameArg("Capsule name."),
)

var capsuleDetachToolDef = mcp.NewTool("capsule_detach",
	mcp.WithDescription("Close the capsule's display window. No-op when not attached."),
	nameArg("Capsule name."),
)

var capsuleDiffToolDef = mcp.NewTool("capsule_diff",
	mcp.WithDescription("List files a capsule has added, modified, or deleted relative to its template."),
	mcp.WithReadOnlyHintAnnotation(true),
	nameArg("Capsule name."),
)

var historyToolDef = mcp.NewTool("history",
	mcp.WithDescription("Show recent operations, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("name", mcp.Description("Only operations on this template or capsule.")),
	mcp.WithNumber("limit", mcp.Description("Maximum entries (default 20).")),
)

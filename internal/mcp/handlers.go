package mcp

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/capsules-dev/capsules/internal/db"
	"github.com/capsules-dev/capsules/internal/entity"
	"github.com/capsules-dev/capsules/internal/errors"
	"github.com/capsules-dev/capsules/internal/lifecycle"
	"github.com/capsules-dev/capsules/internal/overlay"
	"github.com/capsules-dev/capsules/internal/registry"
)

// Controller runs lifecycle requests on the executor and waits for them.
type Controller interface {
	Do(ctx context.Context, r lifecycle.Request) (lifecycle.Result, error)
}

// Operator covers the operations that bypass the executor.
type Operator interface {
	Exec(name string, command []string) error
	Diff(name string) ([]overlay.Change, error)
}

// Deps holds what the tool handlers need.
type Deps struct {
	Registry *registry.Registry
	Control  Controller
	Operator Operator
	DB       *sql.DB
}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	Deps
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{Deps: deps}
}

// NameRequest is the argument shape of every single-target tool.
type NameRequest struct {
	Name string `json:"name"`
}

// TemplateCreateRequest represents the arguments for template_create.
type TemplateCreateRequest struct {
	Name            string `json:"name"`
	BaseImage       string `json:"base_image"`
	NetworkDisabled bool   `json:"network_disabled,omitempty"`
}

// CapsuleCreateRequest represents the arguments for capsule_create.
type CapsuleCreateRequest struct {
	Name            string   `json:"name"`
	Template        string   `json:"template"`
	NetworkDisabled bool     `json:"network_disabled,omitempty"`
	Ports           []string `json:"ports,omitempty"`
}

// ExecuteRequest represents the arguments for execute.
type ExecuteRequest struct {
	Name    string   `json:"name"`
	Command []string `json:"command"`
}

// HistoryRequest represents the arguments for history.
type HistoryRequest struct {
	Name  string `json:"name,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// decode reads a tool call's arguments into the request struct T. Unknown
// argument names are rejected so a misspelt flag like "network_disable" is
// reported instead of silently creating a networked capsule.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var input T
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return input, fmt.Errorf("arguments: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		return input, fmt.Errorf("arguments: %w", err)
	}
	return input, nil
}

// HandleBaseImageList handles the baseimage_list tool call.
func (h *Handlers) HandleBaseImageList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	images, err := h.Registry.BaseImages()
	if err != nil {
		return errorResult(errors.NewInternal(err)), nil
	}
	return successResult(map[string]any{"base_images": nonNil(images)})
}

// HandleTemplateList handles the template_list tool call.
func (h *Handlers) HandleTemplateList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	templates, err := h.Registry.Templates(ctx)
	if err != nil {
		return errorResult(errors.NewInternal(err)), nil
	}
	return successResult(map[string]any{"templates": nonNil(templates)})
}

// HandleCapsuleList handles the capsule_list tool call.
func (h *Handlers) HandleCapsuleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	capsules, err := h.Registry.Capsules(ctx)
	if err != nil {
		return errorResult(errors.NewInternal(err)), nil
	}
	return successResult(map[string]any{"capsules": nonNil(capsules)})
}

// HandleTemplateCreate handles the template_create tool call.
func (h *Handlers) HandleTemplateCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TemplateCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.BaseImage == "" {
		return errorResult(errors.NewInvalidRequest("base_image is required")), nil
	}
	return h.do(ctx, lifecycle.CreateTemplate{
		Name:           input.Name,
		BaseImage:      input.BaseImage,
		NetworkEnabled: !input.NetworkDisabled,
	})
}

// HandleCapsuleCreate handles the capsule_create tool call.
func (h *Handlers) HandleCapsuleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CapsuleCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Template == "" {
		return errorResult(errors.NewInvalidRequest("template is required")), nil
	}
	return h.do(ctx, lifecycle.CreateCapsule{
		Name:           input.Name,
		Template:       input.Template,
		NetworkEnabled: !input.NetworkDisabled,
		Ports:          input.Ports,
	})
}

// named builds a handler for a tool whose only argument is a name.
func (h *Handlers) named(build func(name string) lifecycle.Request) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := decode[NameRequest](req)
		if err != nil {
			return errorResult(errors.NewInvalidRequest(err.Error())), nil
		}
		return h.do(ctx, build(input.Name))
	}
}

// HandleExecute handles the execute tool call.
func (h *Handlers) HandleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExecuteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := h.Operator.Exec(input.Name, input.Command); err != nil {
		return errorResult(err), nil
	}
	return successResult(lifecycle.Result{Success: true})
}

// HandleCapsuleDiff handles the capsule_diff tool call.
func (h *Handlers) HandleCapsuleDiff(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NameRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	changes, err := h.Operator.Diff(input.Name)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"name": input.Name, "changes": nonNil(changes)})
}

// HandleHistory handles the history tool call.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Name != "" {
		if err := entity.ValidateName(input.Name); err != nil {
			return errorResult(err), nil
		}
	}
	runs, err := db.ListRuns(h.DB, input.Name, input.Limit)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"runs": nonNil(runs)})
}

// do runs r through the controller and maps its result.
func (h *Handlers) do(ctx context.Context, r lifecycle.Request) (*mcp.CallToolResult, error) {
	res, err := h.Control.Do(ctx, r)
	if err != nil {
		return errorResult(err), nil
	}
	if !res.Success {
		return errorResult(res.Err()), nil
	}
	return successResult(res)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// errorResult creates an MCP error result from any error.
// Details are omitted for INTERNAL errors so paths and SQL text stay private.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var cErr *errors.CapsuleError
	if stderrors.As(err, &cErr) {
		errorObj := map[string]any{
			"code":    cErr.Code,
			"kind":    cErr.Kind,
			"message": cErr.Message,
		}
		if cErr.Code != errors.ErrInternal && len(cErr.Details) > 0 {
			errorObj["details"] = cErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"kind":    errors.KindInternal,
				"message": "an internal error occurred",
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}

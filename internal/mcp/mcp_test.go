package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/capsules-dev/capsules/internal/config"
	"github.com/capsules-dev/capsules/internal/db"
	"github.com/capsules-dev/capsules/internal/errors"
	"github.com/capsules-dev/capsules/internal/gateway"
	"github.com/capsules-dev/capsules/internal/layout"
	"github.com/capsules-dev/capsules/internal/lifecycle"
	"github.com/capsules-dev/capsules/internal/overlay"
	"github.com/capsules-dev/capsules/internal/registry"
	"github.com/capsules-dev/capsules/internal/runtime"
)

type fakeControl struct {
	mu       sync.Mutex
	requests []string
	result   lifecycle.Result
	err      error
}

func (c *fakeControl) Do(_ context.Context, r lifecycle.Request) (lifecycle.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, lifecycle.Describe(r))
	if c.err != nil {
		return lifecycle.Result{}, c.err
	}
	return c.result, nil
}

type fakeOperator struct {
	execs   []string
	changes []overlay.Change
}

func (o *fakeOperator) Exec(name string, command []string) error {
	if len(command) == 0 {
		return errors.NewInvalidRequest("command is required")
	}
	o.execs = append(o.execs, fmt.Sprint(name, command))
	return nil
}

func (o *fakeOperator) Diff(name string) ([]overlay.Change, error) {
	if name != "dev" {
		return nil, errors.NewNotFound("capsule", name)
	}
	return o.changes, nil
}

type testEnv struct {
	handlers *Handlers
	control  *fakeControl
	operator *fakeOperator
	layout   *layout.Layout
	cfg      *config.Config
	deps     Deps
}

// testSetup wires handlers over a temporary storage root and journal.
func testSetup(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	database, err := db.Init(root)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	images := filepath.Join(root, "base_images")
	if err := os.MkdirAll(filepath.Join(images, "debian"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(images, "debian", "Dockerfile"), []byte("FROM debian\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := gateway.NewRecorder()
	rec.OnFail([]string{"podman", "inspect"}, "no such object")
	l := layout.New(root)
	reg := registry.New(registry.Options{
		Layout:        l,
		Runtime:       runtime.New(rec, "podman", nil),
		BaseImagesDir: images,
	})

	ctl := &fakeControl{result: lifecycle.Result{Success: true}}
	op := &fakeOperator{}
	deps := Deps{Registry: reg, Control: ctl, Operator: op, DB: database}
	return &testEnv{
		handlers: NewHandlers(deps),
		control:  ctl,
		operator: op,
		layout:   l,
		cfg:      config.DefaultConfig(),
		deps:     deps,
	}
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandleTemplateCreate(t *testing.T) {
	env := testSetup(t)
	ctx := context.Background()

	result, err := env.handlers.HandleTemplateCreate(ctx, makeRequest(map[string]any{
		"name":             "base",
		"base_image":       "debian",
		"network_disabled": true,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)
	if output["success"] != true {
		t.Errorf("success = %v, want true", output["success"])
	}
	if len(env.control.requests) != 1 || env.control.requests[0] != "create_template base" {
		t.Errorf("requests = %v", env.control.requests)
	}

	result, _ = env.handlers.HandleTemplateCreate(ctx, makeRequest(map[string]any{"name": "base"}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleCapsuleCreate(t *testing.T) {
	env := testSetup(t)
	ctx := context.Background()

	result, _ := env.handlers.HandleCapsuleCreate(ctx, makeRequest(map[string]any{
		"name":     "dev",
		"template": "base",
		"ports":    []any{"2000:8080"},
	}))
	parseOutput(t, result)
	if len(env.control.requests) != 1 || env.control.requests[0] != "create_capsule dev" {
		t.Errorf("requests = %v", env.control.requests)
	}

	result, _ = env.handlers.HandleCapsuleCreate(ctx, makeRequest(map[string]any{
		"name":  "dev",
		"ports": "not-a-list",
	}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleCapsuleCreate_UnknownArgument(t *testing.T) {
	env := testSetup(t)

	result, _ := env.handlers.HandleCapsuleCreate(context.Background(), makeRequest(map[string]any{
		"name":            "dev",
		"template":        "base",
		"network_disable": true,
	}))
	assertErrorCode(t, result, "INVALID_REQUEST")
	if !strings.Contains(extractErrorMessage(result), "network_disable") {
		t.Errorf("error should name the unknown argument: %s", extractErrorMessage(result))
	}
	if len(env.control.requests) != 0 {
		t.Errorf("requests = %v, want none", env.control.requests)
	}
}

func TestHandleMutation_FailedResult(t *testing.T) {
	env := testSetup(t)
	env.control.result = lifecycle.ResultOf(errors.NewHasDependents("base", []string{"a", "b"}))

	h := env.handlers.named(func(n string) lifecycle.Request { return lifecycle.DeleteTemplate{Name: n} })
	result, err := h(context.Background(), makeRequest(map[string]any{"name": "base"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertErrorCode(t, result, "HAS_DEPENDENTS")

	var payload map[string]any
	if err := json.Unmarshal([]byte(extractErrorMessage(result)), &payload); err != nil {
		t.Fatal(err)
	}
	details := payload["error"].(map[string]any)["details"].(map[string]any)
	if deps, _ := details["dependents"].([]any); len(deps) != 2 {
		t.Errorf("dependents = %v, want 2 entries", details["dependents"])
	}
}

func TestHandleMutation_Busy(t *testing.T) {
	env := testSetup(t)
	env.control.err = errors.NewBusy()

	h := env.handlers.named(func(n string) lifecycle.Request { return lifecycle.Start{Name: n} })
	result, _ := h(context.Background(), makeRequest(map[string]any{"name": "dev"}))
	assertErrorCode(t, result, "BUSY")
}

func TestHandleLists(t *testing.T) {
	env := testSetup(t)
	ctx := context.Background()

	if err := env.layout.PrepareTemplate("base"); err != nil {
		t.Fatal(err)
	}
	if err := env.layout.WriteTemplateMetadata("base", layout.TemplateMetadata{BaseImage: "debian", NetworkEnabled: true}); err != nil {
		t.Fatal(err)
	}

	result, _ := env.handlers.HandleTemplateList(ctx, makeRequest(nil))
	output := parseOutput(t, result)
	templates := output["templates"].([]any)
	if len(templates) != 1 {
		t.Fatalf("templates = %v, want 1", templates)
	}
	tmpl := templates[0].(map[string]any)
	if tmpl["name"] != "base" || tmpl["base_image"] != "debian" {
		t.Errorf("template = %v", tmpl)
	}
	if tmpl["state"] != "storage-only" {
		t.Errorf("state = %v, want storage-only", tmpl["state"])
	}

	result, _ = env.handlers.HandleCapsuleList(ctx, makeRequest(nil))
	output = parseOutput(t, result)
	if capsules := output["capsules"].([]any); len(capsules) != 0 {
		t.Errorf("capsules = %v, want empty list", capsules)
	}

	result, _ = env.handlers.HandleBaseImageList(ctx, makeRequest(nil))
	output = parseOutput(t, result)
	images := output["base_images"].([]any)
	if len(images) != 1 || images[0].(map[string]any)["name"] != "debian" {
		t.Errorf("base_images = %v", images)
	}
}

func TestHandleExecute(t *testing.T) {
	env := testSetup(t)
	ctx := context.Background()

	result, _ := env.handlers.HandleExecute(ctx, makeRequest(map[string]any{
		"name":    "dev",
		"command": []any{"touch", "/tmp/x"},
	}))
	parseOutput(t, result)
	if len(env.operator.execs) != 1 || env.operator.execs[0] != "dev [touch /tmp/x]" {
		t.Errorf("execs = %v", env.operator.execs)
	}
	if len(env.control.requests) != 0 {
		t.Errorf("execute should bypass the executor, got %v", env.control.requests)
	}

	result, _ = env.handlers.HandleExecute(ctx, makeRequest(map[string]any{"name": "dev"}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleCapsuleDiff(t *testing.T) {
	env := testSetup(t)
	env.operator.changes = []overlay.Change{{Kind: overlay.ChangeAdded, Path: "/etc/motd"}}
	ctx := context.Background()

	result, _ := env.handlers.HandleCapsuleDiff(ctx, makeRequest(map[string]any{"name": "dev"}))
	output := parseOutput(t, result)
	changes := output["changes"].([]any)
	if len(changes) != 1 || changes[0].(map[string]any)["path"] != "/etc/motd" {
		t.Errorf("changes = %v", changes)
	}

	result, _ = env.handlers.HandleCapsuleDiff(ctx, makeRequest(map[string]any{"name": "ghost"}))
	assertErrorCode(t, result, "NOT_FOUND")
}

func TestHandleHistory(t *testing.T) {
	env := testSetup(t)
	ctx := context.Background()

	for i, target := range []string{"base", "dev", "dev"} {
		id := fmt.Sprintf("run%d", i)
		if err := db.InsertRun(env.deps.DB, id, "start", target, int64(100+i)); err != nil {
			t.Fatal(err)
		}
		if err := db.FinishRun(env.deps.DB, id, "", "", int64(200+i)); err != nil {
			t.Fatal(err)
		}
	}

	result, _ := env.handlers.HandleHistory(ctx, makeRequest(map[string]any{"name": "dev"}))
	output := parseOutput(t, result)
	runs := output["runs"].([]any)
	if len(runs) != 2 {
		t.Fatalf("runs = %v, want 2", runs)
	}
	if runs[0].(map[string]any)["id"] != "run2" {
		t.Errorf("first run = %v, want newest first", runs[0])
	}

	result, _ = env.handlers.HandleHistory(ctx, makeRequest(map[string]any{"limit": 1}))
	output = parseOutput(t, result)
	if runs := output["runs"].([]any); len(runs) != 1 {
		t.Errorf("runs = %v, want 1", runs)
	}

	result, _ = env.handlers.HandleHistory(ctx, makeRequest(map[string]any{"name": "bad name"}))
	assertErrorCode(t, result, "INVALID_NAME")
}

func TestServerRegistration(t *testing.T) {
	env := testSetup(t)

	s := NewServer(env.deps, env.cfg, "test")
	tools := s.ListTools()

	want := AllToolNames()
	if len(tools) != len(want) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(want))
	}
	for _, name := range want {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	env := testSetup(t)
	env.cfg.DisabledTools = []string{"template_delete", "capsule_delete", "capsule_delete"}

	tools := NewServer(env.deps, env.cfg, "test").ListTools()

	if len(tools) != len(toolRegistry)-2 {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(toolRegistry)-2)
	}
	for _, name := range []string{"template_delete", "capsule_delete"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
	if _, ok := tools["capsule_list"]; !ok {
		t.Error("capsule_list should be registered")
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	env := testSetup(t)
	env.cfg.DisabledTools = AllToolNames()

	if tools := NewServer(env.deps, env.cfg, "test").ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"capsule_delete", "history"}, 0},
		{"one unknown", []string{"capsule_delete", "capsule_store"}, 1},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unknown := ValidateDisabledTools(tt.input); len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()

	if len(names) != 15 {
		t.Errorf("AllToolNames() returned %d names, want 15", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("AllToolNames() not sorted: %v", names)
		}
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	internal := errors.NewInternal(fmt.Errorf("open /home/u/.capsules/journal.db: permission denied"))
	internal.Details = map[string]any{"path": "/home/u/.capsules"}

	r := errorResult(internal)
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(extractErrorMessage(r)), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj := payload["error"].(map[string]any)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_PlainErrorIsInternal(t *testing.T) {
	r := errorResult(fmt.Errorf("boom"))
	assertErrorCode(t, r, "INTERNAL")
}

func TestErrorResult_WrappedKeepsCode(t *testing.T) {
	r := errorResult(fmt.Errorf("attach dev: %w", errors.NewLivenessTimeout("attach", "dev", 10*time.Second)))
	assertErrorCode(t, r, "LIVENESS_TIMEOUT")
}

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if !result.IsError {
		t.Errorf("expected error result, got %s", extractErrorMessage(result))
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(extractErrorMessage(result)), &payload); err != nil {
		t.Errorf("failed to unmarshal error payload: %v", err)
		return
	}

	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Errorf("no error object in payload")
		return
	}
	if code, _ := errorObj["code"].(string); code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}
	return text.Text
}

package tool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentcore-ai/agentcore/internal/agent"
	"github.com/agentcore-ai/agentcore/internal/permission"
	"github.com/agentcore-ai/agentcore/pkg/apperr"
)

// SecurityLevel classifies how cautiously a tool's invocation should be
// treated by the permission layer (spec §4.6).
type SecurityLevel string

const (
	SecurityReadOnly  SecurityLevel = "read-only"
	SecurityWrite     SecurityLevel = "write"
	SecurityDangerous SecurityLevel = "dangerous"
)

// Source identifies where a tool definition originated.
type Source string

const (
	SourceBuiltin Source = "builtin"
	SourceMCP     Source = "mcp"
	SourcePlugin  Source = "plugin"
)

// Describable is an optional capability a Tool may implement to report its
// security level, parallel-safety, and origin beyond the base Tool
// interface. Tools that don't implement it are treated conservatively:
// SecurityWrite, supportsParallel=false, SourceBuiltin.
type Describable interface {
	SecurityLevel() SecurityLevel
	SupportsParallel() bool
	Source() Source
}

// Describe reports a tool's security level, parallel-safety, and source,
// falling back to conservative defaults for tools that don't implement
// Describable.
func Describe(t Tool) (SecurityLevel, bool, Source) {
	if d, ok := t.(Describable); ok {
		return d.SecurityLevel(), d.SupportsParallel(), d.Source()
	}
	return SecurityWrite, false, SourceBuiltin
}

// Read-only, parallel-safe builtin tools: inspecting the filesystem never
// mutates it, so concurrent invocations within one step are safe.
func (t *ReadTool) SecurityLevel() SecurityLevel { return SecurityReadOnly }
func (t *ReadTool) SupportsParallel() bool        { return true }
func (t *ReadTool) Source() Source                { return SourceBuiltin }

func (t *GlobTool) SecurityLevel() SecurityLevel { return SecurityReadOnly }
func (t *GlobTool) SupportsParallel() bool        { return true }
func (t *GlobTool) Source() Source                { return SourceBuiltin }

func (t *GrepTool) SecurityLevel() SecurityLevel { return SecurityReadOnly }
func (t *GrepTool) SupportsParallel() bool        { return true }
func (t *GrepTool) Source() Source                { return SourceBuiltin }

func (t *ListTool) SecurityLevel() SecurityLevel { return SecurityReadOnly }
func (t *ListTool) SupportsParallel() bool        { return true }
func (t *ListTool) Source() Source                { return SourceBuiltin }

func (t *WebFetchTool) SecurityLevel() SecurityLevel { return SecurityReadOnly }
func (t *WebFetchTool) SupportsParallel() bool        { return true }
func (t *WebFetchTool) Source() Source                { return SourceBuiltin }

// Write tools mutate the filesystem; never safe to run in parallel with
// another write against the same workspace.
func (t *WriteTool) SecurityLevel() SecurityLevel { return SecurityWrite }
func (t *WriteTool) SupportsParallel() bool        { return false }
func (t *WriteTool) Source() Source                { return SourceBuiltin }

func (t *EditTool) SecurityLevel() SecurityLevel { return SecurityWrite }
func (t *EditTool) SupportsParallel() bool        { return false }
func (t *EditTool) Source() Source                { return SourceBuiltin }

// BashTool runs arbitrary shell commands: the highest security tier, never
// parallel.
func (t *BashTool) SecurityLevel() SecurityLevel { return SecurityDangerous }
func (t *BashTool) SupportsParallel() bool        { return false }
func (t *BashTool) Source() Source                { return SourceBuiltin }

// TodoReadTool only reads session todo state.
func (t *TodoReadTool) SecurityLevel() SecurityLevel { return SecurityReadOnly }
func (t *TodoReadTool) SupportsParallel() bool        { return true }
func (t *TodoReadTool) Source() Source                { return SourceBuiltin }

// TodoWriteTool mutates session todo state.
func (t *TodoWriteTool) SecurityLevel() SecurityLevel { return SecurityWrite }
func (t *TodoWriteTool) SupportsParallel() bool        { return false }
func (t *TodoWriteTool) Source() Source                { return SourceBuiltin }

// BatchTool and TaskTool fan out to other tools/agents; their own security
// level is conservative since the tools/agents they dispatch to may not be.
func (t *BatchTool) SecurityLevel() SecurityLevel { return SecurityWrite }
func (t *BatchTool) SupportsParallel() bool        { return false }
func (t *BatchTool) Source() Source                { return SourceBuiltin }

func (t *TaskTool) SecurityLevel() SecurityLevel { return SecurityWrite }
func (t *TaskTool) SupportsParallel() bool        { return false }
func (t *TaskTool) Source() Source                { return SourceBuiltin }

// Invocation is the outcome of one Registry.Invoke call: the tool's result
// (or error) plus the measured wall-clock duration of Execute. Duration is
// always a real measurement, never a hardcoded placeholder, per spec §4.6.
type Invocation struct {
	Result   *Result
	Err      error
	Duration time.Duration
}

// Invoke looks up tool id and runs it, measuring the actual Execute
// duration regardless of success or failure. Write and dangerous tools are
// gated through the wired permission Checker (if any) before Execute runs.
func (r *Registry) Invoke(ctx context.Context, id string, input json.RawMessage, toolCtx *Context) Invocation {
	t, ok := r.Get(id)
	if !ok {
		return Invocation{Err: apperr.New(apperr.NotFound, "unknown tool: "+id)}
	}

	if err := r.checkPermission(ctx, t, id, input, toolCtx); err != nil {
		return Invocation{Err: err}
	}

	start := time.Now()
	result, err := t.Execute(ctx, input, toolCtx)
	return Invocation{Result: result, Err: err, Duration: time.Since(start)}
}

// bashInput mirrors the subset of BashTool's request shape checkPermission
// needs to extract the command for pattern matching.
type bashInput struct {
	Command string `json:"command"`
}

// checkPermission maps a tool to a permission.PermissionType and, for
// read-only tools or when no permission.Checker is wired, allows the call
// through untouched. Otherwise it resolves the acting agent's
// allow|deny|ask policy (falling back to ask when the agent is unknown) and
// defers to the Checker.
func (r *Registry) checkPermission(ctx context.Context, t Tool, id string, input json.RawMessage, toolCtx *Context) error {
	level, _, _ := Describe(t)
	if level == SecurityReadOnly || r.permissions == nil || toolCtx == nil {
		return nil
	}

	var ag *agent.Agent
	if r.agents != nil && toolCtx != nil && toolCtx.Agent != "" {
		ag, _ = r.agents.Get(toolCtx.Agent)
	}

	req := permission.Request{
		Type:      permission.PermEdit,
		SessionID: toolCtx.SessionID,
		MessageID: toolCtx.MessageID,
		CallID:    toolCtx.CallID,
		Title:     id,
	}

	action := permission.ActionAsk
	switch id {
	case "bash":
		req.Type = permission.PermBash
		var in bashInput
		_ = json.Unmarshal(input, &in)
		req.Pattern = []string{in.Command}
		if ag != nil {
			action = ag.CheckBashPermission(in.Command)
		}
	case "webfetch":
		req.Type = permission.PermWebFetch
		if ag != nil {
			action = ag.GetPermission(permission.PermWebFetch)
		}
	default:
		req.Type = permission.PermEdit
		if ag != nil {
			action = ag.GetPermission(permission.PermEdit)
		}
	}

	return r.permissions.Check(ctx, req, action)
}

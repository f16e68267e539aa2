// Package exec implements the illustrative mutating shell-command Tool from
// SPEC_FULL.md §3: always requiresConfirmation, per the spec's "mutating
// shell command" example.
//
// Grounded on the teacher's internal/tools/exec package (ExecTool's
// command/cwd/env/timeout parameter shape), simplified to synchronous
// execution only — the teacher's background-process/ProcessTool machinery
// has no SPEC_FULL.md counterpart (the Dispatcher's own batching already
// gives the model a turn-shaped way to run multiple commands; a persistent
// background-process registry is out of scope) and is not carried over.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/wireloop/agentplane/pkg/models"
)

type commandParams struct {
	Command        string            `json:"command" jsonschema:"required,description=Shell command to execute."`
	Cwd            string            `json:"cwd,omitempty" jsonschema:"description=Working directory (relative to workspace)."`
	Env            map[string]string `json:"env,omitempty" jsonschema:"description=Environment overrides."`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" jsonschema:"minimum=0,description=Timeout in seconds (0 = tool default)."`
}

// Tool runs a shell command within a workspace. Always mutating and always
// requires confirmation, regardless of the command's actual effect — the
// core cannot safely classify arbitrary shell input as read-only.
type Tool struct {
	workspace      string
	defaultTimeout time.Duration
	descriptor     models.ToolDescriptor
}

// Config controls the exec tool's defaults.
type Config struct {
	Workspace      string
	DefaultTimeout time.Duration
}

// New creates the "shell" tool scoped to cfg.Workspace.
func New(cfg Config) *Tool {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Tool{
		workspace:      cfg.Workspace,
		defaultTimeout: timeout,
		descriptor: models.ToolDescriptor{
			Name:                 "shell",
			Description:          "Run a shell command in the workspace.",
			InputSchema:          schemaFor(commandParams{}),
			ReadOnly:             false,
			RequiresConfirmation: true,
		},
	}
}

func (t *Tool) Descriptor() models.ToolDescriptor { return t.descriptor }

func (t *Tool) ShouldConfirm(input json.RawMessage) (bool, models.ConfirmationKind, string) {
	var p commandParams
	_ = json.Unmarshal(input, &p)
	return true, models.ConfirmationBash, p.Command
}

func (t *Tool) Execute(ctx context.Context, input json.RawMessage) (models.ToolResult, error) {
	var p commandParams
	if err := json.Unmarshal(input, &p); err != nil {
		return errResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(p.Command)
	if command == "" {
		return errResult("command is required"), nil
	}

	timeout := t.defaultTimeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cwd := t.workspace
	if p.Cwd != "" {
		cwd = filepath.Join(t.workspace, p.Cwd)
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = cwd
	if len(p.Env) > 0 {
		env := cmd.Environ()
		for k, v := range p.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return errResult(fmt.Sprintf("run command: %v", runErr)), nil
	}

	payload, _ := json.MarshalIndent(map[string]any{
		"command":   command,
		"exit_code": exitCode,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
	}, "", "  ")
	return models.ToolResult{LLMText: string(payload), IsError: exitCode != 0}, nil
}

func errResult(message string) models.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return models.ToolResult{LLMText: string(payload), IsError: true}
}

func schemaFor(v any) json.RawMessage {
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

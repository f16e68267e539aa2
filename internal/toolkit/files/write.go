package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wireloop/agentplane/pkg/models"
)

type writeParams struct {
	Path    string `json:"path" jsonschema:"required,description=Path to write (relative to workspace)."`
	Content string `json:"content" jsonschema:"required,description=File contents to write."`
	Append  bool   `json:"append,omitempty" jsonschema:"description=Append instead of overwrite (default: false)."`
}

// WriteTool writes file contents within the workspace. Mutating; every
// call requires confirmation per SPEC_FULL.md §3.
type WriteTool struct {
	resolver   Resolver
	descriptor models.ToolDescriptor
}

// NewWriteTool creates a write_file tool scoped to cfg.Workspace.
func NewWriteTool(cfg Config) *WriteTool {
	return &WriteTool{
		resolver: Resolver{Root: cfg.Workspace},
		descriptor: models.ToolDescriptor{
			Name:                  "write_file",
			Description:           "Write content to a file in the workspace (overwrites by default).",
			InputSchema:           schemaFor(writeParams{}),
			ReadOnly:              false,
			RequiresConfirmation:  true,
		},
	}
}

func (t *WriteTool) Descriptor() models.ToolDescriptor { return t.descriptor }

func (t *WriteTool) ShouldConfirm(input json.RawMessage) (bool, models.ConfirmationKind, string) {
	var p writeParams
	_ = json.Unmarshal(input, &p)
	verb := "overwrite"
	if p.Append {
		verb = "append to"
	}
	return true, models.ConfirmationEdit, fmt.Sprintf("%s %s", verb, p.Path)
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage) (models.ToolResult, error) {
	var p writeParams
	if err := json.Unmarshal(input, &p); err != nil {
		return errResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(p.Path) == "" {
		return errResult("path is required"), nil
	}

	resolved, err := t.resolver.Resolve(p.Path)
	if err != nil {
		return errResult(err.Error()), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return errResult(fmt.Sprintf("create directory: %v", err)), nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if p.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return errResult(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	n, err := file.WriteString(p.Content)
	if err != nil {
		return errResult(fmt.Sprintf("write file: %v", err)), nil
	}

	payload, _ := json.MarshalIndent(map[string]any{
		"path":          p.Path,
		"bytes_written": n,
		"append":        p.Append,
	}, "", "  ")
	return models.ToolResult{LLMText: string(payload)}, nil
}

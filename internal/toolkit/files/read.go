package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/wireloop/agentplane/pkg/models"
)

// Config controls filesystem tool defaults.
type Config struct {
	Workspace    string
	MaxReadBytes int
}

// readParams is the input shape for ReadTool, also used to generate its
// JSON Schema via invopop/jsonschema, per SPEC_FULL.md §3.
type readParams struct {
	Path     string `json:"path" jsonschema:"required,description=Path to the file (relative to workspace)."`
	Offset   int64  `json:"offset,omitempty" jsonschema:"minimum=0,description=Byte offset to start reading from."`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"minimum=0,description=Maximum bytes to read (capped by tool default)."`
}

// ReadTool implements a safe, read-only file reader scoped to a workspace.
type ReadTool struct {
	resolver   Resolver
	maxReadLen int
	descriptor models.ToolDescriptor
}

// NewReadTool creates a read_file tool scoped to cfg.Workspace.
func NewReadTool(cfg Config) *ReadTool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = 200_000
	}
	return &ReadTool{
		resolver:   Resolver{Root: cfg.Workspace},
		maxReadLen: limit,
		descriptor: models.ToolDescriptor{
			Name:        "read_file",
			Description: "Read a file from the workspace with optional offset and byte limit.",
			InputSchema: schemaFor(readParams{}),
			ReadOnly:    true,
		},
	}
}

func (t *ReadTool) Descriptor() models.ToolDescriptor { return t.descriptor }

func (t *ReadTool) ShouldConfirm(json.RawMessage) (bool, models.ConfirmationKind, string) {
	return false, "", ""
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage) (models.ToolResult, error) {
	var p readParams
	if err := json.Unmarshal(input, &p); err != nil {
		return errResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(p.Path) == "" {
		return errResult("path is required"), nil
	}
	if p.Offset < 0 {
		return errResult("offset must be >= 0"), nil
	}

	resolved, err := t.resolver.Resolve(p.Path)
	if err != nil {
		return errResult(err.Error()), nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return errResult(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errResult(fmt.Sprintf("stat file: %v", err)), nil
	}
	if p.Offset > 0 {
		if _, err := file.Seek(p.Offset, io.SeekStart); err != nil {
			return errResult(fmt.Sprintf("seek file: %v", err)), nil
		}
	}

	limit := t.maxReadLen
	if p.MaxBytes > 0 && p.MaxBytes < limit {
		limit = p.MaxBytes
	}
	remaining := int64(limit)
	if size := info.Size(); size > 0 {
		remaining = size - p.Offset
		if remaining < 0 {
			remaining = 0
		}
		if remaining > int64(limit) {
			remaining = int64(limit)
		}
	}

	buf, err := io.ReadAll(io.LimitReader(file, remaining))
	if err != nil {
		return errResult(fmt.Sprintf("read file: %v", err)), nil
	}
	truncated := info.Size() > 0 && p.Offset+int64(len(buf)) < info.Size()

	payload, _ := json.MarshalIndent(map[string]any{
		"path":      p.Path,
		"content":   string(buf),
		"offset":    p.Offset,
		"bytes":     len(buf),
		"truncated": truncated,
	}, "", "  ")
	return models.ToolResult{LLMText: string(payload)}, nil
}

// ListDirTool lists directory entries, read-only.
type ListDirTool struct {
	resolver   Resolver
	descriptor models.ToolDescriptor
}

type listDirParams struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory to list (relative to workspace\\, default '.')."`
}

// NewListDirTool creates a list_dir tool scoped to cfg.Workspace.
func NewListDirTool(cfg Config) *ListDirTool {
	return &ListDirTool{
		resolver: Resolver{Root: cfg.Workspace},
		descriptor: models.ToolDescriptor{
			Name:        "list_dir",
			Description: "List files and subdirectories within the workspace.",
			InputSchema: schemaFor(listDirParams{}),
			ReadOnly:    true,
		},
	}
}

func (t *ListDirTool) Descriptor() models.ToolDescriptor { return t.descriptor }

func (t *ListDirTool) ShouldConfirm(json.RawMessage) (bool, models.ConfirmationKind, string) {
	return false, "", ""
}

func (t *ListDirTool) Execute(ctx context.Context, input json.RawMessage) (models.ToolResult, error) {
	var p listDirParams
	if len(input) > 0 {
		if err := json.Unmarshal(input, &p); err != nil {
			return errResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	path := p.Path
	if strings.TrimSpace(path) == "" {
		path = "."
	}
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return errResult(err.Error()), nil
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return errResult(fmt.Sprintf("read dir: %v", err)), nil
	}
	names := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		names = append(names, map[string]any{"name": e.Name(), "is_dir": e.IsDir()})
	}
	payload, _ := json.MarshalIndent(map[string]any{"path": path, "entries": names}, "", "  ")
	return models.ToolResult{LLMText: string(payload)}, nil
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

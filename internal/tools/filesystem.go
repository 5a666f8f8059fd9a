package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxReadBytes = 256 * 1024

// resolvePath expands the path against the workspace and, when restricted,
// rejects anything that escapes it.
func resolvePath(workspace string, restrict bool, path string) (string, error) {
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(workspace, p)
	}
	p = filepath.Clean(p)

	if restrict {
		ws := filepath.Clean(workspace)
		if p != ws && !strings.HasPrefix(p, ws+string(filepath.Separator)) {
			return "", fmt.Errorf("path outside workspace: %s", path)
		}
	}
	return p, nil
}

// ReadFileTool reads file contents from the workspace.
type ReadFileTool struct {
	workspace string
	restrict  bool
}

func NewReadFileTool(workspace string, restrict bool) *ReadFileTool {
	return &ReadFileTool{workspace: workspace, restrict: restrict}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file" }
func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to read",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path := stringArg(args, "path")
	if path == "" {
		return ErrorResult("path is required")
	}

	full, err := resolvePath(t.workspace, t.restrict, path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read %s: %v", path, err)).WithError(err)
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		return SilentResult(string(data) + "\n... (truncated)")
	}
	return SilentResult(string(data))
}

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct {
	workspace string
	restrict  bool
}

func NewWriteFileTool(workspace string, restrict bool) *WriteFileTool {
	return &WriteFileTool{workspace: workspace, restrict: restrict}
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file (overwrites)" }
func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to write",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path := stringArg(args, "path")
	content := stringArg(args, "content")
	if path == "" {
		return ErrorResult("path is required")
	}

	full, err := resolvePath(t.workspace, t.restrict, path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return ErrorResult(fmt.Sprintf("mkdir: %v", err)).WithError(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return ErrorResult(fmt.Sprintf("write %s: %v", path, err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// ListDirTool lists a directory's entries.
type ListDirTool struct {
	workspace string
	restrict  bool
}

func NewListDirTool(workspace string, restrict bool) *ListDirTool {
	return &ListDirTool{workspace: workspace, restrict: restrict}
}

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List files and directories at a path" }
func (t *ListDirTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list (default: workspace root)",
			},
		},
	}
}

func (t *ListDirTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path := stringArg(args, "path")
	if path == "" {
		path = "."
	}

	full, err := resolvePath(t.workspace, t.restrict, path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return ErrorResult(fmt.Sprintf("list %s: %v", path, err)).WithError(err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return SilentResult("(empty directory)")
	}
	return SilentResult(strings.Join(names, "\n"))
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadFileTool reads the contents of a file.
type ReadFileTool struct {
	Guard *Guard
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Tier() int    { return TierReadOnly }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file at the specified path."
}

func (t *ReadFileTool) Schema() Schema {
	return Object(Required("path", TypeString, "The path to the file to read"))
}

type pathArgs struct {
	Path string `arg:"path"`
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	var args pathArgs
	if err := DecodeArgs(params, &args); err != nil {
		return "", err
	}
	path := expandPath(args.Path)
	if err := t.Guard.CheckPath(path); err != nil {
		return "", err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", classifyFSError(err, path)
	}
	return string(content), nil
}

// WriteFileTool writes content to a file.
type WriteFileTool struct {
	Guard *Guard
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Tier() int    { return TierWrite }

func (t *WriteFileTool) Description() string {
	return "Write content to a file at the specified path. Creates parent directories if needed."
}

func (t *WriteFileTool) Schema() Schema {
	return Object(
		Required("path", TypeString, "The path to the file to write"),
		Required("content", TypeString, "The content to write to the file"),
	)
}

type writeArgs struct {
	Path    string `arg:"path"`
	Content string `arg:"content"`
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	var args writeArgs
	if err := DecodeArgs(params, &args); err != nil {
		return "", err
	}
	path := expandPath(args.Path)
	if err := t.Guard.CheckPath(path); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", classifyFSError(err, filepath.Dir(path))
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return "", classifyFSError(err, path)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(args.Content), path), nil
}

// ListDirTool lists directory contents.
type ListDirTool struct {
	Guard *Guard
}

func (t *ListDirTool) Name() string { return "list_directory" }
func (t *ListDirTool) Tier() int    { return TierReadOnly }

func (t *ListDirTool) Description() string {
	return "List the contents of a directory. Defaults to the current directory."
}

func (t *ListDirTool) Schema() Schema {
	return Object(Optional("path", TypeString, "The directory path to list"))
}

func (t *ListDirTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	var args pathArgs
	if err := DecodeArgs(params, &args); err != nil {
		return "", err
	}
	if args.Path == "" {
		args.Path = "."
	}
	path := expandPath(args.Path)
	if err := t.Guard.CheckPath(path); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", classifyFSError(err, path)
	}

	var result strings.Builder
	fmt.Fprintf(&result, "Contents of %s:\n", path)
	for _, entry := range entries {
		info, _ := entry.Info()
		switch {
		case entry.IsDir():
			fmt.Fprintf(&result, "  [DIR]  %s/\n", entry.Name())
		case info != nil:
			fmt.Fprintf(&result, "  [FILE] %s (%d bytes)\n", entry.Name(), info.Size())
		default:
			fmt.Fprintf(&result, "  [FILE] %s\n", entry.Name())
		}
	}
	if len(entries) == 0 {
		result.WriteString("  (empty)\n")
	}
	return result.String(), nil
}

func classifyFSError(err error, path string) error {
	switch {
	case os.IsNotExist(err):
		return Wrap(ReasonCapability, err, "not found: %s", path)
	case os.IsPermission(err):
		return Wrap(ReasonPermission, err, "permission denied: %s", path)
	}
	return Wrap(ReasonCapability, err, "filesystem error on %s", path)
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}

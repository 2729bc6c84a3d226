package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

func (s *Surface) registerFileTools() {
	s.register(ToolDefinition{
		Name:        "list_files",
		Description: "List all files in the repository recursively. Returns relative paths.",
		Parameters: objectSchema(map[string]any{
			"path": prop("string", "Subdirectory to list. Default: repository root."),
		}),
	}, s.listFiles)

	s.register(ToolDefinition{
		Name:        "read_file",
		Description: "Read the full content of a file.",
		Parameters: objectSchema(map[string]any{
			"path": prop("string", "Path relative to the repository root."),
		}, "path"),
	}, s.readFile)

	s.register(ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file, creating it and any parent directories if needed.",
		Parameters: objectSchema(map[string]any{
			"path":    prop("string", "Path relative to the repository root."),
			"content": prop("string", "The full file content to write."),
		}, "path", "content"),
	}, s.writeFile)

	s.register(ToolDefinition{
		Name:        "delete_file",
		Description: "Delete a file.",
		Parameters: objectSchema(map[string]any{
			"path": prop("string", "Path relative to the repository root."),
		}, "path"),
	}, s.deleteFile)

	s.register(ToolDefinition{
		Name:        "create_directory",
		Description: "Create a directory, including any missing parents.",
		Parameters: objectSchema(map[string]any{
			"path": prop("string", "Path relative to the repository root."),
		}, "path"),
	}, s.createDirectory)
}

func (s *Surface) listFiles(ctx context.Context, args map[string]any) *ToolResult {
	prefix := ""
	if path, ok := stringArg(args, "path"); ok && path != "" && path != "." {
		_, rel, err := resolvePath(s.ws.Root(), path)
		if err != nil {
			return failure("%v", err)
		}
		prefix = rel + "/"
	}

	files, err := s.ws.ListFiles(ctx)
	if err != nil {
		return failure("list files: %v", err)
	}

	var out []string
	for _, f := range files {
		if prefix == "" || strings.HasPrefix(f, prefix) {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return success(map[string]any{"files": out, "count": len(out)})
}

func (s *Surface) readFile(ctx context.Context, args map[string]any) *ToolResult {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return failure("path is required")
	}
	abs, rel, err := resolvePath(s.ws.Root(), path)
	if err != nil {
		return failure("%v", err)
	}
	content, err := s.ws.ReadFile(ctx, abs)
	if err != nil {
		return failure("read %s: %v", rel, err)
	}
	return success(content)
}

func (s *Surface) writeFile(ctx context.Context, args map[string]any) *ToolResult {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return failure("path is required")
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return failure("content is required")
	}
	abs, rel, err := resolvePath(s.ws.Root(), path)
	if err != nil {
		return failure("%v", err)
	}
	if err := s.ws.WriteFile(ctx, abs, content); err != nil {
		return failure("write %s: %v", rel, err)
	}
	return success(map[string]any{"path": rel, "bytes": len(content)})
}

func (s *Surface) deleteFile(ctx context.Context, args map[string]any) *ToolResult {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return failure("path is required")
	}
	abs, rel, err := resolvePath(s.ws.Root(), path)
	if err != nil {
		return failure("%v", err)
	}
	if err := s.ws.DeleteFile(ctx, abs); err != nil {
		return failure("delete %s: %v", rel, err)
	}
	return success(fmt.Sprintf("deleted %s", rel))
}

func (s *Surface) createDirectory(ctx context.Context, args map[string]any) *ToolResult {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return failure("path is required")
	}
	abs, rel, err := resolvePath(s.ws.Root(), path)
	if err != nil {
		return failure("%v", err)
	}
	if err := s.ws.MakeDir(ctx, abs); err != nil {
		return failure("mkdir %s: %v", rel, err)
	}
	return success(fmt.Sprintf("created %s", rel))
}

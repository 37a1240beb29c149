package sandbox

import (
	"context"
	"encoding/json"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
)

func pathParam(desc string) tools.Param { return tools.Param{Type: "string", Description: desc} }

// Specs returns the file tool specs in catalog order.
func Specs() []tools.Spec {
	return []tools.Spec{
		{
			Name:        "list_directory",
			Description: "List contents of a directory within the case_data sandbox. Returns files and subdirectories.",
			Parameters:  map[string]tools.Param{"path": pathParam("Relative path to directory (default: sandbox root)")},
			Category:    "filesystem",
		},
		{
			Name:        "list_directory_recursive",
			Description: "Recursively list all files in a directory tree. Use this to find all documents in a folder structure.",
			Parameters: map[string]tools.Param{
				"path":       pathParam("Starting directory path"),
				"max_depth":  {Type: "integer", Description: "Maximum recursion depth (default: 10)"},
				"extensions": {Type: "array", Items: &tools.Param{Type: "string"}, Description: "Filter by file extensions (e.g. ['.md', '.txt'])"},
			},
			Category: "filesystem",
		},
		{
			Name:        "read_file",
			Description: "Read the contents of a text file in the sandbox. JSON files are also parsed.",
			Parameters: map[string]tools.Param{
				"path":     pathParam("Path to the file to read"),
				"max_size": {Type: "integer", Description: "Maximum file size in bytes (default: 1MB)"},
			},
			Required: []string{"path"},
			Category: "filesystem",
		},
		{
			Name:        "write_file",
			Description: "Write content to a file. Creates parent directories if needed. Use for legal documents, memos, and summaries.",
			Parameters: map[string]tools.Param{
				"path":      pathParam("Path where to write the file"),
				"content":   {Type: "string", Description: "Content to write to the file"},
				"overwrite": {Type: "boolean", Description: "Whether to overwrite if the file exists (default: false)"},
			},
			Required: []string{"path", "content"},
			Category: "filesystem",
		},
		{
			Name:        "append_file",
			Description: "Append content to an existing file.",
			Parameters: map[string]tools.Param{
				"path":    pathParam("Path to the file"),
				"content": {Type: "string", Description: "Content to append"},
			},
			Required: []string{"path", "content"},
			Category: "filesystem",
		},
		{
			Name:        "create_directory",
			Description: "Create a new directory within the sandbox.",
			Parameters:  map[string]tools.Param{"path": pathParam("Path for the new directory")},
			Required:    []string{"path"},
			Category:    "filesystem",
		},
		{
			Name:        "file_exists",
			Description: "Check if a file or directory exists.",
			Parameters:  map[string]tools.Param{"path": pathParam("Path to check")},
			Required:    []string{"path"},
			Category:    "filesystem",
		},
		{
			Name:        "get_file_info",
			Description: "Get size, type, and timestamps for a file or directory.",
			Parameters:  map[string]tools.Param{"path": pathParam("Path to inspect")},
			Required:    []string{"path"},
			Category:    "filesystem",
		},
	}
}

type pathArgs struct {
	Path       string   `json:"path"`
	Content    string   `json:"content"`
	Overwrite  bool     `json:"overwrite"`
	MaxSize    int64    `json:"max_size"`
	MaxDepth   int      `json:"max_depth"`
	Extensions []string `json:"extensions"`
}

func (p pathArgs) dir() string {
	if p.Path == "" {
		return "."
	}
	return p.Path
}

// Register adds the file tools backed by a to reg.
func Register(reg *tools.Registry, a *Accessor) error {
	handlers := map[string]func(pathArgs) (tools.Result, error){
		"list_directory": func(in pathArgs) (tools.Result, error) {
			items, err := a.List(in.dir())
			if err != nil {
				return nil, err
			}
			return tools.OK(map[string]any{"path": in.dir(), "item_count": len(items), "items": items}), nil
		},
		"list_directory_recursive": func(in pathArgs) (tools.Result, error) {
			tree, err := a.ListRecursive(in.dir(), in.MaxDepth, in.Extensions)
			if err != nil {
				return nil, err
			}
			return tools.OK(map[string]any{
				"base_path":         tree.BasePath,
				"total_files":       len(tree.Files),
				"total_directories": len(tree.Directories),
				"files":             tree.Files,
				"directories":       tree.Directories,
			}), nil
		},
		"read_file": func(in pathArgs) (tools.Result, error) {
			f, err := a.Read(in.Path, in.MaxSize)
			if err != nil {
				return nil, err
			}
			out := tools.OK(map[string]any{"path": f.Path, "content": f.Content, "size": f.Size, "type": f.Type})
			if f.Data != nil {
				out["data"] = f.Data
			}
			return out, nil
		},
		"write_file": func(in pathArgs) (tools.Result, error) {
			replaced, err := a.Write(in.Path, in.Content, in.Overwrite)
			if err != nil {
				return nil, err
			}
			return tools.OK(map[string]any{"path": in.Path, "size": len(in.Content), "overwritten": replaced}), nil
		},
		"append_file": func(in pathArgs) (tools.Result, error) {
			if err := a.Append(in.Path, in.Content); err != nil {
				return nil, err
			}
			return tools.OK(map[string]any{"path": in.Path, "appended_size": len(in.Content)}), nil
		},
		"create_directory": func(in pathArgs) (tools.Result, error) {
			existed, err := a.Mkdir(in.Path)
			if err != nil {
				return nil, err
			}
			return tools.OK(map[string]any{"path": in.Path, "already_existed": existed}), nil
		},
		"file_exists": func(in pathArgs) (tools.Result, error) {
			exists, isDir, err := a.Exists(in.Path)
			if err != nil {
				return nil, err
			}
			out := tools.OK(map[string]any{"path": in.Path, "exists": exists})
			if exists {
				out["is_file"] = !isDir
				out["is_directory"] = isDir
			}
			return out, nil
		},
		"get_file_info": func(in pathArgs) (tools.Result, error) {
			info, err := a.Stat(in.Path)
			if err != nil {
				return nil, err
			}
			return tools.OK(map[string]any{
				"path":          info.Path,
				"name":          info.Name,
				"extension":     info.Extension,
				"size":          info.Size,
				"is_file":       info.IsFile,
				"is_directory":  info.IsDirectory,
				"modified_time": info.Modified,
				"readable":      info.Readable,
				"writable":      info.Writable,
			}), nil
		},
	}
	for _, spec := range Specs() {
		fn := handlers[spec.Name]
		h := func(ctx context.Context, raw json.RawMessage) (tools.Result, error) {
			var in pathArgs
			if err := tools.Decode(raw, &in); err != nil {
				return nil, err
			}
			return fn(in)
		}
		if err := reg.Register(spec, h); err != nil {
			return err
		}
	}
	return nil
}

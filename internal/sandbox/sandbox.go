// Package sandbox confines the agent's file operations to a single root
// directory. Every path argument is resolved against the root and rejected
// with a ViolationError if it would land outside it.
package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultMaxRead is the read cap used when the caller passes zero.
const DefaultMaxRead = 1_000_000

// DefaultMaxDepth bounds ListRecursive when the caller passes zero.
const DefaultMaxDepth = 10

var writableExt = map[string]bool{
	".txt": true, ".md": true, ".json": true, ".yaml": true, ".yml": true,
	".csv": true, ".html": true, ".xml": true, ".log": true,
}

var readableExt = map[string]bool{
	".txt": true, ".md": true, ".json": true, ".yaml": true, ".yml": true,
	".csv": true, ".html": true, ".xml": true, ".log": true, ".ini": true,
	".cfg": true, ".css": true, ".js": true, ".ts": true, ".py": true,
}

// Entry describes one file or directory relative to the root.
type Entry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	IsDirectory bool      `json:"is_directory"`
	Extension   string    `json:"extension"`
	Modified    time.Time `json:"modified_time"`
}

// Info is the detailed stat of a path.
type Info struct {
	Entry
	IsFile   bool `json:"is_file"`
	Readable bool `json:"readable"`
	Writable bool `json:"writable"`
}

// Tree is the result of a recursive listing.
type Tree struct {
	BasePath    string   `json:"base_path"`
	Files       []Entry  `json:"files"`
	Directories []string `json:"directories"`
}

// File is the result of a read.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Size    int    `json:"size"`
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
}

// Accessor performs path-contained file operations under a fixed root.
// It holds no per-call state and is safe for concurrent use.
type Accessor struct {
	root     string
	realRoot string

	// MaxRead replaces DefaultMaxRead when positive.
	MaxRead int64
}

// New returns an Accessor rooted at dir, creating the directory if needed.
func New(dir string) (*Accessor, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("sandbox root required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("sandbox root: %w", err)
	}
	return &Accessor{root: abs, realRoot: real}, nil
}

// Root returns the absolute sandbox root.
func (a *Accessor) Root() string { return a.root }

// Resolve maps a caller path onto the filesystem. Leading separators are
// stripped so absolute-looking paths are taken relative to the root.
func (a *Accessor) Resolve(p string) (string, error) {
	rel := strings.TrimLeft(filepath.FromSlash(p), `/\`)
	full := filepath.Join(a.root, rel)
	if !within(a.root, full) {
		return "", &ViolationError{Path: p, Root: a.root}
	}
	real, err := realPath(full)
	if err != nil {
		return "", err
	}
	if !within(a.realRoot, real) {
		return "", &ViolationError{Path: p, Root: a.root}
	}
	return full, nil
}

// Rel returns full relative to the root with forward slashes.
func (a *Accessor) Rel(full string) string {
	r, err := filepath.Rel(a.root, full)
	if err != nil {
		return full
	}
	return filepath.ToSlash(r)
}

func (a *Accessor) entry(full string, fi fs.FileInfo) Entry {
	e := Entry{
		Name:        fi.Name(),
		Path:        a.Rel(full),
		Size:        fi.Size(),
		IsDirectory: fi.IsDir(),
		Modified:    fi.ModTime().UTC(),
	}
	if !fi.IsDir() {
		e.Extension = strings.ToLower(filepath.Ext(fi.Name()))
	}
	return e
}

// List returns the immediate children of dir sorted by name.
func (a *Accessor) List(dir string) ([]Entry, error) {
	full, err := a.Resolve(dir)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("directory not found: %s", dir)
		}
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}
	des, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, a.entry(filepath.Join(full, de.Name()), info))
	}
	return out, nil
}

// ListRecursive walks dir to maxDepth levels, keeping only files whose
// extension is in exts when exts is non-empty.
func (a *Accessor) ListRecursive(dir string, maxDepth int, exts []string) (Tree, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	start, err := a.Resolve(dir)
	if err != nil {
		return Tree{}, err
	}
	fi, err := os.Stat(start)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Tree{}, fmt.Errorf("directory not found: %s", dir)
		}
		return Tree{}, err
	}
	if !fi.IsDir() {
		return Tree{}, fmt.Errorf("not a directory: %s", dir)
	}
	filter := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		filter[e] = true
	}
	tree := Tree{BasePath: a.Rel(start), Files: []Entry{}, Directories: []string{}}
	var scan func(cur string, depth int)
	scan = func(cur string, depth int) {
		if depth > maxDepth {
			return
		}
		des, err := os.ReadDir(cur)
		if err != nil {
			return
		}
		for _, de := range des {
			p := filepath.Join(cur, de.Name())
			if de.IsDir() {
				tree.Directories = append(tree.Directories, a.Rel(p))
				scan(p, depth+1)
				continue
			}
			if len(filter) > 0 && !filter[strings.ToLower(filepath.Ext(de.Name()))] {
				continue
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			tree.Files = append(tree.Files, a.entry(p, info))
		}
	}
	scan(start, 0)
	sort.Strings(tree.Directories)
	return tree, nil
}

// Read returns the file's text. Files larger than maxSize are refused.
// JSON files are also decoded into Data.
func (a *Accessor) Read(p string, maxSize int64) (File, error) {
	if maxSize <= 0 {
		maxSize = a.MaxRead
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxRead
	}
	full, err := a.Resolve(p)
	if err != nil {
		return File{}, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return File{}, fmt.Errorf("file not found: %s", p)
		}
		return File{}, err
	}
	if fi.IsDir() {
		return File{}, fmt.Errorf("cannot read directory as file: %s", p)
	}
	if fi.Size() > maxSize {
		return File{}, fmt.Errorf("file too large (%d bytes); maximum: %d bytes", fi.Size(), maxSize)
	}
	b, err := os.ReadFile(full)
	if err != nil {
		return File{}, err
	}
	f := File{Path: a.Rel(full), Content: string(b), Size: len(b), Type: "text"}
	if strings.EqualFold(filepath.Ext(full), ".json") {
		var data any
		if err := json.Unmarshal(b, &data); err != nil {
			return File{}, fmt.Errorf("invalid JSON in %s: %w", p, err)
		}
		f.Data, f.Type = data, "json"
	}
	return f, nil
}

// Write creates p with content. An existing file is replaced only when
// overwrite is set. It reports whether a file was replaced.
func (a *Accessor) Write(p, content string, overwrite bool) (bool, error) {
	full, err := a.Resolve(p)
	if err != nil {
		return false, err
	}
	ext := strings.ToLower(filepath.Ext(full))
	if ext != "" && !writableExt[ext] {
		return false, fmt.Errorf("cannot write to %s files; allowed: %s", ext, strings.Join(WritableExtensions(), ", "))
	}
	existed := false
	if fi, err := os.Stat(full); err == nil {
		if fi.IsDir() {
			return false, fmt.Errorf("a directory exists at %s", p)
		}
		if !overwrite {
			return false, fmt.Errorf("file already exists: %s; set overwrite to replace it", p)
		}
		existed = true
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return false, err
	}
	return existed, nil
}

// Append adds content to the end of an existing file.
func (a *Accessor) Append(p, content string) error {
	full, err := a.Resolve(p)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("file not found: %s", p)
		}
		return err
	}
	f, err := os.OpenFile(full, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Exists reports whether p exists and whether it is a directory.
func (a *Accessor) Exists(p string) (exists, isDir bool, err error) {
	full, err := a.Resolve(p)
	if err != nil {
		return false, false, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, fi.IsDir(), nil
}

// Mkdir creates p and any parents. It reports whether the directory was
// already there.
func (a *Accessor) Mkdir(p string) (bool, error) {
	full, err := a.Resolve(p)
	if err != nil {
		return false, err
	}
	if fi, err := os.Stat(full); err == nil {
		if !fi.IsDir() {
			return false, fmt.Errorf("a file exists at %s", p)
		}
		return true, nil
	}
	return false, os.MkdirAll(full, 0o755)
}

// Stat returns details for p.
func (a *Accessor) Stat(p string) (Info, error) {
	full, err := a.Resolve(p)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, fmt.Errorf("file not found: %s", p)
		}
		return Info{}, err
	}
	ext := strings.ToLower(filepath.Ext(fi.Name()))
	return Info{
		Entry:    a.entry(full, fi),
		IsFile:   fi.Mode().IsRegular(),
		Readable: readableExt[ext],
		Writable: writableExt[ext],
	}, nil
}

// WritableExtensions lists the extensions Write accepts, sorted.
func WritableExtensions() []string {
	out := make([]string, 0, len(writableExt))
	for e := range writableExt {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

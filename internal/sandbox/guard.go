package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrViolation is matched by every ViolationError.
var ErrViolation = errors.New("sandbox violation")

// ViolationError reports a path that would resolve outside the sandbox root.
type ViolationError struct {
	Path string
	Root string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("path %q escapes the sandbox directory; all operations must be within %s", e.Path, e.Root)
}

func (e *ViolationError) Is(target error) bool { return target == ErrViolation }

// Kind tags failure results produced from this error.
func (e *ViolationError) Kind() string { return "sandbox_violation" }

// within reports whether abs is dir or a descendant of dir. Both must be clean.
func within(dir, abs string) bool {
	if dir == "" {
		return false
	}
	return abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator))
}

// realPath evaluates symlinks on the deepest existing ancestor of p and
// re-attaches the missing tail, so not-yet-created paths can be checked too.
func realPath(p string) (string, error) {
	var tail []string
	cur := p
	for {
		if _, err := os.Lstat(cur); err == nil {
			resolved, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

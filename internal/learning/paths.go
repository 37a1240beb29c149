package learning

import "path/filepath"

// Files kept in the learning directory.
const (
	PreferencesFile  = "preferences.json"
	StyleGuideFile   = "style_guide.md"
	EditPatternsFile = "edit_patterns.json"
	WorkflowsFile    = "workflows.json"
	BehaviorsFile    = "behaviors.json"
	ObservationsFile = "observations.json"
)

// DefaultDir returns the learning directory inside a sandbox root: <sandbox>/preferences/.
func DefaultDir(sandboxRoot string) string {
	return filepath.Join(sandboxRoot, "preferences")
}

// PreferencesPath returns <dir>/preferences.json.
func PreferencesPath(dir string) string { return filepath.Join(dir, PreferencesFile) }

// StyleGuidePath returns <dir>/style_guide.md.
func StyleGuidePath(dir string) string { return filepath.Join(dir, StyleGuideFile) }

func EditPatternsPath(dir string) string { return filepath.Join(dir, EditPatternsFile) }

func WorkflowsPath(dir string) string { return filepath.Join(dir, WorkflowsFile) }

func BehaviorsPath(dir string) string { return filepath.Join(dir, BehaviorsFile) }

func ObservationsPath(dir string) string { return filepath.Join(dir, ObservationsFile) }

// Package learning persists what the agent learns about a lawyer's way of
// working: style preferences, edit patterns, workflow and behavior patterns,
// and task observations. Every mutation rewrites the affected file whole.
package learning

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxObservations bounds the observation log; the oldest records are evicted.
const MaxObservations = 500

// Store is the in-memory view of the learning directory. It is safe for
// concurrent use.
type Store struct {
	dir string
	now func() time.Time

	mu           sync.Mutex
	prefs        map[string]*Preference
	patterns     []EditPattern
	workflows    map[string]*WorkflowPattern
	behaviors    []BehaviorPattern
	observations []Observation
	// written holds the digest of the last content this store wrote per
	// file, so the watcher can ignore its own writes.
	written map[string][sha256.Size]byte
}

// Open loads every learning file under dir, creating dir if needed. Missing
// files start empty.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create learning dir: %w", err)
	}
	s := &Store{
		dir:       dir,
		now:       time.Now,
		prefs:     make(map[string]*Preference),
		workflows: make(map[string]*WorkflowPattern),
		written:   make(map[string][sha256.Size]byte),
	}
	for _, name := range []string{PreferencesFile, EditPatternsFile, WorkflowsFile, BehaviorsFile, ObservationsFile} {
		if err := s.reload(name); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Dir returns the learning directory.
func (s *Store) Dir() string { return s.dir }

type preferencesDoc struct {
	Preferences map[string]*Preference `json:"preferences"`
	LastUpdated time.Time              `json:"last_updated"`
}

type patternsDoc struct {
	Patterns    []EditPattern `json:"patterns"`
	LastUpdated time.Time     `json:"last_updated"`
}

type workflowsDoc struct {
	Workflows   map[string]*WorkflowPattern `json:"workflows"`
	LastUpdated time.Time                   `json:"last_updated"`
}

type behaviorsDoc struct {
	Behaviors   []BehaviorPattern `json:"behaviors"`
	LastUpdated time.Time         `json:"last_updated"`
}

type observationsDoc struct {
	Observations []Observation `json:"observations"`
	LastUpdated  time.Time     `json:"last_updated"`
}

// reload replaces one in-memory collection with the contents of its file.
// The file is read under s.mu so a mutation cannot land between the read and
// the swap, and content identical to this store's last write is ignored.
func (s *Store) reload(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if sum, ok := s.written[name]; ok && sum == sha256.Sum256(data) {
		return nil
	}
	switch name {
	case PreferencesFile:
		var doc preferencesDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		s.prefs = make(map[string]*Preference, len(doc.Preferences))
		for topic, p := range doc.Preferences {
			if p == nil {
				continue
			}
			p.Topic = topic
			s.prefs[topic] = p
		}
	case EditPatternsFile:
		var doc patternsDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		s.patterns = doc.Patterns
	case WorkflowsFile:
		var doc workflowsDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		s.workflows = make(map[string]*WorkflowPattern, len(doc.Workflows))
		for k, w := range doc.Workflows {
			if w != nil {
				s.workflows[k] = w
			}
		}
	case BehaviorsFile:
		var doc behaviorsDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		s.behaviors = doc.Behaviors
	case ObservationsFile:
		var doc observationsDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		s.observations = trimObservations(doc.Observations)
	default:
		return nil
	}
	slog.Debug("learning file loaded", "file", name)
	return nil
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, name), data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	s.written[name] = sha256.Sum256(data)
	return nil
}

// The save helpers are called with s.mu held.

func (s *Store) savePreferences() error {
	if err := s.writeJSON(PreferencesFile, preferencesDoc{Preferences: s.prefs, LastUpdated: s.now().UTC()}); err != nil {
		return err
	}
	return s.saveStyleGuide()
}

func (s *Store) savePatterns() error {
	if err := s.writeJSON(EditPatternsFile, patternsDoc{Patterns: s.patterns, LastUpdated: s.now().UTC()}); err != nil {
		return err
	}
	return s.saveStyleGuide()
}

func (s *Store) saveWorkflows() error {
	return s.writeJSON(WorkflowsFile, workflowsDoc{Workflows: s.workflows, LastUpdated: s.now().UTC()})
}

func (s *Store) saveBehaviors() error {
	return s.writeJSON(BehaviorsFile, behaviorsDoc{Behaviors: s.behaviors, LastUpdated: s.now().UTC()})
}

func (s *Store) saveObservations() error {
	return s.writeJSON(ObservationsFile, observationsDoc{Observations: s.observations, LastUpdated: s.now().UTC()})
}

func (s *Store) saveStyleGuide() error {
	if err := writeFileAtomic(StyleGuidePath(s.dir), []byte(s.renderStyleGuide())); err != nil {
		return fmt.Errorf("write %s: %w", StyleGuideFile, err)
	}
	return nil
}

// Package knowledge is the static legal-domain knowledge base: practice-area
// workflows, deadlines, checklists, and common procedures. It is loaded from
// an embedded YAML document and passed explicitly to whoever needs it.
package knowledge

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed knowledge.yaml
var embedded []byte

// MaxPromptLines caps the knowledge section injected into the system prompt.
const MaxPromptLines = 25

type Deadline struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

type Section struct {
	Title string   `yaml:"title" json:"title"`
	Items []string `yaml:"items" json:"items"`
}

// Area is one practice area.
type Area struct {
	Key           string              `yaml:"key" json:"key"`
	Aliases       []string            `yaml:"aliases,omitempty" json:"-"`
	Name          string              `yaml:"name" json:"name"`
	Description   string              `yaml:"description" json:"description"`
	Keywords      []string            `yaml:"keywords" json:"-"`
	Workflow      []string            `yaml:"typical_workflow" json:"typical_workflow,omitempty"`
	Deadlines     []Deadline          `yaml:"key_deadlines" json:"key_deadlines,omitempty"`
	Documents     []string            `yaml:"common_documents" json:"common_documents,omitempty"`
	Checklists    map[string][]string `yaml:"checklists" json:"checklists,omitempty"`
	BestPractices []string            `yaml:"best_practices" json:"best_practices,omitempty"`
	Sections      []Section           `yaml:"sections" json:"sections,omitempty"`
}

// Procedure is a common, practice-independent legal procedure.
type Procedure struct {
	Key            string   `yaml:"key" json:"key"`
	Name           string   `yaml:"name" json:"name"`
	Description    string   `yaml:"description" json:"description"`
	Triggers       []string `yaml:"triggers" json:"-"`
	Steps          []string `yaml:"steps" json:"steps,omitempty"`
	Rules          []string `yaml:"rules" json:"rules,omitempty"`
	CommonMistakes []string `yaml:"common_mistakes" json:"common_mistakes,omitempty"`
	PartiesToCheck []string `yaml:"parties_to_check" json:"parties_to_check,omitempty"`
}

// Source names a tool that returns firm data.
type Source struct {
	Tool        string `yaml:"tool"`
	Description string `yaml:"description"`
}

// Base answers knowledge lookups. It is immutable after Parse.
type Base struct {
	areas      []Area
	procedures []Procedure
	sources    []Source
	areaIndex  map[string]int
	procIndex  map[string]int
}

// Load parses the embedded knowledge document.
func Load() (*Base, error) { return Parse(embedded) }

// Parse builds a Base from a YAML document.
func Parse(b []byte) (*Base, error) {
	var doc struct {
		Areas      []Area      `yaml:"areas"`
		Procedures []Procedure `yaml:"procedures"`
		Sources    []Source    `yaml:"sources"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse knowledge: %w", err)
	}
	kb := &Base{
		areas:      doc.Areas,
		procedures: doc.Procedures,
		sources:    doc.Sources,
		areaIndex:  make(map[string]int),
		procIndex:  make(map[string]int),
	}
	for i, a := range doc.Areas {
		for _, k := range append([]string{a.Key}, a.Aliases...) {
			k = normalize(k)
			if _, dup := kb.areaIndex[k]; dup {
				return nil, fmt.Errorf("parse knowledge: duplicate practice area %q", k)
			}
			kb.areaIndex[k] = i
		}
	}
	for i, p := range doc.Procedures {
		kb.procIndex[normalize(p.Key)] = i
	}
	return kb, nil
}

func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

// Areas returns the practice areas in inference order.
func (kb *Base) Areas() []Area { return append([]Area(nil), kb.areas...) }

// Procedures returns the known procedures.
func (kb *Base) Procedures() []Procedure { return append([]Procedure(nil), kb.procedures...) }

// Area looks up a practice area by key or alias, case- and space-insensitive.
func (kb *Base) Area(name string) (Area, bool) {
	i, ok := kb.areaIndex[normalize(name)]
	if !ok {
		return Area{}, false
	}
	return kb.areas[i], true
}

// Procedure looks up a procedure by key.
func (kb *Base) Procedure(name string) (Procedure, bool) {
	i, ok := kb.procIndex[normalize(name)]
	if !ok {
		return Procedure{}, false
	}
	return kb.procedures[i], true
}

// Checklist returns the kind ("intake", "review") checklist for an area.
// Unknown areas and kinds yield an empty list.
func (kb *Base) Checklist(area, kind string) []string {
	a, ok := kb.Area(area)
	if !ok {
		return []string{}
	}
	items := a.Checklists[strings.ToLower(kind)]
	if items == nil {
		return []string{}
	}
	return items
}

// Infer returns the key of the first area with a keyword in desc.
func (kb *Base) Infer(desc string) (string, bool) {
	m := newMatcher(desc)
	for _, a := range kb.areas {
		for _, kw := range a.Keywords {
			if m.has(kw) {
				return a.Key, true
			}
		}
	}
	return "", false
}

// Relevant is the knowledge selected for one task.
type Relevant struct {
	PracticeArea  string      `json:"practice_area,omitempty"`
	Workflow      []string    `json:"workflow"`
	Checklist     []string    `json:"checklist"`
	Deadlines     []Deadline  `json:"deadlines"`
	BestPractices []string    `json:"best_practices"`
	Procedures    []Procedure `json:"relevant_procedures"`
}

// RelevantFor selects area knowledge and triggered procedures for a task.
func (kb *Base) RelevantFor(task string) Relevant {
	r := Relevant{Workflow: []string{}, Checklist: []string{}, Deadlines: []Deadline{}, BestPractices: []string{}, Procedures: []Procedure{}}
	if key, ok := kb.Infer(task); ok {
		a, _ := kb.Area(key)
		r.PracticeArea = key
		r.Workflow = a.Workflow
		r.Checklist = kb.Checklist(key, "intake")
		r.Deadlines = a.Deadlines
		r.BestPractices = a.BestPractices
	}
	m := newMatcher(task)
	for _, p := range kb.procedures {
		for _, t := range p.Triggers {
			if m.has(t) {
				r.Procedures = append(r.Procedures, p)
				break
			}
		}
	}
	return r
}

var titleCaser = cases.Title(language.English)

// PromptSection renders compact knowledge for the system prompt.
func (kb *Base) PromptSection(task string) string {
	r := kb.RelevantFor(task)
	var lines []string
	if r.PracticeArea != "" {
		a, _ := kb.Area(r.PracticeArea)
		lines = append(lines, "## "+strings.ToUpper(a.Name))
	}
	if len(r.Workflow) > 0 {
		lines = append(lines, "Workflow: "+strings.Join(head(r.Workflow, 6), " → "))
	}
	if len(r.Deadlines) > 0 {
		lines = append(lines, "Key deadlines:")
		for _, d := range r.Deadlines[:min(3, len(r.Deadlines))] {
			lines = append(lines, fmt.Sprintf("- %s: %s", titleCaser.String(strings.ReplaceAll(d.Name, "_", " ")), d.Description))
		}
	}
	if len(kb.sources) > 0 {
		lines = append(lines, "", "## REAL INFORMATION SOURCES (use these tools)")
		for _, s := range kb.sources {
			lines = append(lines, fmt.Sprintf("- `%s`: %s", s.Tool, s.Description))
		}
		lines = append(lines, "ALWAYS prefer these real tools over general knowledge. Cite what the tools return.")
	}
	return strings.Join(head(lines, MaxPromptLines), "\n")
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// matcher checks keywords against lowercased text. Keywords of three
// characters or fewer must match a whole word.
type matcher struct {
	text  string
	words map[string]bool
}

func newMatcher(text string) matcher {
	lower := strings.ToLower(text)
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}
	return matcher{text: lower, words: words}
}

func (m matcher) has(kw string) bool {
	kw = strings.ToLower(kw)
	if len(kw) <= 3 {
		return m.words[kw]
	}
	return strings.Contains(m.text, kw)
}

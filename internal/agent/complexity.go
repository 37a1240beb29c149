package agent

import (
	"strings"
	"time"
)

// Complexity is the coarse size class of a goal.
type Complexity string

const (
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
)

// Budget bounds one task run.
type Budget struct {
	MaxIterations int           `yaml:"max_iterations" json:"max_iterations"`
	MaxRuntime    time.Duration `yaml:"max_runtime" json:"max_runtime"`
}

// Budgets maps each complexity to its budget.
type Budgets map[Complexity]Budget

// DefaultBudgets returns the stock iteration and runtime limits.
func DefaultBudgets() Budgets {
	return Budgets{
		Simple:   {MaxIterations: 60, MaxRuntime: 30 * time.Minute},
		Moderate: {MaxIterations: 90, MaxRuntime: 60 * time.Minute},
		Complex:  {MaxIterations: 120, MaxRuntime: 90 * time.Minute},
	}
}

// For returns the budget for c, falling back to the defaults for missing or
// non-positive entries.
func (b Budgets) For(c Complexity) Budget {
	def := DefaultBudgets()[c]
	if def == (Budget{}) {
		def = DefaultBudgets()[Moderate]
	}
	got := b[c]
	if got.MaxIterations <= 0 {
		got.MaxIterations = def.MaxIterations
	}
	if got.MaxRuntime <= 0 {
		got.MaxRuntime = def.MaxRuntime
	}
	return got
}

// Keyword lists are checked complex first so that "full review" is not
// taken for a simple "review".
var (
	complexKeywords = []string{
		"comprehensive", "full review", "deep analysis", "strategic assessment",
		"draft motion", "draft brief", "legal research", "case strategy",
		"negotiation prep", "discovery plan", "trial prep",
	}
	moderateKeywords = []string{
		"draft", "create", "update", "summarize", "analyze", "prepare",
		"organize", "compile", "review and comment", "brief analysis",
		"memo", "letter", "email draft",
	}
	simpleKeywords = []string{
		"simple", "quick", "check", "review", "verify", "look up", "find",
		"search", "read", "summarize brief", "check status",
	}
)

// Classify infers the complexity of goal from keywords. Goals that match
// nothing are moderate.
func Classify(goal string) Complexity {
	g := strings.ToLower(goal)
	has := func(kws []string) bool {
		for _, k := range kws {
			if strings.Contains(g, k) {
				return true
			}
		}
		return false
	}
	switch {
	case has(complexKeywords):
		return Complex
	case has(moderateKeywords):
		return Moderate
	case has(simpleKeywords):
		return Simple
	}
	return Moderate
}

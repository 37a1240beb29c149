package irac

import (
	"slices"
	"strings"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
)

// IssueInput frames the legal question.
type IssueInput struct {
	IssueStatement string   `json:"issue_statement"`
	SubIssues      []string `json:"sub_issues,omitempty"`
	KeyFacts       string   `json:"key_facts,omitempty"`
}

// RuleInput states the governing law.
type RuleInput struct {
	RuleStatement     string   `json:"rule_statement"`
	PrimaryAuthority  []string `json:"primary_authority"`
	ElementsOrFactors []string `json:"elements_or_factors,omitempty"`
}

// AnalysisInput applies the rule to the facts.
type AnalysisInput struct {
	Analysis           string   `json:"analysis"`
	FavorableArguments []string `json:"favorable_arguments"`
	Counterarguments   []string `json:"counterarguments,omitempty"`
	AnalogousCases     []string `json:"analogous_cases,omitempty"`
}

// ConclusionInput answers the issue.
type ConclusionInput struct {
	Conclusion      string   `json:"conclusion"`
	Recommendation  string   `json:"recommendation"`
	NextSteps       []string `json:"next_steps,omitempty"`
	ConfidenceLevel string   `json:"confidence_level,omitempty"`
}

// CritiqueInput grades the work so far.
type CritiqueInput struct {
	StrengthAssessment string   `json:"strength_assessment"`
	CitationCheck      bool     `json:"citation_check"`
	CompletenessCheck  bool     `json:"completeness_check"`
	WeaknessesFound    []string `json:"weaknesses_found,omitempty"`
	RefinementsNeeded  []string `json:"refinements_needed,omitempty"`
	OverallGrade       string   `json:"overall_grade"`
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func (in IssueInput) validate() error {
	if blank(in.IssueStatement) {
		return tools.Invalid("issue_statement must not be empty")
	}
	return nil
}

func (in RuleInput) validate() error {
	if blank(in.RuleStatement) {
		return tools.Invalid("rule_statement must not be empty")
	}
	if in.PrimaryAuthority == nil {
		return tools.Invalid("primary_authority is required")
	}
	return nil
}

func (in AnalysisInput) validate() error {
	if blank(in.Analysis) {
		return tools.Invalid("analysis must not be empty")
	}
	return nil
}

var confidenceLevels = []string{"", "high", "medium", "low"}

func (in ConclusionInput) validate() error {
	if blank(in.Conclusion) {
		return tools.Invalid("conclusion must not be empty")
	}
	if blank(in.Recommendation) {
		return tools.Invalid("recommendation must not be empty")
	}
	if !slices.Contains(confidenceLevels, in.ConfidenceLevel) {
		return tools.Invalid("confidence_level must be high, medium or low, got %q", in.ConfidenceLevel)
	}
	return nil
}

var grades = []string{GradeA, GradeB, GradeC, GradeNeedsWork}

func (in CritiqueInput) validate() error {
	if !slices.Contains(grades, in.OverallGrade) {
		return tools.Invalid("overall_grade must be one of A, B, C, needs_work, got %q", in.OverallGrade)
	}
	return nil
}

package irac

import (
	"context"
	"encoding/json"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/otel"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
)

// Hook observes each successful recording.
type Hook func(ctx context.Context, r Record, a Advice)

func list(desc string) tools.Param {
	return tools.Param{Type: "array", Items: &tools.Param{Type: "string"}, Description: desc}
}

func text(desc string) tools.Param { return tools.Param{Type: "string", Description: desc} }

// ToolFor maps a phase tool name to its phase.
var ToolFor = map[string]Phase{
	"identify_legal_issue":   Issue,
	"state_legal_rule":       Rule,
	"perform_legal_analysis": Analysis,
	"state_conclusion":       Conclusion,
	"self_critique":          Critique,
}

// Specs returns the phase tools and review_irac_phase.
func Specs() []tools.Spec {
	return []tools.Spec{
		{
			Name:        "identify_legal_issue",
			Description: "IRAC Step 1: Identify and frame the legal issue precisely. Use 'The issue is whether...' format.",
			Parameters: map[string]tools.Param{
				"issue_statement": text("The precise legal issue statement"),
				"sub_issues":      list("Any sub-issues that need to be addressed"),
				"key_facts":       text("The key facts relevant to this issue"),
			},
			Required: []string{"issue_statement"},
			Category: "irac",
		},
		{
			Name:        "state_legal_rule",
			Description: "IRAC Step 2: State the applicable legal rule with proper citations.",
			Parameters: map[string]tools.Param{
				"rule_statement":      text("The legal rule that applies"),
				"primary_authority":   list("Primary authorities (cases, statutes) with Bluebook citations"),
				"elements_or_factors": list("Elements or factors of the rule"),
			},
			Required: []string{"rule_statement", "primary_authority"},
			Category: "irac",
		},
		{
			Name:        "perform_legal_analysis",
			Description: "IRAC Step 3: Apply the rule to the facts. Address both sides.",
			Parameters: map[string]tools.Param{
				"analysis":            text("Detailed analysis applying rule to facts"),
				"favorable_arguments": list("Arguments in favor of our position"),
				"counterarguments":    list("Counterarguments and how to address them"),
				"analogous_cases":     list("Analogous cases supporting our position"),
			},
			Required: []string{"analysis", "favorable_arguments"},
			Category: "irac",
		},
		{
			Name:        "state_conclusion",
			Description: "IRAC Step 4: State the conclusion and recommended action.",
			Parameters: map[string]tools.Param{
				"conclusion":       text("Clear statement of conclusion"),
				"recommendation":   text("Recommended course of action"),
				"next_steps":       list("Specific next steps to take"),
				"confidence_level": {Type: "string", Enum: []string{"high", "medium", "low"}, Description: "Confidence in the conclusion"},
			},
			Required: []string{"conclusion", "recommendation"},
			Category: "irac",
		},
		{
			Name:        "self_critique",
			Description: "Critique your own work before finalizing. Be harsh - find weaknesses.",
			Parameters: map[string]tools.Param{
				"strength_assessment": text("Is the argument strong enough? Should it be more aggressive?"),
				"citation_check":      {Type: "boolean", Description: "Are all citations accurate and properly formatted?"},
				"completeness_check":  {Type: "boolean", Description: "Were all issues addressed? Any gaps?"},
				"weaknesses_found":    list("Weaknesses identified in the work"),
				"refinements_needed":  list("Specific refinements to make"),
				"overall_grade":       {Type: "string", Enum: grades, Description: "Overall grade for the work"},
			},
			Required: []string{"strength_assessment", "citation_check", "completeness_check", "overall_grade"},
			Category: "irac",
		},
		{
			Name:        "review_irac_phase",
			Description: "Return what was recorded for an IRAC phase so you can refine it.",
			Parameters: map[string]tools.Param{
				"phase": {Type: "string", Enum: []string{"issue", "rule", "analysis", "conclusion", "critique"}, Description: "The phase to review"},
			},
			Required: []string{"phase"},
			Category: "irac",
		},
	}
}

func decodeInto[T any](raw json.RawMessage) (T, error) {
	var v T
	err := tools.Decode(raw, &v)
	return v, err
}

// Register adds the IRAC tools for t to reg. hook may be nil.
func Register(reg *tools.Registry, t *Tracker, hook Hook) error {
	handlers := map[string]func(json.RawMessage) (Advice, error){
		"identify_legal_issue": func(raw json.RawMessage) (Advice, error) {
			in, err := decodeInto[IssueInput](raw)
			if err != nil {
				return Advice{}, err
			}
			return t.RecordIssue(in)
		},
		"state_legal_rule": func(raw json.RawMessage) (Advice, error) {
			in, err := decodeInto[RuleInput](raw)
			if err != nil {
				return Advice{}, err
			}
			return t.RecordRule(in)
		},
		"perform_legal_analysis": func(raw json.RawMessage) (Advice, error) {
			in, err := decodeInto[AnalysisInput](raw)
			if err != nil {
				return Advice{}, err
			}
			return t.RecordAnalysis(in)
		},
		"state_conclusion": func(raw json.RawMessage) (Advice, error) {
			in, err := decodeInto[ConclusionInput](raw)
			if err != nil {
				return Advice{}, err
			}
			return t.RecordConclusion(in)
		},
		"self_critique": func(raw json.RawMessage) (Advice, error) {
			in, err := decodeInto[CritiqueInput](raw)
			if err != nil {
				return Advice{}, err
			}
			return t.RecordCritique(in)
		},
	}
	for _, spec := range Specs() {
		if spec.Name == "review_irac_phase" {
			if err := reg.Register(spec, t.review); err != nil {
				return err
			}
			continue
		}
		fn := handlers[spec.Name]
		h := func(ctx context.Context, raw json.RawMessage) (tools.Result, error) {
			a, err := fn(raw)
			if err != nil {
				return nil, err
			}
			otel.RecordIRACPhase(ctx, string(a.Phase))
			rec, _ := t.Get(a.Phase)
			if hook != nil {
				hook(ctx, rec, a)
			}
			out := tools.OK(map[string]any{
				"phase":     a.Phase,
				"recorded":  true,
				"next_step": a.Next,
			})
			if a.Phase == Critique {
				out["grade"] = a.Grade
				out["needs_refinement"] = a.NeedsRefinement
				out["refinements"] = a.Refinements
				out["attempt"] = a.Attempt
			}
			return out, nil
		}
		if err := reg.Register(spec, h); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) review(ctx context.Context, raw json.RawMessage) (tools.Result, error) {
	var in struct {
		Phase string `json:"phase"`
	}
	if err := tools.Decode(raw, &in); err != nil {
		return nil, err
	}
	p, err := ParsePhase(in.Phase)
	if err != nil {
		return nil, err
	}
	r, err := t.Get(p)
	if err != nil {
		return nil, err
	}
	return tools.OK(map[string]any{
		"phase":           r.Phase,
		"content":         r.Content,
		"completed":       r.Completed,
		"suggested_phase": t.Suggested(),
	}), nil
}

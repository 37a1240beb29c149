package knowledge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
)

// Specs returns the knowledge tool specs.
func (kb *Base) Specs() []tools.Spec {
	var areaKeys, procKeys []string
	for _, a := range kb.areas {
		areaKeys = append(areaKeys, a.Key)
	}
	for _, p := range kb.procedures {
		procKeys = append(procKeys, p.Key)
	}
	return []tools.Spec{
		{
			Name:        "get_practice_area_knowledge",
			Description: "Get comprehensive knowledge about a legal practice area including workflows, checklists, and best practices.",
			Parameters: map[string]tools.Param{
				"practice_area": {Type: "string", Enum: areaKeys, Description: "The practice area to get knowledge for"},
			},
			Required: []string{"practice_area"},
			Category: "knowledge",
		},
		{
			Name:        "get_legal_procedure",
			Description: "Get steps for a common legal procedure.",
			Parameters: map[string]tools.Param{
				"procedure_name": {Type: "string", Enum: procKeys, Description: "The procedure to get"},
			},
			Required: []string{"procedure_name"},
			Category: "knowledge",
		},
		{
			Name:        "get_intake_checklist",
			Description: "Get the intake checklist for a practice area. Use this when opening a new matter.",
			Parameters: map[string]tools.Param{
				"practice_area": {Type: "string", Description: "The practice area"},
			},
			Required: []string{"practice_area"},
			Category: "knowledge",
		},
	}
}

// Register adds the knowledge tools to reg.
func Register(reg *tools.Registry, kb *Base) error {
	type args struct {
		PracticeArea  string `json:"practice_area"`
		ProcedureName string `json:"procedure_name"`
	}
	handlers := map[string]func(args) (tools.Result, error){
		"get_practice_area_knowledge": func(in args) (tools.Result, error) {
			a, ok := kb.Area(in.PracticeArea)
			if !ok {
				return nil, fmt.Errorf("practice area not found: %s", in.PracticeArea)
			}
			return tools.OK(map[string]any{"knowledge": a}), nil
		},
		"get_legal_procedure": func(in args) (tools.Result, error) {
			p, ok := kb.Procedure(in.ProcedureName)
			if !ok {
				return nil, fmt.Errorf("procedure not found: %s", in.ProcedureName)
			}
			return tools.OK(map[string]any{"procedure": p}), nil
		},
		"get_intake_checklist": func(in args) (tools.Result, error) {
			return tools.OK(map[string]any{"checklist": kb.Checklist(in.PracticeArea, "intake")}), nil
		},
	}
	for _, spec := range kb.Specs() {
		fn := handlers[spec.Name]
		h := func(ctx context.Context, raw json.RawMessage) (tools.Result, error) {
			var in args
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

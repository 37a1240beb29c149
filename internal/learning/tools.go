package learning

import (
	"context"
	"encoding/json"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
)

func strParam(desc string) tools.Param { return tools.Param{Type: "string", Description: desc} }

func listParam(desc string) tools.Param {
	return tools.Param{Type: "array", Items: &tools.Param{Type: "string"}, Description: desc}
}

// Specs returns the learning tool specs.
func Specs() []tools.Spec {
	return []tools.Spec{
		{
			Name:        "update_preference",
			Description: "Record a style preference or writing rule. Use this when you detect a pattern the lawyer wants or when correcting your own approach.",
			Parameters: map[string]tools.Param{
				"topic":       strParam("Category:Specific topic (e.g., 'Citations:Bluebook', 'Tone:Motion', 'Terminology:Contract')"),
				"instruction": strParam("The rule or preference to follow"),
				"examples":    listParam("Examples demonstrating the preference"),
			},
			Required: []string{"topic", "instruction"},
			Category: "learning",
		},
		{
			Name:        "get_style_preferences",
			Description: "Get the current style preferences for a type of document or task.",
			Parameters: map[string]tools.Param{
				"task_description": strParam("Description of the task to get relevant preferences for"),
			},
			Required: []string{"task_description"},
			Category: "learning",
		},
		{
			Name:        "record_workflow_success",
			Description: "Record the sequence of actions that completed a kind of task so it can be recommended next time.",
			Parameters: map[string]tools.Param{
				"task_type":        strParam("Kind of task (e.g., 'motion', 'memo', 'intake')"),
				"matter_type":      strParam("Kind of matter (default: general)"),
				"actions":          listParam("Tool names in the order they were used"),
				"duration_seconds": {Type: "number", Description: "How long the task took"},
				"success":          {Type: "boolean", Description: "Whether the workflow succeeded (default: true)"},
				"notes":            strParam("What made this workflow work"),
			},
			Required: []string{"task_type", "actions"},
			Category: "learning",
		},
		{
			Name:        "get_recommended_workflow",
			Description: "Get the workflow that has worked best for a kind of task.",
			Parameters: map[string]tools.Param{
				"task_type":   strParam("Kind of task"),
				"matter_type": strParam("Kind of matter (optional)"),
			},
			Required: []string{"task_type"},
			Category: "learning",
		},
		{
			Name:        "record_observation",
			Description: "Record the outcome of a task and lessons learned.",
			Parameters: map[string]tools.Param{
				"task_description":   strParam("What the task was"),
				"actions_taken":      listParam("Tool names used"),
				"outcome":            {Type: "string", Enum: []string{OutcomeSuccess, OutcomePartial, OutcomeFailure}, Description: "How the task went"},
				"time_taken_seconds": {Type: "number", Description: "How long the task took"},
				"lessons":            listParam("Lessons for next time"),
			},
			Required: []string{"task_description", "outcome"},
			Category: "learning",
		},
		{
			Name:        "get_user_typical_action",
			Description: "Get what the user typically does in a given situation.",
			Parameters: map[string]tools.Param{
				"context": strParam("The situation (e.g., 'new client intake', 'discovery request received')"),
			},
			Required: []string{"context"},
			Category: "learning",
		},
		{
			Name:        "record_user_behavior",
			Description: "Record something the user does in a given situation.",
			Parameters: map[string]tools.Param{
				"trigger":          strParam("The situation that prompts the action"),
				"action":           strParam("What the user does"),
				"matter_type":      strParam("Kind of matter"),
				"priority":         {Type: "string", Enum: []string{"high", "medium", "low"}, Description: "How urgently the user acts"},
				"time_sensitivity": strParam("Timing tag (e.g., 'same_day', 'within_week')"),
			},
			Required: []string{"trigger", "action"},
			Category: "learning",
		},
	}
}

type toolArgs struct {
	Topic           string   `json:"topic"`
	Instruction     string   `json:"instruction"`
	Examples        []string `json:"examples"`
	TaskDescription string   `json:"task_description"`
	TaskType        string   `json:"task_type"`
	MatterType      string   `json:"matter_type"`
	Actions         []string `json:"actions"`
	DurationSeconds float64  `json:"duration_seconds"`
	Success         *bool    `json:"success"`
	Notes           string   `json:"notes"`
	ActionsTaken    []string `json:"actions_taken"`
	Outcome         string   `json:"outcome"`
	TimeTaken       float64  `json:"time_taken_seconds"`
	Lessons         []string `json:"lessons"`
	Context         string   `json:"context"`
	Trigger         string   `json:"trigger"`
	Action          string   `json:"action"`
	Priority        string   `json:"priority"`
	TimeSensitivity string   `json:"time_sensitivity"`
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

// Register adds the learning tools to reg.
func Register(reg *tools.Registry, s *Store) error {
	handlers := map[string]func(toolArgs) (tools.Result, error){
		"update_preference": func(in toolArgs) (tools.Result, error) {
			res, err := s.UpdatePreference(in.Topic, in.Instruction, in.Examples, SourceAgent)
			if err != nil {
				return nil, err
			}
			action := "updated"
			if res.Created {
				action = "created"
			}
			return tools.OK(map[string]any{
				"topic":       res.Preference.Topic,
				"instruction": res.Preference.Instruction,
				"confidence":  res.Preference.Confidence,
				"action":      action,
			}), nil
		},
		"get_style_preferences": func(in toolArgs) (tools.Result, error) {
			return tools.OK(map[string]any{"preferences": s.Relevant(in.TaskDescription)}), nil
		},
		"record_workflow_success": func(in toolArgs) (tools.Result, error) {
			success := in.Success == nil || *in.Success
			w, err := s.RecordWorkflow(WorkflowRun{
				TaskType:   in.TaskType,
				MatterType: in.MatterType,
				Actions:    in.Actions,
				Success:    success,
				Duration:   seconds(in.DurationSeconds),
				Notes:      in.Notes,
			})
			if err != nil {
				return nil, err
			}
			return tools.OK(map[string]any{"workflow": w, "success_rate": w.SuccessRate()}), nil
		},
		"get_recommended_workflow": func(in toolArgs) (tools.Result, error) {
			w, ok := s.RecommendedWorkflow(in.TaskType, in.MatterType)
			if !ok {
				return tools.OK(map[string]any{"found": false, "message": "No workflow recorded yet for " + in.TaskType}), nil
			}
			return tools.OK(map[string]any{"found": true, "workflow": w, "success_rate": w.SuccessRate()}), nil
		},
		"record_observation": func(in toolArgs) (tools.Result, error) {
			if in.Outcome != OutcomeSuccess && in.Outcome != OutcomePartial && in.Outcome != OutcomeFailure {
				return nil, tools.Invalid("outcome must be success, partial or failure, got %q", in.Outcome)
			}
			err := s.RecordObservation(Observation{
				Task:     in.TaskDescription,
				Actions:  in.ActionsTaken,
				Outcome:  in.Outcome,
				Duration: in.TimeTaken,
				Lessons:  in.Lessons,
			})
			if err != nil {
				return nil, err
			}
			return tools.OK(map[string]any{"recorded": true}), nil
		},
		"get_user_typical_action": func(in toolArgs) (tools.Result, error) {
			return tools.OK(map[string]any{"context": in.Context, "typical_actions": s.TypicalActions(in.Context, 5)}), nil
		},
		"record_user_behavior": func(in toolArgs) (tools.Result, error) {
			p, err := s.RecordBehavior(Behavior{
				Trigger:         in.Trigger,
				Action:          in.Action,
				MatterType:      in.MatterType,
				Priority:        in.Priority,
				TimeSensitivity: in.TimeSensitivity,
			})
			if err != nil {
				return nil, err
			}
			return tools.OK(map[string]any{"behavior": p}), nil
		},
	}
	for _, spec := range Specs() {
		fn := handlers[spec.Name]
		h := func(ctx context.Context, raw json.RawMessage) (tools.Result, error) {
			var in toolArgs
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

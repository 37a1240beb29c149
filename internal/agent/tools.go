package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/irac"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/learning"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
	"github.com/tidwall/gjson"
)

func completionSpecs() []tools.Spec {
	str := func(d string) tools.Param { return tools.Param{Type: "string", Description: d} }
	return []tools.Spec{
		{
			Name:        "finalize_work_product",
			Description: "Save the final, critiqued work product to the sandbox.",
			Parameters: map[string]tools.Param{
				"title":         str("Title of the document"),
				"content":       str("The final work product content"),
				"document_type": str("Type of document"),
				"save_path":     str("Path to save the document (default: output/<title>.md)"),
				"matter_id":     str("Matter to attach to (optional)"),
			},
			Required: []string{"title", "content", "document_type"},
			Category: "irac",
		},
		{
			Name:        "task_complete",
			Description: "Mark the task as complete with a summary.",
			Parameters: map[string]tools.Param{
				"summary":      str("Summary of what was accomplished"),
				"output_files": {Type: "array", Items: &tools.Param{Type: "string"}, Description: "Files created"},
				"irac_summary": {Type: "object", Description: "Summary of IRAC analysis; a lessons list is kept for future tasks"},
				"success":      {Type: "boolean", Description: "Whether task was successful"},
			},
			Required: []string{"summary", "success"},
			Category: "irac",
		},
	}
}

type finalizeArgs struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	DocumentType string `json:"document_type"`
	SavePath     string `json:"save_path"`
	MatterID     string `json:"matter_id"`
}

type completeArgs struct {
	Summary     string          `json:"summary"`
	OutputFiles []string        `json:"output_files"`
	IRACSummary json.RawMessage `json:"irac_summary"`
	Success     *bool           `json:"success"`
}

// DefaultOutputPath is where a work product titled title is saved when no
// path is given.
func DefaultOutputPath(title string) string {
	if strings.TrimSpace(title) == "" {
		title = "Untitled"
	}
	return "output/" + strings.ReplaceAll(title, " ", "_") + ".md"
}

func (r *run) registerCompletionTools() error {
	specs := completionSpecs()
	if err := r.reg.Register(specs[0], r.finalize); err != nil {
		return err
	}
	return r.reg.Register(specs[1], r.taskComplete)
}

func (r *run) finalize(ctx context.Context, raw json.RawMessage) (tools.Result, error) {
	var in finalizeArgs
	if err := tools.Decode(raw, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, tools.Invalid("content must not be empty")
	}
	path := in.SavePath
	if path == "" {
		path = DefaultOutputPath(in.Title)
	}
	r.em.ArtifactStarted(in.Title, in.DocumentType)
	r.em.ArtifactUpdated(in.Title, in.Content)
	if _, err := r.agent.Sandbox.Write(path, in.Content, true); err != nil {
		return nil, err
	}
	r.outputs = mergeFiles(r.outputs, []string{path})
	r.em.ArtifactCompleted(in.Title, path)
	slog.Info("work product finalized", "title", in.Title, "path", path, "bytes", len(in.Content))
	out := tools.OK(map[string]any{
		"title":         in.Title,
		"path":          path,
		"size":          len(in.Content),
		"document_type": in.DocumentType,
	})
	if in.MatterID != "" {
		out["matter_id"] = in.MatterID
	}
	return out, nil
}

func (r *run) taskComplete(ctx context.Context, raw json.RawMessage) (tools.Result, error) {
	var in completeArgs
	if err := tools.Decode(raw, &in); err != nil {
		return nil, err
	}
	succeeded := in.Success == nil || *in.Success
	if r.agent.Learning != nil {
		outcome := "success"
		if !succeeded {
			outcome = "partial"
		}
		var lessons []string
		for _, l := range gjson.GetBytes(in.IRACSummary, "lessons").Array() {
			if s := strings.TrimSpace(l.String()); s != "" {
				lessons = append(lessons, s)
			}
		}
		err := r.agent.Learning.RecordObservation(learning.Observation{
			Task:     r.goal,
			Actions:  r.reg.Actions(),
			Outcome:  outcome,
			Duration: r.elapsed().Seconds(),
			Lessons:  lessons,
		})
		if err != nil {
			slog.Warn("could not record observation", "err", err)
		}
	}
	r.done = &completion{summary: in.Summary, files: in.OutputFiles}
	phases := make([]string, 0, len(irac.Phases))
	for _, p := range r.tracker.Completed() {
		phases = append(phases, string(p))
	}
	files := in.OutputFiles
	if files == nil {
		files = []string{}
	}
	return tools.OK(map[string]any{
		"task_complete":         true,
		"summary":               in.Summary,
		"output_files":          files,
		"irac_phases_completed": phases,
	}), nil
}

// argSummary picks a short human label out of tool arguments.
func argSummary(args json.RawMessage) string {
	for _, key := range []string{"path", "title", "query", "matter_id", "phase", "topic"} {
		if v := gjson.GetBytes(args, key); v.Exists() && v.Type == gjson.String {
			return clip(v.String(), 80)
		}
	}
	return ""
}

var headlineField = map[irac.Phase]string{
	irac.Issue:      "issue_statement",
	irac.Rule:       "rule_statement",
	irac.Analysis:   "analysis",
	irac.Conclusion: "conclusion",
	irac.Critique:   "overall_grade",
}

func phaseHeadline(rec irac.Record) string {
	v := gjson.GetBytes(rec.Content, headlineField[rec.Phase]).String()
	if rec.Phase == irac.Critique && v != "" {
		return "Grade " + v
	}
	return clip(v, 200)
}

func clip(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}

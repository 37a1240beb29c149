package knowledge

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T) *Base {
	t.Helper()
	kb, err := Load()
	require.NoError(t, err)
	return kb
}

func TestLoad_AreasInOrder(t *testing.T) {
	t.Parallel()
	kb := load(t)
	var keys []string
	for _, a := range kb.Areas() {
		keys = append(keys, a.Key)
	}
	assert.Equal(t, []string{"litigation", "contract", "real_estate", "employment", "bankruptcy", "ip"}, keys)
	assert.Len(t, kb.Procedures(), 4)
}

func TestArea_AliasAndNormalization(t *testing.T) {
	t.Parallel()
	kb := load(t)
	a, ok := kb.Area("Intellectual Property")
	require.True(t, ok)
	assert.Equal(t, "ip", a.Key)
	a, ok = kb.Area("real estate")
	require.True(t, ok)
	assert.Equal(t, "Real Estate", a.Name)
	_, ok = kb.Area("tax")
	assert.False(t, ok)
}

func TestInfer(t *testing.T) {
	t.Parallel()
	kb := load(t)
	cases := map[string]string{
		"Draft a motion to dismiss the complaint":         "litigation",
		"Review the NDA for Acme":                         "contract",
		"Tenant dispute over a commercial lease":          "real_estate",
		"Advise on FLSA overtime exposure":                "employment",
		"Prepare chapter 11 first-day motions for debtor": "litigation",
		"Summarize creditor claims in the insolvency":     "bankruptcy",
		"Assess IP ownership in the startup":              "ip",
	}
	for desc, want := range cases {
		got, ok := kb.Infer(desc)
		assert.True(t, ok, desc)
		assert.Equal(t, want, got, desc)
	}
}

func TestInfer_ShortKeywordsNeedWholeWord(t *testing.T) {
	t.Parallel()
	kb := load(t)
	// "ip" inside "relationship" and "nda" inside "calendar" must not match.
	_, ok := kb.Infer("Summarize the relationship history")
	assert.False(t, ok)
	_, ok = kb.Infer("Update the firm calendar")
	assert.False(t, ok)
}

func TestRelevantFor_Procedures(t *testing.T) {
	t.Parallel()
	kb := load(t)
	r := kb.RelevantFor("Run a conflict check and open matter for the new lawsuit")
	assert.Equal(t, "litigation", r.PracticeArea)
	assert.NotEmpty(t, r.Checklist)
	var keys []string
	for _, p := range r.Procedures {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"conflict_check", "matter_intake"}, keys)
}

func TestPromptSection(t *testing.T) {
	t.Parallel()
	kb := load(t)
	s := kb.PromptSection("Prepare deposition outline for the trial")
	lines := strings.Split(s, "\n")
	assert.LessOrEqual(t, len(lines), MaxPromptLines)
	assert.Equal(t, "## LITIGATION", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "Workflow: Initial case assessment and intake → "))
	assert.Equal(t, 5, strings.Count(lines[1], " → "))
	assert.Equal(t, "Key deadlines:", lines[2])
	assert.Equal(t, "- Statute Of Limitations: CRITICAL - varies by claim type, typically 1-6 years", lines[3])
	assert.Contains(t, s, "## REAL INFORMATION SOURCES (use these tools)")
}

func TestRegister_Tools(t *testing.T) {
	t.Parallel()
	kb := load(t)
	reg := tools.NewRegistry()
	require.NoError(t, Register(reg, kb))
	ctx := context.Background()

	res := reg.Dispatch(ctx, "get_practice_area_knowledge", json.RawMessage(`{"practice_area":"contract"}`))
	require.True(t, res.Succeeded())
	assert.Equal(t, "Contract Law", res["knowledge"].(Area).Name)

	res = reg.Dispatch(ctx, "get_legal_procedure", json.RawMessage(`{"procedure_name":"astrology"}`))
	assert.False(t, res.Succeeded())
	assert.Contains(t, res.Error(), "procedure not found")

	res = reg.Dispatch(ctx, "get_intake_checklist", json.RawMessage(`{"practice_area":"employment"}`))
	require.True(t, res.Succeeded())
	assert.Equal(t, []string{}, res["checklist"])
}

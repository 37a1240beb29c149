package bridge

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
)

// SemanticQuery is the body of POST /api/search/semantic.
type SemanticQuery struct {
	Query                 string  `json:"query"`
	Limit                 int     `json:"limit"`
	Threshold             float64 `json:"threshold"`
	MatterID              *string `json:"matterId"`
	DocumentType          *string `json:"documentType"`
	IncludeGraphExpansion bool    `json:"includeGraphExpansion"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func results(r tools.Result) []any {
	if v, ok := r["results"].([]any); ok {
		return v
	}
	return []any{}
}

func firstN(v []any, n int) []any {
	if n > 0 && len(v) > n {
		return v[:n]
	}
	return v
}

// SearchSemantic runs a vector search against the firm's documents.
func (c *Client) SearchSemantic(ctx context.Context, q SemanticQuery) (tools.Result, error) {
	resp, err := c.Post(ctx, "/api/search/semantic", q)
	if err != nil || !resp.Succeeded() {
		return resp, err
	}
	res := results(resp)
	count := len(res)
	if n, ok := resp["count"].(float64); ok {
		count = int(n)
	}
	return tools.OK(map[string]any{"query": q.Query, "results": res, "count": count}), nil
}

// SearchHybrid runs combined semantic and keyword search.
func (c *Client) SearchHybrid(ctx context.Context, query string, limit int) (tools.Result, error) {
	resp, err := c.Post(ctx, "/api/search/hybrid", map[string]any{"query": query, "limit": limit})
	if err != nil || !resp.Succeeded() {
		return resp, err
	}
	out := tools.OK(map[string]any{"query": query, "results": results(resp), "semanticCount": 0, "keywordCount": 0})
	for _, k := range []string{"semanticCount", "keywordCount"} {
		if v, ok := resp[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

type retrievalArgs struct {
	Query                 string   `json:"query"`
	Limit                 int      `json:"limit"`
	Threshold             *float64 `json:"threshold"`
	MatterID              string   `json:"matter_id"`
	DocumentType          string   `json:"document_type"`
	IncludeGraphExpansion *bool    `json:"include_graph_expansion"`
	LegalIssue            string   `json:"legal_issue"`
	Jurisdiction          string   `json:"jurisdiction"`
	CourtLevel            string   `json:"court_level"`
	ClauseDescription     string   `json:"clause_description"`
	ContractType          string   `json:"contract_type"`
	RetrievedDocumentIDs  []string `json:"retrieved_document_ids"`
	SelectedDocumentID    string   `json:"selected_document_id"`
	Rating                *int     `json:"rating"`
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func retrievalSpecs() []tools.Spec {
	s := func(d string) tools.Param { return tools.Param{Type: "string", Description: d} }
	i := func(d string) tools.Param { return tools.Param{Type: "integer", Description: d} }
	return []tools.Spec{
		{
			Name:        "search_semantic",
			Description: "Search for similar documents using semantic similarity against the firm's real document database.",
			Parameters: map[string]tools.Param{
				"query":                   s("Search query"),
				"limit":                   i("Max results (default: 10)"),
				"threshold":               {Type: "number", Description: "Min similarity 0.0-1.0 (default: 0.7)"},
				"matter_id":               s("Filter by matter ID"),
				"document_type":           s("Filter by document type"),
				"include_graph_expansion": {Type: "boolean", Description: "Include related docs (default: true)"},
			},
			Required: []string{"query"},
			Category: "retrieval",
		},
		{
			Name:        "search_hybrid",
			Description: "Hybrid search: semantic + keyword. Uses the real document database.",
			Parameters:  map[string]tools.Param{"query": s("Search query"), "limit": i("Max results (default: 10)")},
			Required:    []string{"query"},
			Category:    "retrieval",
		},
		{
			Name:        "find_precedent",
			Description: "Find legal precedent in the firm's document library.",
			Parameters: map[string]tools.Param{
				"legal_issue":  s("Description of the legal issue"),
				"jurisdiction": s("Filter by jurisdiction"),
				"court_level":  s("Filter by court level"),
				"limit":        i("Max results (default: 5)"),
			},
			Required: []string{"legal_issue"},
			Category: "retrieval",
		},
		{
			Name:        "find_similar_clauses",
			Description: "Find similar contract clauses in the firm's document library.",
			Parameters: map[string]tools.Param{
				"clause_description": s("Description of the clause"),
				"contract_type":      s("Filter by contract type"),
				"limit":              i("Max results (default: 10)"),
			},
			Required: []string{"clause_description"},
			Category: "retrieval",
		},
		{
			Name:        "track_retrieval_feedback",
			Description: "Track retrieval feedback for learning.",
			Parameters: map[string]tools.Param{
				"query":                  s("Original search query"),
				"retrieved_document_ids": {Type: "array", Items: &tools.Param{Type: "string"}, Description: "IDs of retrieved docs"},
				"selected_document_id":   s("ID of selected doc"),
				"rating":                 i("1-5 quality rating"),
			},
			Required: []string{"query", "retrieved_document_ids"},
			Category: "retrieval",
		},
	}
}

func registerRetrieval(reg *tools.Registry, c *Client) error {
	handlers := map[string]func(context.Context, retrievalArgs) (tools.Result, error){
		"search_semantic": func(ctx context.Context, in retrievalArgs) (tools.Result, error) {
			q := SemanticQuery{
				Query:                 in.Query,
				Limit:                 orDefault(in.Limit, 10),
				Threshold:             0.7,
				MatterID:              optional(in.MatterID),
				DocumentType:          optional(in.DocumentType),
				IncludeGraphExpansion: true,
			}
			if in.Threshold != nil {
				q.Threshold = *in.Threshold
			}
			if in.IncludeGraphExpansion != nil {
				q.IncludeGraphExpansion = *in.IncludeGraphExpansion
			}
			return c.SearchSemantic(ctx, q)
		},
		"search_hybrid": func(ctx context.Context, in retrievalArgs) (tools.Result, error) {
			return c.SearchHybrid(ctx, in.Query, orDefault(in.Limit, 10))
		},
		"find_precedent": func(ctx context.Context, in retrievalArgs) (tools.Result, error) {
			limit := orDefault(in.Limit, 5)
			parts := []string{in.LegalIssue}
			if in.Jurisdiction != "" {
				parts = append(parts, "jurisdiction: "+in.Jurisdiction)
			}
			if in.CourtLevel != "" {
				parts = append(parts, "court level: "+in.CourtLevel)
			}
			res, err := c.SearchSemantic(ctx, SemanticQuery{
				Query:                 strings.Join(parts, " "),
				Limit:                 limit,
				Threshold:             0.6,
				DocumentType:          optional("case"),
				IncludeGraphExpansion: true,
			})
			if err != nil || !res.Succeeded() {
				return res, err
			}
			found := results(res)
			return tools.OK(map[string]any{
				"legalIssue":   in.LegalIssue,
				"jurisdiction": optional(in.Jurisdiction),
				"courtLevel":   optional(in.CourtLevel),
				"precedents":   firstN(found, limit),
				"count":        len(found),
			}), nil
		},
		"find_similar_clauses": func(ctx context.Context, in retrievalArgs) (tools.Result, error) {
			limit := orDefault(in.Limit, 10)
			parts := []string{in.ClauseDescription}
			if in.ContractType != "" {
				parts = append(parts, "contract type: "+in.ContractType)
			}
			res, err := c.SearchSemantic(ctx, SemanticQuery{
				Query:                 strings.Join(parts, " "),
				Limit:                 limit,
				Threshold:             0.7,
				DocumentType:          optional("contract"),
				IncludeGraphExpansion: true,
			})
			if err != nil || !res.Succeeded() {
				return res, err
			}
			found := results(res)
			return tools.OK(map[string]any{
				"clauseDescription": in.ClauseDescription,
				"contractType":      optional(in.ContractType),
				"clauses":           firstN(found, limit),
				"count":             len(found),
			}), nil
		},
		"track_retrieval_feedback": func(ctx context.Context, in retrievalArgs) (tools.Result, error) {
			return c.Post(ctx, "/api/retrieval/feedback", map[string]any{
				"query":                in.Query,
				"retrievedDocumentIds": in.RetrievedDocumentIDs,
				"selectedDocumentId":   optional(in.SelectedDocumentID),
				"rating":               in.Rating,
			})
		},
	}
	for _, spec := range retrievalSpecs() {
		fn := handlers[spec.Name]
		h := func(ctx context.Context, raw json.RawMessage) (tools.Result, error) {
			var in retrievalArgs
			if err := tools.Decode(raw, &in); err != nil {
				return nil, err
			}
			return fn(ctx, in)
		}
		if err := reg.Register(spec, h); err != nil {
			return err
		}
	}
	return nil
}

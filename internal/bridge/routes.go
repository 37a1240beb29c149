package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
	"github.com/tidwall/gjson"
)

// route builds the GET path for a platform tool that has its own REST
// endpoint.
type route func(args gjson.Result) string

func str(args gjson.Result, key, def string) string {
	if v := args.Get(key); v.Exists() && v.String() != "" {
		return v.String()
	}
	return def
}

func withQuery(path string, q url.Values) string {
	if enc := q.Encode(); enc != "" {
		return path + "?" + enc
	}
	return path
}

func setIf(q url.Values, key string, args gjson.Result, field string) {
	if v := args.Get(field); v.Exists() && v.String() != "" {
		q.Set(key, v.String())
	}
}

var routes = map[string]route{
	"list_my_matters": func(a gjson.Result) string {
		q := url.Values{}
		q.Set("status", str(a, "status", "active"))
		q.Set("limit", str(a, "limit", "50"))
		return withQuery("/api/matters", q)
	},
	"get_matter": func(a gjson.Result) string {
		return "/api/matters/" + url.PathEscape(str(a, "matter_id", ""))
	},
	"list_clients": func(a gjson.Result) string {
		q := url.Values{}
		setIf(q, "search", a, "search")
		setIf(q, "type", a, "type")
		setIf(q, "limit", a, "limit")
		return withQuery("/api/clients", q)
	},
	"smart_search_documents": func(a gjson.Result) string {
		q := url.Values{}
		q.Set("q", str(a, "query", ""))
		q.Set("limit", str(a, "limit", "20"))
		setIf(q, "matterId", a, "matter_id")
		setIf(q, "type", a, "document_type")
		return withQuery("/api/document-ai/search", q)
	},
	"get_document_insights": func(a gjson.Result) string {
		return "/api/document-ai/documents/" + url.PathEscape(str(a, "document_id", "")) + "/insights"
	},
	"get_matter_brief": func(a gjson.Result) string {
		return "/api/document-ai/matters/" + url.PathEscape(str(a, "matter_id", "")) + "/brief"
	},
	"find_related_documents": func(a gjson.Result) string {
		q := url.Values{}
		q.Set("limit", str(a, "limit", strconv.Itoa(5)))
		return withQuery("/api/document-ai/documents/"+url.PathEscape(str(a, "document_id", ""))+"/related", q)
	},
	"extract_matter_deadlines": func(a gjson.Result) string {
		return "/api/document-ai/matters/" + url.PathEscape(str(a, "matter_id", "")) + "/deadlines"
	},
}

type executeRequest struct {
	ToolName string          `json:"toolName"`
	Params   json.RawMessage `json:"params"`
	UserID   string          `json:"userId,omitempty"`
	FirmID   string          `json:"firmId,omitempty"`
}

// Execute runs a platform tool by name. Tools with a dedicated route use it;
// every other name is forwarded unmodified to POST /execute-tool.
func (c *Client) Execute(ctx context.Context, name string, params json.RawMessage) (tools.Result, error) {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if r, ok := routes[name]; ok {
		return c.Get(ctx, r(gjson.ParseBytes(params)))
	}
	return c.Post(ctx, "/execute-tool", executeRequest{
		ToolName: name,
		Params:   params,
		UserID:   c.UserID,
		FirmID:   c.FirmID,
	})
}

// Forward adapts Execute to the dispatcher's fallback signature.
func (c *Client) Forward(ctx context.Context, name string, args json.RawMessage) (tools.Result, error) {
	return c.Execute(ctx, name, args)
}

// Unconfigured is the fallback used when no platform backend is set. Every
// unregistered tool name fails as remote_unavailable.
func Unconfigured(ctx context.Context, name string, args json.RawMessage) (tools.Result, error) {
	return nil, &UnavailableError{Op: "execute " + name, Err: errors.New("backend URL not configured")}
}

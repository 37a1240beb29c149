package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(srv.URL, "tok", "u-1", "f-1")
	c.HTTPClient = srv.Client()
	c.Retry.Sleep = noSleep
	return c
}

func TestCatalog_Loads35Tools(t *testing.T) {
	t.Parallel()
	specs, err := Catalog()
	require.NoError(t, err)
	require.Len(t, specs, 35)
	assert.Equal(t, "log_time", specs[0].Name)
	assert.Equal(t, []string{"matter_id", "hours", "description"}, specs[0].Required)
	assert.Equal(t, "time_entries", specs[0].Category)
	seen := map[string]bool{}
	for _, s := range specs {
		assert.False(t, seen[s.Name], "duplicate %s", s.Name)
		seen[s.Name] = true
		assert.NotEmpty(t, s.Description, s.Name)
	}
	var check tools.Spec
	for _, s := range specs {
		if s.Name == "check_conflicts" {
			check = s
		}
	}
	require.NotNil(t, check.Parameters["party_names"].Items)
	assert.Equal(t, "string", check.Parameters["party_names"].Items.Type)
}

func TestExecute_GenericForward(t *testing.T) {
	t.Parallel()
	var got executeRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/execute-tool", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"success":true,"entry_id":"te-9"}`)
	})
	res, err := c.Execute(context.Background(), "log_time", json.RawMessage(`{"matter_id":"m1","hours":1.5,"description":"research"}`))
	require.NoError(t, err)
	assert.Equal(t, "te-9", res["entry_id"])
	assert.Equal(t, "log_time", got.ToolName)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "f-1", got.FirmID)
	assert.JSONEq(t, `{"matter_id":"m1","hours":1.5,"description":"research"}`, string(got.Params))
}

func TestExecute_DedicatedRoutes(t *testing.T) {
	t.Parallel()
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		paths = append(paths, r.URL.RequestURI())
		_, _ = io.WriteString(w, `[{"id":"x"}]`)
	})
	ctx := context.Background()
	_, err := c.Execute(ctx, "list_my_matters", nil)
	require.NoError(t, err)
	_, err = c.Execute(ctx, "get_matter", json.RawMessage(`{"matter_id":"Smith v. Jones"}`))
	require.NoError(t, err)
	res, err := c.Execute(ctx, "find_related_documents", json.RawMessage(`{"document_id":"d1"}`))
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": "x"}}, res["data"])
	assert.Equal(t, []string{
		"/api/matters?limit=50&status=active",
		"/api/matters/Smith%20v.%20Jones",
		"/api/document-ai/documents/d1/related?limit=5",
	}, paths)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"success":true}`)
	})
	res, err := c.Get(context.Background(), "/api/matters")
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.EqualValues(t, 3, calls.Load())
}

func TestDo_GivesUpAfterCap(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "maintenance")
	})
	res, err := c.Get(context.Background(), "/api/matters")
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, "API error 503: maintenance", res.Error())
	assert.EqualValues(t, DefaultRetries+1, calls.Load())
}

func TestDo_PassesThroughErrorBody(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"Matter not found"}`)
	})
	res, err := c.Get(context.Background(), "/api/matters/nope")
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, "Matter not found", res.Error())
}

func TestUnavailable_IsDistinguishable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := New(url, "", "", "")
	c.Retry.Sleep = noSleep

	reg := tools.NewRegistry()
	require.NoError(t, Register(reg, c))
	res := reg.Dispatch(context.Background(), "some_new_platform_tool", json.RawMessage(`{"x":1}`))
	assert.False(t, res.Succeeded())
	assert.Equal(t, "remote_unavailable", res["error_kind"])
	assert.Equal(t, true, res["backend_required"])

	_, err := New("", "", "", "").Get(context.Background(), "/x")
	var ue *UnavailableError
	assert.True(t, errors.As(err, &ue))
}

func TestUnconfigured_FallbackIsRemoteUnavailable(t *testing.T) {
	t.Parallel()
	reg := tools.NewRegistry()
	reg.SetFallback(Unconfigured)
	res := reg.Dispatch(context.Background(), "create_time_entry", json.RawMessage(`{"hours":1}`))
	assert.False(t, res.Succeeded())
	assert.Equal(t, "remote_unavailable", res["error_kind"])
	assert.Equal(t, true, res["backend_required"])
}

func TestRetrieval_FindPrecedent(t *testing.T) {
	t.Parallel()
	var body SemanticQuery
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/search/semantic", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `{"results":[{"id":"a"},{"id":"b"}],"count":2}`)
	})
	reg := tools.NewRegistry()
	require.NoError(t, Register(reg, c))
	assert.Len(t, reg.List(), 40)

	res := reg.Dispatch(context.Background(), "find_precedent",
		json.RawMessage(`{"legal_issue":"adverse possession","jurisdiction":"CA","limit":1}`))
	require.True(t, res.Succeeded(), res.String())
	assert.Equal(t, "adverse possession jurisdiction: CA", body.Query)
	assert.InDelta(t, 0.6, body.Threshold, 1e-9)
	require.NotNil(t, body.DocumentType)
	assert.Equal(t, "case", *body.DocumentType)
	assert.Len(t, res["precedents"], 1)
	assert.Equal(t, 2, res["count"])
}

func TestRetrieval_SemanticDefaults(t *testing.T) {
	t.Parallel()
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `{"results":[]}`)
	})
	reg := tools.NewRegistry()
	require.NoError(t, Register(reg, c))
	res := reg.Dispatch(context.Background(), "search_semantic", json.RawMessage(`{"query":"non-compete"}`))
	require.True(t, res.Succeeded())
	assert.EqualValues(t, 10, body["limit"])
	assert.EqualValues(t, 0.7, body["threshold"])
	assert.Equal(t, true, body["includeGraphExpansion"])
	assert.Nil(t, body["matterId"])
}

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/malbeclabs/chembl-sql/pkg/llm"
	"github.com/malbeclabs/chembl-sql/pkg/pipeline"
	"github.com/malbeclabs/chembl-sql/pkg/server"
	"github.com/malbeclabs/chembl-sql/pkg/sqlexec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPipeline struct {
	runErr    error
	runState  pipeline.State
	runs      int
	runIDs    []string
	runLimits []int

	editReqs    []pipeline.EditRequest
	applyIDs    []string
	executeErr  error
	reexecLimit int
	sessions    map[string]pipeline.State
}

func (p *stubPipeline) Run(_ context.Context, prompt string, limit int, _ ...pipeline.RunOption) (pipeline.State, error) {
	p.runs++
	p.runLimits = append(p.runLimits, limit)
	if p.runErr != nil {
		return pipeline.State{}, p.runErr
	}
	st := p.runState
	st.Prompt = prompt
	return st, nil
}

func (p *stubPipeline) RunSession(_ context.Context, id, prompt string, limit int, _ ...pipeline.RunOption) (pipeline.State, error) {
	p.runs++
	p.runIDs = append(p.runIDs, id)
	p.runLimits = append(p.runLimits, limit)
	if p.runErr != nil {
		return pipeline.State{}, p.runErr
	}
	st := p.runState
	st.Prompt = prompt
	return st, nil
}

func (p *stubPipeline) RunEdit(_ context.Context, req pipeline.EditRequest, _ ...pipeline.RunOption) (pipeline.EditResult, error) {
	p.editReqs = append(p.editReqs, req)
	return pipeline.EditResult{State: pipeline.State{SQL: "SELECT 2"}, Diff: "-SELECT 1\n+SELECT 2\n"}, nil
}

func (p *stubPipeline) ApplyEdit(_ context.Context, id, _ string, _ ...pipeline.RunOption) (pipeline.EditResult, error) {
	p.applyIDs = append(p.applyIDs, id)
	if _, ok := p.sessions[id]; !ok {
		return pipeline.EditResult{}, fmt.Errorf("%w: %s", pipeline.ErrUnknownSession, id)
	}
	return pipeline.EditResult{State: pipeline.State{SQL: "SELECT 3"}}, nil
}

func (p *stubPipeline) Draft(_ context.Context, prompt string, _ ...pipeline.RunOption) (pipeline.State, error) {
	return pipeline.State{Prompt: prompt, SQL: "SELECT 1"}, nil
}

func (p *stubPipeline) ExecuteOnly(_ context.Context, sql string, _ int) (*sqlexec.Result, error) {
	if p.executeErr != nil {
		return nil, p.executeErr
	}
	if err := sqlexec.Validate(sql); err != nil {
		return nil, err
	}
	return &sqlexec.Result{Columns: []string{"n"}, Rows: [][]any{{1}, {2}}}, nil
}

func (p *stubPipeline) GetSession(id string) (pipeline.State, bool) {
	s, ok := p.sessions[id]
	return s, ok
}

func (p *stubPipeline) Reexecute(_ context.Context, id string, limit int) (pipeline.State, error) {
	s, ok := p.sessions[id]
	if !ok {
		return pipeline.State{}, fmt.Errorf("%w: %s", pipeline.ErrUnknownSession, id)
	}
	p.reexecLimit = limit
	s.Limit = limit
	return s, nil
}

type stubCredentials struct {
	keys []string
	err  error
}

func (c *stubCredentials) Activate(_ context.Context, apiKey string) error {
	c.keys = append(c.keys, apiKey)
	return c.err
}

func newTestServer(t *testing.T, p *stubPipeline, creds server.Credentials) http.Handler {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv, err := server.New(server.Config{
		Logger:      logger,
		Listener:    ln,
		Pipeline:    p,
		Credentials: creds,
	})
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, &stubPipeline{}, nil)
	rec := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestServer_Run(t *testing.T) {
	t.Parallel()

	p := &stubPipeline{runState: pipeline.State{SQL: "SELECT 1", Columns: []string{"n"}, Rows: [][]any{{1}}}}
	h := newTestServer(t, p, nil)

	rec := do(t, h, http.MethodPost, "/api/chembl/sql", server.RunRequest{Prompt: "chembl targets", Limit: 5, SessionID: "abc"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "abc", resp["session_id"])
	assert.Equal(t, "SELECT 1", resp["sql"])
	assert.Equal(t, "chembl targets", resp["prompt"])
	assert.Equal(t, []string{"abc"}, p.runIDs)
	assert.Equal(t, []int{5}, p.runLimits)
}

func TestServer_Run_WithoutSessionIsNotStored(t *testing.T) {
	t.Parallel()

	p := &stubPipeline{runState: pipeline.State{SQL: "SELECT 1"}}
	h := newTestServer(t, p, nil)

	for range 3 {
		rec := do(t, h, http.MethodPost, "/api/chembl/sql", server.RunRequest{Prompt: "chembl targets"})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody[map[string]any](t, rec)
		assert.NotContains(t, resp, "session_id")
		assert.Equal(t, "SELECT 1", resp["sql"])
	}
	assert.Equal(t, 3, p.runs)
	assert.Empty(t, p.runIDs)
}

func TestServer_Run_PersistGeneratesSessionID(t *testing.T) {
	t.Parallel()

	p := &stubPipeline{}
	h := newTestServer(t, p, nil)

	rec := do(t, h, http.MethodPost, "/api/chembl/sql", server.RunRequest{Prompt: "chembl targets", Persist: true})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[server.StateResponse](t, rec)
	require.Len(t, p.runIDs, 1)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, p.runIDs[0], resp.SessionID)
}

func TestServer_Run_NotInDomain(t *testing.T) {
	t.Parallel()

	p := &stubPipeline{runState: pipeline.State{NotChembl: true, NoContext: true, ChemblReason: "Query not related to ChEMBL domain."}}
	h := newTestServer(t, p, nil)

	rec := do(t, h, http.MethodPost, "/api/chembl/sql", server.RunRequest{Prompt: "weather?"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeBody[server.StateResponse](t, rec)
	assert.True(t, resp.NotChembl)
	assert.Equal(t, "Query not related to ChEMBL domain.", resp.ChemblReason)
}

func TestServer_Run_Validation(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, &stubPipeline{}, nil)

	rec := do(t, h, http.MethodPost, "/api/chembl/sql", server.RunRequest{Prompt: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/chembl/sql", server.RunRequest{Prompt: "x", Limit: 10001})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/chembl/sql", server.RunRequest{Prompt: "x", Limit: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/chembl/sql", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServer_Run_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "planner", err: fmt.Errorf("%w: boom", pipeline.ErrPlanner), want: http.StatusBadGateway},
		{name: "synthesis", err: fmt.Errorf("%w: boom", pipeline.ErrSynthesis), want: http.StatusBadGateway},
		{name: "repair", err: fmt.Errorf("%w: boom", pipeline.ErrRepair), want: http.StatusBadGateway},
		{name: "retrieval", err: fmt.Errorf("%w: boom", pipeline.ErrRetrieval), want: http.StatusBadGateway},
		{name: "timeout", err: fmt.Errorf("%w: exceeded 5s", pipeline.ErrPipelineTimeout), want: http.StatusGatewayTimeout},
		{name: "credential", err: fmt.Errorf("%w: 401", llm.ErrCredentialInvalid), want: http.StatusUnauthorized},
		{name: "other", err: errors.New("disk on fire"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newTestServer(t, &stubPipeline{runErr: tt.err}, nil)
			rec := do(t, h, http.MethodPost, "/api/chembl/sql", server.RunRequest{Prompt: "chembl"})
			assert.Equal(t, tt.want, rec.Code)

			resp := decodeBody[server.ErrorResponse](t, rec)
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, "internal error", resp.Error)
			} else {
				assert.Equal(t, tt.err.Error(), resp.Error)
			}
		})
	}
}

func TestServer_Run_ActivatesCredential(t *testing.T) {
	t.Parallel()

	creds := &stubCredentials{}
	p := &stubPipeline{}
	h := newTestServer(t, p, creds)

	rec := do(t, h, http.MethodPost, "/api/chembl/sql", server.RunRequest{Prompt: "chembl", APIKey: "sk-new"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"sk-new"}, creds.keys)

	creds.err = fmt.Errorf("%w: rejected", llm.ErrCredentialInvalid)
	rec = do(t, h, http.MethodPost, "/api/chembl/sql", server.RunRequest{Prompt: "chembl", APIKey: "sk-bad"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, p.runs)
}

func TestServer_Draft(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, &stubPipeline{}, nil)
	rec := do(t, h, http.MethodPost, "/api/chembl/sql/draft", server.DraftRequest{Prompt: "chembl assays"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[server.StateResponse](t, rec)
	assert.Equal(t, "SELECT 1", resp.SQL)
}

func TestServer_Edit(t *testing.T) {
	t.Parallel()

	p := &stubPipeline{sessions: map[string]pipeline.State{"s1": {SQL: "SELECT 1"}}}
	h := newTestServer(t, p, nil)

	rec := do(t, h, http.MethodPost, "/api/chembl/sql/edit", server.EditRequest{SessionID: "s1", Instruction: "add filter"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SELECT 3", decodeBody[server.StateResponse](t, rec).SQL)

	rec = do(t, h, http.MethodPost, "/api/chembl/sql/edit", server.EditRequest{SessionID: "nope", Instruction: "add filter"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/chembl/sql/edit", server.EditRequest{PrevSQL: "SELECT 1", Instruction: "x", OriginalPrompt: "orig", Limit: 7})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[server.StateResponse](t, rec)
	assert.Equal(t, "-SELECT 1\n+SELECT 2\n", resp.Diff)
	require.Len(t, p.editReqs, 1)
	assert.Equal(t, pipeline.EditRequest{PrevSQL: "SELECT 1", Instruction: "x", OriginalPrompt: "orig", Limit: 7}, p.editReqs[0])

	rec = do(t, h, http.MethodPost, "/api/chembl/sql/edit", server.EditRequest{Instruction: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/chembl/sql/edit", server.EditRequest{SessionID: "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Execute(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, &stubPipeline{}, nil)

	rec := do(t, h, http.MethodPost, "/api/chembl/sql/execute", server.ExecuteRequest{SQL: "SELECT n FROM t", Limit: 2})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[server.QueryResponse](t, rec)
	assert.Equal(t, []string{"n"}, resp.Columns)
	assert.Equal(t, 2, resp.RowCount)

	rec = do(t, h, http.MethodPost, "/api/chembl/sql/execute", server.ExecuteRequest{SQL: "DROP TABLE t"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[server.ErrorResponse](t, rec).Error, "only SELECT/WITH queries are allowed")
}

func TestServer_Execute_EngineErrorIsClientError(t *testing.T) {
	t.Parallel()

	p := &stubPipeline{executeErr: &sqlexec.QueryExecutionError{Message: "no such table: t"}}
	h := newTestServer(t, p, nil)

	rec := do(t, h, http.MethodPost, "/api/chembl/sql/execute", server.ExecuteRequest{SQL: "SELECT n FROM t"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SQLite error: no such table: t", decodeBody[server.ErrorResponse](t, rec).Error)
}

func TestServer_Sessions(t *testing.T) {
	t.Parallel()

	p := &stubPipeline{sessions: map[string]pipeline.State{"s1": {SQL: "SELECT 1", Limit: 100}}}
	h := newTestServer(t, p, nil)

	rec := do(t, h, http.MethodGet, "/api/chembl/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SELECT 1", decodeBody[server.StateResponse](t, rec).SQL)

	rec = do(t, h, http.MethodGet, "/api/chembl/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/chembl/sessions/s1/reexecute", server.ReexecuteRequest{Limit: 50})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, decodeBody[server.StateResponse](t, rec).Limit)
	assert.Equal(t, 50, p.reexecLimit)

	rec = do(t, h, http.MethodPost, "/api/chembl/sessions/missing/reexecute", server.ReexecuteRequest{Limit: 50})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Run_GracefulShutdown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv, err := server.New(server.Config{Logger: logger, Listener: ln, Pipeline: &stubPipeline{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_New_Validation(t *testing.T) {
	t.Parallel()

	_, err := server.New(server.Config{Logger: logger})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener is required")
}

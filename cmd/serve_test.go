package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/knowledge-cli/internal/cache"
	"github.com/sells-group/knowledge-cli/internal/config"
	"github.com/sells-group/knowledge-cli/internal/pipeline"
	"github.com/sells-group/knowledge-cli/internal/store"
	"github.com/sells-group/knowledge-cli/pkg/reasoner"
)

// stubReasoner returns canned confident answers per phase so handler tests
// run the full pipeline without network access.
type stubReasoner struct{}

func (stubReasoner) AskText(ctx context.Context, req reasoner.Request) (*reasoner.TextResult, error) {
	return &reasoner.TextResult{Text: "ok"}, nil
}

func (stubReasoner) AskStructured(ctx context.Context, req reasoner.Request, out any) (*reasoner.StructuredResult, error) {
	var raw string
	switch {
	case strings.Contains(req.System, "data analyst"):
		raw = `{"definitions":{"id":"row id","name":"name"},"file_tag":"test data"}`
	case strings.Contains(req.System, "anchor column"):
		raw = `{"anchor_column":"id","status":"CONFIRMED","confidence":0.95}`
	case strings.Contains(req.System, "dataset hierarchy"):
		raw = `{"level":0,"confidence":0.7}`
	default:
		raw = `{}`
	}
	_ = json.Unmarshal([]byte(raw), out)
	return &reasoner.StructuredResult{Raw: raw, Model: "stub"}, nil
}

func newTestEnv(t *testing.T) *pipelineEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	testCfg := &config.Config{
		Pipeline: config.PipelineConfig{
			KnowledgeBaseID:     "test-kb",
			MaxReviewRetries:    3,
			AnchorAutoThreshold: 0.85,
			RelationThreshold:   0.5,
		},
		Profile: config.ProfileConfig{
			SampleRows:       200,
			SampleValues:     5,
			AnchorMinUnique:  0.95,
			ConfirmThreshold: 0.6,
		},
		Reasoner: config.ReasonerConfig{MaxTokens: 1024},
	}
	c := cache.New(cache.NewMemory())

	return &pipelineEnv{
		Store:    st,
		Cache:    c,
		Pipeline: pipeline.New(testCfg, st, c, stubReasoner{}),
	}
}

func writeTestCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,name\n1,a\n2,b\n3,c\n"), 0o644))
	return path
}

func TestServeHealth(t *testing.T) {
	mux := buildMux(newTestEnv(t))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServeIngestAndGetSession(t *testing.T) {
	env := newTestEnv(t)
	mux := buildMux(env)

	body := `{"file_path":"` + writeTestCSV(t) + `","dataset_id":"items"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/ingest", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp["status"])
	sessionID, _ := resp["session_id"].(string)
	require.NotEmpty(t, sessionID)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeIngestValidation(t *testing.T) {
	mux := buildMux(newTestEnv(t))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/ingest", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/ingest", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeSessionNotFound(t *testing.T) {
	mux := buildMux(newTestEnv(t))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeResumeConflictsWhenNotSuspended(t *testing.T) {
	env := newTestEnv(t)
	mux := buildMux(env)

	body := `{"file_path":"` + writeTestCSV(t) + `"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/ingest", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	sessionID, _ := resp["session_id"].(string)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/"+sessionID+"/resume",
		strings.NewReader(`{"answer":"yes"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestShutdownWaitsForInflightRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /slow", func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: mux}

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ln) }()

	ctx, cancel := context.WithCancel(context.Background())
	drained := make(chan struct{})
	go func() {
		drainOnSignal(ctx, srv, 5*time.Second)
		close(drained)
	}()

	status := make(chan int, 1)
	go func() {
		res, err := http.Get("http://" + ln.Addr().String() + "/slow")
		if err != nil {
			status <- 0
			return
		}
		res.Body.Close()
		status <- res.StatusCode
	}()

	<-entered
	cancel()

	select {
	case <-drained:
		t.Fatal("shutdown returned while a request was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	select {
	case code := <-status:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not finish after the drain")
	}

	assert.ErrorIs(t, <-serveDone, http.ErrServerClosed)
}

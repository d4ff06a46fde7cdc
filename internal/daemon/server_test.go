package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/masbolt/masbolt/internal/agent"
	"github.com/masbolt/masbolt/internal/config"
	"github.com/masbolt/masbolt/internal/files"
	"github.com/masbolt/masbolt/internal/llm"
	llmmock "github.com/masbolt/masbolt/internal/llm/mock"
	"github.com/masbolt/masbolt/internal/observability"
	agentrpc "github.com/masbolt/masbolt/internal/rpc/agent"
	"github.com/masbolt/masbolt/internal/sandbox"
	"github.com/masbolt/masbolt/internal/store"
)

type pipelineFunc func(ctx context.Context, userRequest string, obs agent.Observer) agent.Result

func (f pipelineFunc) Run(ctx context.Context, userRequest string, obs agent.Observer) agent.Result {
	return f(ctx, userRequest, obs)
}

type testEnv struct {
	server *Server
	root   string
	app    *App
}

func newTestEnv(t *testing.T, pipeline func(*files.Store) agentrpc.Pipeline) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	fs, err := sandbox.NewLocal(config.SandboxConfig{Root: root, AllowWrite: true, WatchDebounce: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	fileStore := files.New(fs, files.Options{})

	history, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	app := &App{
		Config: &config.Config{
			Sandbox: config.SandboxConfig{Root: root},
			Server:  config.ServerConfig{MetricsEnabled: true, Transport: "ndjson"},
		},
		Logger:  zap.NewNop(),
		Metrics: observability.NewMetrics(),
		Files:   fileStore,
		Runner:  &agentrpc.FlowRunner{Pipeline: pipeline(fileStore), History: history},
		History: history,
	}
	require.NoError(t, app.Start(ctx))
	go func() { _ = fileStore.Run(ctx) }()

	return &testEnv{server: newServer(app), root: root, app: app}
}

func staticPipeline(res agent.Result) func(*files.Store) agentrpc.Pipeline {
	return func(*files.Store) agentrpc.Pipeline {
		return pipelineFunc(func(context.Context, string, agent.Observer) agent.Result { return res })
	}
}

func mockPipeline(provider *llmmock.Provider) func(*files.Store) agentrpc.Pipeline {
	return func(fs *files.Store) agentrpc.Pipeline {
		reg := llm.NewRegistry()
		reg.RegisterProvider("mock", provider)
		reg.RegisterModel("default", llm.ModelRoute{Provider: "mock", Model: "claude-2"}, true)
		return agent.NewOrchestrator(agent.NewStrategyEngine(reg, config.StrategyConfig{}), fs, agent.Options{})
	}
}

func postForm(t *testing.T, h http.Handler, userRequest string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	if userRequest != "" {
		form.Set("userRequest", userRequest)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/multiagent", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestMultiAgentHandlerRunsPipeline(t *testing.T) {
	provider := &llmmock.Provider{CompleteFn: llmmock.Script(
		llmmock.Step{Text: "1. add greeting"},
		llmmock.Step{Text: "FILE: greet.txt\n```\nhello\n```"},
		llmmock.Step{Text: "looks good"},
	)}
	env := newTestEnv(t, mockPipeline(provider))
	h := env.server.Handler()

	rr := postForm(t, h, "add a greeting file")
	require.Equal(t, http.StatusOK, rr.Code)

	var res agent.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Equal(t, agent.StatusSuccess, res.Status)
	require.Equal(t, []agent.Stage{agent.StagePlanning, agent.StageCoding, agent.StageTesting}, res.CompletedSteps)
	require.Empty(t, res.Error)

	data, err := os.ReadFile(filepath.Join(env.root, "greet.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	require.Eventually(t, func() bool {
		_, ok := env.app.Files.GetFile("greet.txt")
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs/"+res.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "add a greeting file")
}

func TestMultiAgentHandlerStatusCodes(t *testing.T) {
	partial := newTestEnv(t, staticPipeline(agent.Result{ID: "p", Status: agent.StatusPartial, Error: agent.PartialAfterPlanning}))
	rr := postForm(t, partial.server.Handler(), "x")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), agent.PartialAfterPlanning)

	failed := newTestEnv(t, staticPipeline(agent.Result{ID: "e", Status: agent.StatusError, Error: "overloaded"}))
	rr = postForm(t, failed.server.Handler(), "x")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "overloaded", body["error"])
	require.Equal(t, "error", body["status"])

	rr = postForm(t, failed.server.Handler(), "   ")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	failed.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/multiagent", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMultiAgentHandlerBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	env := newTestEnv(t, func(*files.Store) agentrpc.Pipeline {
		return pipelineFunc(func(context.Context, string, agent.Observer) agent.Result {
			close(started)
			<-release
			return agent.Result{Status: agent.StatusSuccess}
		})
	})
	h := env.server.Handler()

	done := make(chan int)
	go func() { done <- postForm(t, h, "first").Code }()
	<-started

	require.Equal(t, http.StatusConflict, postForm(t, h, "second").Code)
	close(release)
	require.Equal(t, http.StatusOK, <-done)
}

func TestFileEndpoints(t *testing.T) {
	env := newTestEnv(t, staticPipeline(agent.Result{Status: agent.StatusSuccess}))
	h := env.server.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/files", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var snapshot map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snapshot))
	require.Equal(t, "package main\n", snapshot["main.go"])

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/files/get?path=main.go", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"content":"package main\n"`)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/files/get?path=missing.go", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	env.app.Files.RecordModification("main.go", "package old\n")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/files/modifications", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "+package main")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/files/modifications/reset", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Empty(t, env.app.Files.GetFileModifications())
}

func TestRunsEndpoint(t *testing.T) {
	env := newTestEnv(t, staticPipeline(agent.Result{ID: "r-1", Status: agent.StatusSuccess}))
	h := env.server.Handler()
	require.Equal(t, http.StatusOK, postForm(t, h, "first run").Code)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs?limit=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []store.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	require.Equal(t, "first run", runs[0].Request)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs?limit=abc", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, staticPipeline(agent.Result{Status: agent.StatusSuccess}))
	h := env.server.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":"ok"`)

	env.app.Metrics.RecordRun("success", time.Second)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "masbolt_pipeline_runs_total")

	env.app.Config.Server.MetricsEnabled = false
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestIsLocalOrigin(t *testing.T) {
	for _, origin := range []string{"http://localhost", "http://localhost:5173", "https://127.0.0.1:8080", "http://[::1]:8080"} {
		require.True(t, isLocalOrigin(origin), origin)
	}
	for _, origin := range []string{"http://localhost.evil.com", "http://127.0.0.1.nip.io", "ftp://localhost", "://bad", "http://evil.com/localhost"} {
		require.False(t, isLocalOrigin(origin), origin)
	}
}

func TestWatchStreamsChanges(t *testing.T) {
	env := newTestEnv(t, staticPipeline(agent.Result{Status: agent.StatusSuccess}))
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/files/watch"

	for _, origin := range []string{"http://localhost.evil.com", "http://127.0.0.1.nip.io", "https://example.com"} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {origin}})
		require.Error(t, err, origin)
		require.NotNil(t, resp, origin)
		require.Equal(t, http.StatusForbidden, resp.StatusCode, origin)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://localhost:3000"}})
	require.NoError(t, err)
	defer conn.Close()

	// Give the handler time to subscribe before the file appears.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "new.txt"), []byte("fresh"), 0o644))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var change files.Change
		require.NoError(t, conn.ReadJSON(&change))
		if change.Path == "new.txt" {
			require.Equal(t, sandbox.EventCreate, change.Kind)
			return
		}
	}
}

package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	pipeline "github.com/masbolt/masbolt/internal/agent"
	"github.com/masbolt/masbolt/internal/rpc"
)

func exampleConfig(t *testing.T) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("..", "..", "configs", "config.example.yaml"))
	require.NoError(t, err)
	return path
}

func TestRunCommandStreamsNDJSON(t *testing.T) {
	plan := "1. add file"
	var got rpc.RunFlowRequest
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		_ = enc.Encode(rpc.RunFlowEvent{Type: rpc.EventActivity, Activity: &pipeline.Activity{Kind: pipeline.ActivityStageStarted, Stage: pipeline.StagePlanning}})
		_ = enc.Encode(rpc.RunFlowEvent{Type: rpc.EventActivity, Activity: &pipeline.Activity{Kind: pipeline.ActivityFileWritten, Stage: pipeline.StageCoding, Path: "a.txt"}})
		_ = enc.Encode(rpc.RunFlowEvent{Type: rpc.EventResult, Result: &pipeline.Result{ID: "r1", Status: pipeline.StatusSuccess, Plan: &plan}})
		_ = enc.Encode(rpc.RunFlowEvent{Type: rpc.EventDone, Done: true})
	}))
	t.Cleanup(srv.Close)

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"run", "add a file", "--config", exampleConfig(t), "--addr", srv.URL, "--transport", "ndjson"})

	require.NoError(t, cmd.Execute())
	require.Equal(t, "/agent/run", gotPath)
	require.Equal(t, "add a file", got.UserRequest)
	out := buf.String()
	require.Contains(t, out, "[planning] stage started")
	require.Contains(t, out, "[write] a.txt")
	require.Contains(t, out, "== plan ==\n1. add file")
	require.Contains(t, out, "run r1: success")
	require.Contains(t, out, "[done]")
}

func TestRunCommandReportsPipelineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		_ = enc.Encode(rpc.RunFlowEvent{Type: rpc.EventResult, Result: &pipeline.Result{ID: "r2", Status: pipeline.StatusError, Error: "overloaded"}})
		_ = enc.Encode(rpc.RunFlowEvent{Type: rpc.EventError, Error: "overloaded"})
		_ = enc.Encode(rpc.RunFlowEvent{Type: rpc.EventDone, Done: true})
	}))
	t.Cleanup(srv.Close)

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"run", "x", "--config", exampleConfig(t), "--addr", srv.URL, "--transport", "ndjson"})

	err := cmd.Execute()
	require.ErrorContains(t, err, "overloaded")
	require.Contains(t, buf.String(), "[done]")
}

func TestRunCommandBusyDaemon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "a pipeline run is already in progress", http.StatusConflict)
	}))
	t.Cleanup(srv.Close)

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"run", "x", "--config", exampleConfig(t), "--addr", srv.URL, "--transport", "ndjson"})

	err := cmd.Execute()
	require.ErrorContains(t, err, "409")
}

func TestDaemonURL(t *testing.T) {
	require.Equal(t, "http://localhost:8080", daemonURL(":8080"))
	require.Equal(t, "http://10.0.0.1:9000", daemonURL("10.0.0.1:9000"))
	require.Equal(t, "https://bolt.internal", daemonURL("https://bolt.internal"))
}

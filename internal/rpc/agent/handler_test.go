package agent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	pipeline "github.com/masbolt/masbolt/internal/agent"
	"github.com/masbolt/masbolt/internal/rpc"
)

func TestHandlerStreamsEvents(t *testing.T) {
	handler := NewHandler(&FlowRunner{Pipeline: &fakePipeline{}}, nil)
	body := bytes.NewBufferString(`{"user_request":"hello world"}`)
	req := httptest.NewRequest(http.MethodPost, "/agent/run", body)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	resp := rr.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var events []rpc.RunFlowEvent
	for scanner.Scan() {
		var evt rpc.RunFlowEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &evt))
		events = append(events, evt)
	}

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, rpc.EventDone, last.Type)
	result := events[len(events)-2]
	require.Equal(t, rpc.EventResult, result.Type)
	require.Equal(t, pipeline.StatusSuccess, result.Result.Status)
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	handler := NewHandler(&FlowRunner{Pipeline: &fakePipeline{}}, nil)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/agent/run", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/agent/run", bytes.NewBufferString("{")))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerBusy(t *testing.T) {
	p := &fakePipeline{release: make(chan struct{})}
	runner := &FlowRunner{Pipeline: p}
	first, err := runner.Run(t.Context(), rpc.RunFlowRequest{UserRequest: "first"})
	require.NoError(t, err)

	handler := NewHandler(runner, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/agent/run", bytes.NewBufferString(`{"user_request":"second"}`)))
	require.Equal(t, http.StatusConflict, rr.Code)

	close(p.release)
	collect(t, first)
}

package mcpserver

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/masbolt/masbolt/internal/agent"
	"github.com/masbolt/masbolt/internal/files"
)

type fakeRunner struct {
	res      agent.Result
	err      error
	requests []string
}

func (f *fakeRunner) RunSync(_ context.Context, userRequest string) (agent.Result, error) {
	f.requests = append(f.requests, userRequest)
	return f.res, f.err
}

type fakeFiles struct {
	files map[string]files.File
	mods  map[string]string
}

func (f *fakeFiles) GetFile(path string) (files.File, bool) {
	file, ok := f.files[path]
	return file, ok
}

func (f *fakeFiles) GetFileModifications() map[string]string { return f.mods }

func (f *fakeFiles) ResetFileModifications() { f.mods = map[string]string{} }

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestRunFlowTool(t *testing.T) {
	runner := &fakeRunner{res: agent.Result{ID: "r1", Status: agent.StatusSuccess}}
	s := New(runner, &fakeFiles{}, nil)

	res, err := s.handleRunFlow(context.Background(), call(map[string]any{"user_request": "add tests"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Contains(t, text(t, res), `"status": "success"`)
	require.Equal(t, []string{"add tests"}, runner.requests)

	res, err = s.handleRunFlow(context.Background(), call(map[string]any{}))
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestRunFlowToolReportsFailures(t *testing.T) {
	s := New(&fakeRunner{res: agent.Result{Status: agent.StatusError, Error: "overloaded"}}, &fakeFiles{}, nil)
	res, err := s.handleRunFlow(context.Background(), call(map[string]any{"user_request": "x"}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, text(t, res), "overloaded")

	s = New(&fakeRunner{err: errors.New("busy")}, &fakeFiles{}, nil)
	res, err = s.handleRunFlow(context.Background(), call(map[string]any{"user_request": "x"}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Equal(t, "busy", text(t, res))
}

func TestFileTools(t *testing.T) {
	fs := &fakeFiles{
		files: map[string]files.File{
			"a.txt":   {Content: "alpha"},
			"img.png": {IsBinary: true},
		},
		mods: map[string]string{"a.txt": "--- a/a.txt\n+++ b/a.txt\n"},
	}
	s := New(&fakeRunner{}, fs, nil)
	ctx := context.Background()

	res, err := s.handleGetFile(ctx, call(map[string]any{"path": "a.txt"}))
	require.NoError(t, err)
	require.Equal(t, "alpha", text(t, res))

	res, err = s.handleGetFile(ctx, call(map[string]any{"path": "img.png"}))
	require.NoError(t, err)
	require.True(t, res.IsError)

	res, err = s.handleGetFile(ctx, call(map[string]any{"path": "missing"}))
	require.NoError(t, err)
	require.True(t, res.IsError)

	res, err = s.handleModifications(ctx, call(nil))
	require.NoError(t, err)
	require.Contains(t, text(t, res), "a/a.txt")

	_, err = s.handleReset(ctx, call(nil))
	require.NoError(t, err)
	res, err = s.handleModifications(ctx, call(nil))
	require.NoError(t, err)
	require.Equal(t, "no modifications", text(t, res))
}

func TestMCPServerRegistersTools(t *testing.T) {
	m := New(&fakeRunner{}, &fakeFiles{}, nil).MCPServer()
	require.NotNil(t, m)
}

// Package mcpserver exposes the pipeline and the file store as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/masbolt/masbolt/internal/agent"
	"github.com/masbolt/masbolt/internal/files"
	"github.com/masbolt/masbolt/internal/version"
)

const (
	toolRunFlow       = "bolt.run_multi_agent_flow"
	toolGetFile       = "bolt.get_file"
	toolModifications = "bolt.file_modifications"
	toolResetMods     = "bolt.reset_file_modifications"
)

// Runner executes one pipeline run to completion.
type Runner interface {
	RunSync(ctx context.Context, userRequest string) (agent.Result, error)
}

// FileStore is the read side of the file store plus modification tracking.
type FileStore interface {
	GetFile(path string) (files.File, bool)
	GetFileModifications() map[string]string
	ResetFileModifications()
}

// Server adapts a Runner and a FileStore to MCP tool handlers.
type Server struct {
	runner Runner
	files  FileStore
	logger *zap.Logger
}

// New returns an MCP tool server.
func New(runner Runner, fs FileStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{runner: runner, files: fs, logger: logger}
}

// MCPServer builds the mcp-go server with every tool registered.
func (s *Server) MCPServer() *server.MCPServer {
	m := server.NewMCPServer(
		"masbolt",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	m.AddTool(mcp.NewTool(toolRunFlow,
		mcp.WithDescription("Plan, generate and review code changes for a request, writing the changes into the project"),
		mcp.WithString("user_request", mcp.Required(), mcp.Description("Natural-language change request")),
	), s.handleRunFlow)

	m.AddTool(mcp.NewTool(toolGetFile,
		mcp.WithDescription("Read one file from the project file store"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Slash-separated path relative to the project root")),
	), s.handleGetFile)

	m.AddTool(mcp.NewTool(toolModifications,
		mcp.WithDescription("Unified diffs of files changed since their versions were recorded"),
	), s.handleModifications)

	m.AddTool(mcp.NewTool(toolResetMods,
		mcp.WithDescription("Forget every recorded file version"),
	), s.handleReset)

	return m
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	s.logger.Info("serving MCP over stdio")
	return server.ServeStdio(s.MCPServer())
}

func (s *Server) handleRunFlow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userRequest, err := req.RequireString("user_request")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.runner.RunSync(ctx, userRequest)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if res.Status == agent.StatusError {
		return mcp.NewToolResultError(string(data)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	f, ok := s.files.GetFile(path)
	switch {
	case !ok:
		return mcp.NewToolResultError(fmt.Sprintf("file not found: %s", path)), nil
	case f.IsBinary:
		return mcp.NewToolResultError(fmt.Sprintf("binary file: %s", path)), nil
	}
	return mcp.NewToolResultText(f.Content), nil
}

func (s *Server) handleModifications(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mods := s.files.GetFileModifications()
	if len(mods) == 0 {
		return mcp.NewToolResultText("no modifications"), nil
	}
	data, err := json.MarshalIndent(mods, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode modifications: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.files.ResetFileModifications()
	return mcp.NewToolResultText("modifications reset"), nil
}

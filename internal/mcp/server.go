// Package mcp exposes the batch organizer over the Model Context Protocol so
// AI assistants can submit organize batches and poll their progress.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ovenKiller/lithelper/internal/batch"
	"github.com/ovenKiller/lithelper/internal/scheduler"
	"github.com/ovenKiller/lithelper/pkg/version"
)

// serverName is the MCP implementation name announced to clients.
const serverName = "lithelper"

// Tool names exposed by the server.
const (
	toolOrganize    = "lithelper_organize"
	toolBatchStatus = "lithelper_batch_status"
)

// ServerDeps carries the collaborators the MCP tools operate on.
type ServerDeps struct {
	Logger     *slog.Logger
	Organizer  *batch.Organizer
	Dispatcher *scheduler.Dispatcher
	// Defaults applied when tool calls omit them.
	DefaultTargetLanguage string
	DefaultStandard       string
}

// Server is the MCP stdio server wrapping the batch organizer.
type Server struct {
	deps      ServerDeps
	srv       *mcpsdk.Server
	toolNames []string
}

// NewServer creates the MCP server and registers the organize tools.
func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	srv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    serverName,
		Version: version.Version,
	}, nil)

	s := &Server{deps: deps, srv: srv}

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name: toolOrganize,
		Description: "Organize a set of academic papers: enrich metadata, " +
			"optionally translate abstracts and classify, and export a CSV. " +
			"Returns the batch id for status polling.",
	}, s.handleOrganize)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolBatchStatus,
		Description: "Report the progress and per-paper status of an organize batch.",
	}, s.handleBatchStatus)

	s.toolNames = []string{toolOrganize, toolBatchStatus}

	return s
}

// ListToolNames returns the registered tool names.
func (s *Server) ListToolNames() []string {
	return append([]string(nil), s.toolNames...)
}

// Run serves MCP over stdio until the context ends.
func (s *Server) Run(ctx context.Context) error {
	s.deps.Logger.Info("mcp server starting", "tools", len(s.toolNames))

	err := s.srv.Run(ctx, &mcpsdk.StdioTransport{})
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// errorResult renders a tool failure as an MCP error result.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}, ToolOutput{}, nil
}

// Package mcpserver exposes the tool catalog as an MCP server. Every call runs
// in a fresh orchestrator session, so schema validation, the tool filter and
// capability checks apply exactly as they do for model-requested calls.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"mcpreview/internal/agent"
	"mcpreview/internal/domain"
)

type Config struct {
	Orchestrator *agent.Orchestrator
	Version      string
	Logger       *slog.Logger
}

// Server wraps an MCP server whose tools mirror the session catalog.
type Server struct {
	mcp    *server.MCPServer
	orch   *agent.Orchestrator
	tools  []string
	logger *slog.Logger
}

// New builds the server from the catalog visible to a new session at startup.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("mcpserver: orchestrator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		mcp: server.NewMCPServer("mcpreview", cfg.Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		orch:   cfg.Orchestrator,
		logger: cfg.Logger,
	}

	probe, err := s.orch.CreateSession("")
	if err != nil {
		return nil, fmt.Errorf("mcpserver: probe session: %w", err)
	}
	catalog := probe.AvailableTools(ctx)
	probe.Close()

	for _, sch := range catalog {
		raw, err := json.Marshal(sch.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("mcpserver: schema for %s: %w", sch.Name, err)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(sch.Name, sch.Description, raw), s.handler(sch.Name))
		s.tools = append(s.tools, sch.Name)
	}
	s.logger.Info("mcp tools registered", "count", len(s.tools))
	return s, nil
}

// Tools lists the exposed tool names in catalog order.
func (s *Server) Tools() []string { return s.tools }

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, err := s.orch.CreateSession("")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		defer s.orch.CloseSession(sess.ID())

		res := sess.Invoke(ctx, domain.NewRequest(name, req.GetArguments()))
		if !res.Success {
			s.logger.Debug("mcp call failed", "tool", name, "kind", res.Kind, "err", res.Error)
			return mcp.NewToolResultError(fmt.Sprintf("%s: %s", res.Kind, res.Error)), nil
		}
		text, err := renderContent(res.Content)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

func renderContent(v any) (string, error) {
	switch c := v.(type) {
	case nil:
		return "", nil
	case string:
		return c, nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}

package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/linkpeek/linkpeek/pkg/orchestrate"
)

const (
	serverName    = "linkpeek"
	serverVersion = "1.0.0"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	Engine    *orchestrate.Engine
	Transport string // "stdio" or "sse"
	Port      int
	Logger    *logrus.Logger
}

// Server exposes the resolver, expander and shorteners as MCP tools
type Server struct {
	mcpServer *server.MCPServer
	cfg       *ServerConfig
	engine    *orchestrate.Engine
	log       *logrus.Entry
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		cfg:       cfg,
		engine:    cfg.Engine,
		log:       cfg.Logger.WithField("component", "mcp"),
	}

	s.registerTools()

	return s, nil
}

func (s *Server) registerTools() {
	urlArg := func(desc string) mcp.ToolOption {
		return mcp.WithString("url", mcp.Required(), mcp.Description(desc))
	}

	tools := []struct {
		tool    mcp.Tool
		handler server.ToolHandlerFunc
	}{
		{mcp.NewTool("resolve_thumbnail",
			mcp.WithDescription("Resolve a photo/video page URL to a thumbnail image URL or a local file:// copy"),
			urlArg("The page URL to preview"),
		), s.handleResolveThumbnail},
		{mcp.NewTool("expand_url",
			mcp.WithDescription("Expand a short URL one hop by reading its Location header"),
			urlArg("The short URL"),
		), s.handleExpandURL},
		{mcp.NewTool("is_short_url",
			mcp.WithDescription("Report whether a URL is on a known URL-shortener host"),
			urlArg("The URL to check"),
		), s.handleIsShortURL},
		{mcp.NewTool("shorten_url",
			mcp.WithDescription("Shorten a URL with TinyURL, goo.gl or bit.ly"),
			urlArg("The long URL"),
			mcp.WithString("provider",
				mcp.Description("Shortener name (defaults to the configured default)"),
			),
		), s.handleShortenURL},
		{mcp.NewTool("list_rules",
			mcp.WithDescription("List thumbnail rules in match order"),
		), s.handleListRules},
		{mcp.NewTool("clear_cache",
			mcp.WithDescription("Drop cached thumbnails (deleting downloaded files) and cached expansions"),
		), s.handleClearCache},
	}

	for _, t := range tools {
		s.mcpServer.AddTool(t.tool, t.handler)
	}
	s.log.Infof("Registered %d MCP tools", len(tools))
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown fires the host shutdown event, which removes downloaded thumbnails
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	return s.engine.Shutdown()
}

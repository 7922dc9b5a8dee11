package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/linkpeek/linkpeek/pkg/mcp"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (defaults apply when empty)")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8080, "HTTP port (for sse transport)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: linkpeek mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport
  linkpeek mcp-server

  # Start with SSE transport on port 8080
  linkpeek mcp-server -config config.yaml -transport sse -port 8080

Available MCP Tools:
  resolve_thumbnail  Resolve a page URL to a thumbnail
  expand_url         Expand a short URL one hop
  is_short_url       Check whether a URL is on a shortener host
  shorten_url        Shorten a URL
  list_rules         List thumbnail rules in match order
  clear_cache        Drop cached thumbnails and expansions
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doMcpServer(*configFile, *transport, *port, *logLevel, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(configPath, transport string, port int, logLevel string, stdout, stderr io.Writer) int {
	switch transport {
	case "stdio", "sse":
	default:
		fmt.Fprintf(stderr, "Unknown transport: %s (supported: stdio, sse)\n", transport)
		return 1
	}

	// MCP protocol uses stdout, logs go to stderr
	engine, log, err := newEngine(configPath, logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	server, err := mcp.NewServer(&mcp.ServerConfig{
		Engine:    engine,
		Transport: transport,
		Port:      port,
		Logger:    log,
	})
	if err != nil {
		engine.Shutdown()
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	ctx, cancel := signalContext(log)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go shutdownOnSignal(ctx, done, server)

	log.Infof("Starting MCP server (transport: %s)", transport)
	runErr := server.Run()
	if err := server.Shutdown(context.Background()); err != nil {
		log.Warnf("Shutdown: %v", err)
	}
	if runErr != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", runErr)
		return 1
	}
	return 0
}

// shutdownOnSignal removes downloaded thumbnails when a signal arrives, then exits.
// It returns without action once done is closed.
func shutdownOnSignal(ctx context.Context, done <-chan struct{}, server *mcp.Server) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	select {
	case <-done:
		return
	default:
	}
	if err := server.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown: %v\n", err)
	}
	os.Exit(0)
}

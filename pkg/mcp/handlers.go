package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/linkpeek/linkpeek/pkg/expand"
	"github.com/linkpeek/linkpeek/pkg/uri"
	"github.com/linkpeek/linkpeek/pkg/utils"
)

// requireURI reads and parses the url argument
func requireURI(request mcp.CallToolRequest) (uri.URI, *mcp.CallToolResult) {
	raw := request.GetString("url", "")
	if raw == "" {
		return uri.URI{}, mcp.NewToolResultError("url parameter is required")
	}
	u, err := uri.Parse(raw)
	if err != nil {
		return uri.URI{}, mcp.NewToolResultError(fmt.Sprintf("invalid URL: %v", err))
	}
	return u, nil
}

// handleResolveThumbnail handles the resolve_thumbnail tool
func (s *Server) handleResolveThumbnail(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	u, errResult := requireURI(request)
	if errResult != nil {
		return errResult, nil
	}

	result := map[string]interface{}{"source": u.String()}
	if rule, ok := s.engine.Rules().Match(u); ok {
		result["rule"] = rule.Name
		result["kind"] = rule.Kind.String()
	}

	thumb, ok := s.engine.Resolver().Resolve(ctx, u)
	result["found"] = ok
	if ok {
		result["display"] = thumb.Display
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleExpandURL handles the expand_url tool
func (s *Server) handleExpandURL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	u, errResult := requireURI(request)
	if errResult != nil {
		return errResult, nil
	}

	short := expand.IsShort(u)
	result := map[string]interface{}{
		"source":   u.String(),
		"is_short": short,
		"found":    false,
	}
	if short {
		if target, ok := s.engine.Expander().Expand(ctx, u); ok {
			result["found"] = true
			result["target"] = target
		}
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleIsShortURL handles the is_short_url tool
func (s *Server) handleIsShortURL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	u, errResult := requireURI(request)
	if errResult != nil {
		return errResult, nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"source":   u.String(),
		"host":     u.Host(),
		"is_short": expand.IsShort(u),
	})), nil
}

// handleShortenURL handles the shorten_url tool
func (s *Server) handleShortenURL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	u, errResult := requireURI(request)
	if errResult != nil {
		return errResult, nil
	}
	provider := request.GetString("provider", s.engine.Config().Shorteners.Default)

	short, err := s.engine.Shorteners().Shorten(ctx, provider, u)
	if err != nil {
		s.log.WithField("error_type", utils.CategorizeError(err)).Warnf("shorten_url failed: %v", err)
		return mcp.NewToolResultError(fmt.Sprintf("shorten failed (%s): %v", provider, err)), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"source":   u.String(),
		"provider": provider,
		"short":    short,
	})), nil
}

// handleListRules handles the list_rules tool
func (s *Server) handleListRules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := s.engine.Rules().Names()
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"rules":       names,
		"total_rules": len(names),
		"shorteners":  s.engine.Shorteners().Names(),
	})), nil
}

// handleClearCache handles the clear_cache tool
func (s *Server) handleClearCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	thumbs := s.engine.Cache().Len()
	expansions := s.engine.Store().Len()
	s.engine.ClearCache()
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"cleared_thumbnails": thumbs,
		"cleared_expansions": expansions,
	})), nil
}

// formatJSON formats data as indented JSON
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}

package api

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/kseo/analysis"
	"github.com/hazyhaar/kseo/kit"
	"github.com/hazyhaar/kseo/recommend"
	"github.com/hazyhaar/kseo/store"
)

// RegisterMCP registers the kseo tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerAnalyze(srv)
	s.registerRecommend(srv)
	s.registerListEvents(srv)
	s.registerLatestResult(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func decodeArgs[T any](r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var p T
	if len(r.Params.Arguments) > 0 {
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{Request: &p}, nil
}

func (s *Service) registerAnalyze(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "kseo_analyze",
		Description: "Analyze content: entities, search intent, difficulty, keyword suggestions and recommendations",
		InputSchema: inputSchema(map[string]any{
			"content": map[string]any{"type": "string", "description": "Page content, HTML or text"},
			"seed":    map[string]any{"type": "string", "description": "Seed keyword (defaults to title)"},
			"title":   map[string]any{"type": "string", "description": "Page title"},
			"locale":  map[string]any{"type": "string", "description": "Locale, e.g. en"},
		}, nil),
	}
	endpoint := func(_ context.Context, r any) (any, error) {
		return s.Analyze(*r.(*AnalyzeRequest))
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint("mcp", tool.Name, endpoint), decodeArgs[AnalyzeRequest])
}

func (s *Service) registerRecommend(srv *mcp.Server) {
	type req struct {
		Analysis analysis.Result `json:"analysis"`
		Title    string          `json:"title"`
	}
	tool := &mcp.Tool{
		Name:        "kseo_recommend",
		Description: "Build title, meta description, outline, FAQ and structured data from an analysis result",
		InputSchema: inputSchema(map[string]any{
			"analysis": map[string]any{"type": "object", "description": "Result of kseo_analyze"},
			"title":    map[string]any{"type": "string", "description": "Page title"},
		}, []string{"analysis"}),
	}
	endpoint := func(_ context.Context, r any) (any, error) {
		p := r.(*req)
		a := analysis.NewResult(p.Analysis.Entities, p.Analysis.Intent, p.Analysis.Difficulty, p.Analysis.Suggestions)
		return recommend.Build(a, p.Title), nil
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint("mcp", tool.Name, endpoint), decodeArgs[req])
}

func (s *Service) registerListEvents(srv *mcp.Server) {
	type req struct {
		Type      string `json:"type"`
		SubjectID string `json:"subject_id"`
		Limit     int    `json:"limit"`
		Offset    int    `json:"offset"`
	}
	tool := &mcp.Tool{
		Name:        "kseo_list_events",
		Description: "List detector and alert events, newest first",
		InputSchema: inputSchema(map[string]any{
			"type":       map[string]any{"type": "string", "description": "cannibalization, decay, alert_sent or result_saved"},
			"subject_id": map[string]any{"type": "string", "description": "Subject filter"},
			"limit":      map[string]any{"type": "integer", "description": "Max events (default 50)"},
			"offset":     map[string]any{"type": "integer", "description": "Pagination offset"},
		}, nil),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		events, err := s.Events(ctx, store.EventFilter{Type: p.Type, SubjectID: p.SubjectID, Limit: p.Limit, Offset: p.Offset})
		if err != nil {
			return nil, err
		}
		return map[string]any{"events": events}, nil
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint("mcp", tool.Name, endpoint), decodeArgs[req])
}

func (s *Service) registerLatestResult(srv *mcp.Server) {
	type req struct {
		SubjectID string `json:"subject_id"`
	}
	tool := &mcp.Tool{
		Name:        "kseo_latest_result",
		Description: "Get the most recent stored analysis result for a subject",
		InputSchema: inputSchema(map[string]any{
			"subject_id": map[string]any{"type": "string", "description": "Subject id"},
		}, []string{"subject_id"}),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		return s.Latest(ctx, r.(*req).SubjectID)
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint("mcp", tool.Name, endpoint), decodeArgs[req])
}

package admin

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/feedveil/kit"
)

// Implementation identifies the feedveil MCP server.
var Implementation = &mcp.Implementation{Name: "feedveil", Version: "0.1.0"}

// MCPServer returns a new MCP server carrying the admin tools.
func (s *Service) MCPServer() *mcp.Server {
	srv := mcp.NewServer(Implementation, nil)
	s.RegisterMCP(srv)
	return srv
}

// RegisterMCP registers the admin tools on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerStatusTool(srv)
	s.registerRescanTool(srv)
	s.registerClassifyTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

func (s *Service) endpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(s.logger, name))(ep)
}

type statusRequest struct{}

func (s *Service) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feedveil_status",
		Description: "List active observation sessions with their counters and the oracle circuit state.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	ep := func(_ context.Context, _ any) (any, error) {
		return s.Status(), nil
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, ep), kit.DecodeJSON[statusRequest]())
}

type rescanRequest struct {
	Site string `json:"site"`
}

func (s *Service) registerRescanTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feedveil_rescan",
		Description: "Re-classify every visible item of a site, ignoring previous verdicts.",
		InputSchema: inputSchema(map[string]any{
			"site": map[string]any{"type": "string", "description": "Site id (youtube, twitter, reddit, ...)"},
		}, []string{"site"}),
	}
	ep := func(_ context.Context, req any) (any, error) {
		return s.Rescan(req.(*rescanRequest).Site)
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, ep), kit.DecodeJSON[rescanRequest]())
}

func (s *Service) registerClassifyTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feedveil_classify",
		Description: "Score an item by title and author against the site's goals and return the visibility action.",
		InputSchema: inputSchema(map[string]any{
			"site":   map[string]any{"type": "string", "description": "Site id"},
			"title":  map[string]any{"type": "string", "description": "Item title or text"},
			"author": map[string]any{"type": "string", "description": "Item author or channel"},
			"goals":  map[string]any{"type": "string", "description": "Override the profile goals"},
			"cutoff": map[string]any{"type": "number", "description": "Override the profile cutoff (0-100)"},
		}, []string{"site"}),
	}
	ep := func(ctx context.Context, req any) (any, error) {
		return s.Classify(ctx, *req.(*ClassifyRequest))
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, ep), kit.DecodeJSON[ClassifyRequest]())
}

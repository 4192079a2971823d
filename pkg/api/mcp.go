package api

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/ripdb/pkg/dataset"
	"github.com/hazyhaar/ripdb/pkg/kit"
)

// registerMCPTools registers the RIPDB MCP tools on the server. Tools
// dispatch to the same endpoints as the HTTP routes.
func registerMCPTools(srv *server.MCPServer, eps *endpoints) {
	for _, t := range mcpTools(eps) {
		kit.RegisterMCPTool(srv, t.tool, t.endpoint, t.decode)
	}
}

type mcpTool struct {
	tool     mcp.Tool
	endpoint kit.Endpoint
	decode   kit.MCPDecoder
}

func mcpTools(eps *endpoints) []mcpTool {
	return []mcpTool{
		{
			tool: mcp.NewTool("search_actors",
				mcp.WithDescription("Search actors by name (case-insensitive substring, at most 10 results)."),
				mcp.WithString("query", mcp.Required(), mcp.Description("Part of the actor name, e.g. bean")),
			),
			endpoint: eps.search,
			decode: func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
				q, err := req.RequireString("query")
				if err != nil {
					return nil, err
				}
				return &kit.MCPDecodeResult{Request: &searchReq{Query: q}}, nil
			},
		},
		{
			tool: mcp.NewTool("get_actor",
				mcp.WithDescription("Get one actor with every on-screen death, bio, box office total and portrait."),
				mcp.WithString("name", mcp.Required(), mcp.Description("Actor name or id (slug), e.g. Sean Bean or sean-bean")),
			),
			endpoint: eps.actor,
			decode: func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
				name, err := req.RequireString("name")
				if err != nil {
					return nil, err
				}
				return &kit.MCPDecodeResult{Request: &actorReq{NameOrID: name}}, nil
			},
		},
		{
			tool: mcp.NewTool("get_stats",
				mcp.WithDescription("Global statistics: total deaths, actors, movies, top genres, year range and top actors."),
			),
			endpoint: eps.stats,
			decode:   noArgs,
		},
		{
			tool: mcp.NewTool("advanced_search",
				mcp.WithDescription("Find death scenes matching every given filter. Omitted filters match everything."),
				mcp.WithString("actor", mcp.Description("Actor name substring")),
				mcp.WithString("movie", mcp.Description("Movie title substring")),
				mcp.WithString("genre", mcp.Description("Genre substring, e.g. horror")),
				mcp.WithString("director", mcp.Description("Director name substring")),
				mcp.WithString("death_type", mcp.Description("Exact death type"),
					mcp.Enum("violent", "heroic", "tragic", "comedic", "supernatural", "explosive", "survivor")),
				mcp.WithNumber("year_start", mcp.Description("First release year included")),
				mcp.WithNumber("year_end", mcp.Description("Last release year included")),
			),
			endpoint: eps.deaths,
			decode: func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
				var f dataset.Filters
				if err := req.BindArguments(&f); err != nil {
					return nil, fmt.Errorf("filters: %w", err)
				}
				return &kit.MCPDecodeResult{Request: &f}, nil
			},
		},
		{
			tool: mcp.NewTool("reload_dataset",
				mcp.WithDescription("Discard caches and reload the dataset from its sources. Returns the resulting status."),
			),
			endpoint: eps.reload,
			decode:   noArgs,
		},
	}
}

func noArgs(mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return &kit.MCPDecodeResult{}, nil
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/chronicle/internal/campaign"
	"github.com/kalambet/chronicle/internal/suggest"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Campaign *campaign.Store
	Version  string
}

// NewMCPServer creates an MCP server with all chronicle tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"chronicle",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("chronicle: the shared log of a tabletop campaign. Sessions form a numbered timeline; characters, locations and organizations record the sessions they appear in."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("list_timeline",
			mcp.WithDescription("List the campaign sessions in timeline order."),
		),
		mcpListTimeline(deps),
	)

	s.AddTool(
		mcp.NewTool("suggest_entities",
			mcp.WithDescription("Propose capitalized names in a session text that may be characters, places or organizations."),
			mcp.WithString("text", mcp.Description("Session text"), mcp.Required()),
		),
		mcpSuggestEntities(deps),
	)

	s.AddTool(
		mcp.NewTool("record_session",
			mcp.WithDescription("Record a session with the entity names the user accepted. Unknown names are created as new records."),
			mcp.WithString("text", mcp.Description("Session text"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Session title (default: Giornata N)")),
			mcp.WithString("session_id", mcp.Description("Add the names to this existing session instead of creating one")),
			mcp.WithArray("characters", mcp.Description("Character names"), mcp.WithStringItems()),
			mcp.WithArray("locations", mcp.Description("Location names"), mcp.WithStringItems()),
			mcp.WithArray("organizations", mcp.Description("Organization names"), mcp.WithStringItems()),
		),
		mcpRecordSession(deps),
	)

	s.AddTool(
		mcp.NewTool("add_entity",
			mcp.WithDescription("Create a character, location, organization or quest."),
			mcp.WithString("kind", mcp.Description("Collection"), mcp.Required(),
				mcp.Enum(string(campaign.KindCharacters), string(campaign.KindLocations), string(campaign.KindOrganizations), string(campaign.KindQuests))),
			mcp.WithString("name", mcp.Description("Unique name within the collection"), mcp.Required()),
			mcp.WithString("description", mcp.Description("Free-form description")),
			mcp.WithString("race", mcp.Description("Character race")),
			mcp.WithString("class", mcp.Description("Character class")),
			mcp.WithString("type", mcp.Description("Location or organization type")),
			mcp.WithString("status", mcp.Description("Quest status: active, completed, failed or paused")),
		),
		mcpAddEntity(deps),
	)

	s.AddTool(
		mcp.NewTool("reorder_sessions",
			mcp.WithDescription("Move the session at one timeline position to another. Positions are 1-based."),
			mcp.WithNumber("from", mcp.Description("Current position"), mcp.Required()),
			mcp.WithNumber("to", mcp.Description("Target position"), mcp.Required()),
		),
		mcpReorderSessions(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"campaign://timeline",
			"Timeline",
			mcp.WithResourceDescription("Campaign sessions in timeline order"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTimeline(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"campaign://characters",
			"Characters",
			mcp.WithResourceDescription("Campaign characters with the sessions they appear in"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCharacters(deps),
	)

	return s
}

type sessionSummary struct {
	ID         string   `json:"id"`
	Day        int      `json:"day"`
	Title      string   `json:"title"`
	Characters []string `json:"characters,omitempty"`
	Locations  []string `json:"locations,omitempty"`
}

func mcpListTimeline(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessions := deps.Campaign.Sessions()
		out := make([]sessionSummary, len(sessions))
		for i, s := range sessions {
			out[i] = sessionSummary{
				ID:         s.ID,
				Day:        s.Position,
				Title:      s.Title,
				Characters: s.Characters,
				Locations:  s.Locations,
			}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal timeline: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSuggestEntities(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		found := suggest.Classify(text)
		if len(found) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(found)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal candidates: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecordSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		id, err := deps.Campaign.ConfirmSession(ctx, campaign.SessionDraft{
			SessionID:     req.GetString("session_id", ""),
			Title:         req.GetString("title", ""),
			Text:          text,
			Characters:    req.GetStringSlice("characters", nil),
			Locations:     req.GetStringSlice("locations", nil),
			Organizations: req.GetStringSlice("organizations", nil),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record session: %v", err)), nil
		}
		rec, err := deps.Campaign.Get(campaign.KindSessions, id)
		if err != nil {
			return mcpError(fmt.Sprintf("session recorded but not readable: %v", err)), nil
		}
		s := rec.(campaign.Session)
		return mcpText(fmt.Sprintf("Recorded session %s (day %d, %q)", s.ID, s.Position, s.Title)), nil
	}
}

func mcpAddEntity(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rawKind, err := req.RequireString("kind")
		if err != nil {
			return mcpError("kind is required"), nil
		}
		kind, err := campaign.ParseKind(rawKind)
		if err != nil || kind == campaign.KindSessions {
			return mcpError(fmt.Sprintf("kind must be one of characters, locations, organizations, quests; got %q", rawKind)), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		f := campaign.Fields{Name: campaign.Ptr(name)}
		optional := map[string]**string{
			"description": &f.Description,
			"race":        &f.Race,
			"class":       &f.Class,
			"type":        &f.Type,
		}
		for arg, dst := range optional {
			if v := strings.TrimSpace(req.GetString(arg, "")); v != "" {
				*dst = campaign.Ptr(v)
			}
		}
		if v := req.GetString("status", ""); v != "" {
			f.Status = campaign.Ptr(campaign.QuestStatus(v))
		}

		id, err := deps.Campaign.Create(ctx, kind, f)
		var verr *campaign.ValidationError
		if errors.As(err, &verr) {
			return mcpError(verr.Error()), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to add %s: %v", kind, err)), nil
		}
		return mcpText(fmt.Sprintf("Added %s %q (%s)", kind, name, id)), nil
	}
}

func mcpReorderSessions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, err := req.RequireInt("from")
		if err != nil {
			return mcpError("from is required"), nil
		}
		to, err := req.RequireInt("to")
		if err != nil {
			return mcpError("to is required"), nil
		}
		if err := deps.Campaign.ReorderSessions(ctx, from, to); err != nil {
			return mcpError(fmt.Sprintf("failed to reorder: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Moved session from day %d to day %d", from, to)), nil
	}
}

func mcpResourceTimeline(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(req.Params.URI, deps.Campaign.Sessions())
	}
}

func mcpResourceCharacters(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(req.Params.URI, deps.Campaign.Characters())
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

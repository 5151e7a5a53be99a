package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/chronicle/internal/campaign"
	"github.com/kalambet/chronicle/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cs := campaign.NewStore(storage.NewLocalAdapter(store), campaign.Options{})
	if err := cs.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return MCPDeps{Campaign: cs, Version: "test"}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", name, err)
	}
	return result
}

// --- tests ---

func TestMCPTool_RecordSession(t *testing.T) {
	deps := newTestMCPDeps(t)

	result := callTool(t, mcpRecordSession(deps), "record_session", map[string]interface{}{
		"text":       "Incontrammo Zoltab alla Taverna del Drago.",
		"characters": []interface{}{"Zoltab"},
		"locations":  []interface{}{"Taverna del Drago"},
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); !strings.Contains(text, `"Giornata 1"`) {
		t.Errorf("response = %q", text)
	}

	sessions := deps.Campaign.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	loc := deps.Campaign.Locations()
	if len(loc) != 1 || loc[0].Name != "Taverna del Drago" || loc[0].Type != campaign.StubType {
		t.Errorf("locations = %+v", loc)
	}
}

func TestMCPTool_RecordSession_MissingText(t *testing.T) {
	deps := newTestMCPDeps(t)
	result := callTool(t, mcpRecordSession(deps), "record_session", map[string]interface{}{})
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_ListTimeline(t *testing.T) {
	deps := newTestMCPDeps(t)

	result := callTool(t, mcpListTimeline(deps), "list_timeline", nil)
	if text := toolText(t, result); text != "[]" {
		t.Errorf("empty timeline = %q", text)
	}

	for _, title := range []string{"Prima", "Seconda"} {
		if _, err := deps.Campaign.Create(context.Background(), campaign.KindSessions, campaign.Fields{Title: campaign.Ptr(title)}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	result = callTool(t, mcpListTimeline(deps), "list_timeline", nil)
	var got []sessionSummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(got) != 2 || got[0].Title != "Prima" || got[1].Day != 2 {
		t.Errorf("timeline = %+v", got)
	}
}

func TestMCPTool_SuggestEntities(t *testing.T) {
	deps := newTestMCPDeps(t)

	result := callTool(t, mcpSuggestEntities(deps), "suggest_entities", map[string]interface{}{
		"text": "Il mattino seguente mi presentai a Lord Garli",
	})
	var got []struct{ Name, Rule string }
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Lord Garli" {
		t.Errorf("candidates = %+v", got)
	}

	result = callTool(t, mcpSuggestEntities(deps), "suggest_entities", map[string]interface{}{"text": "nulla"})
	if text := toolText(t, result); text != "[]" {
		t.Errorf("no candidates = %q", text)
	}
}

func TestMCPTool_AddEntity(t *testing.T) {
	deps := newTestMCPDeps(t)
	h := mcpAddEntity(deps)

	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr bool
	}{
		{"character", map[string]interface{}{"kind": "characters", "name": "Mira", "race": "elfa"}, false},
		{"quest", map[string]interface{}{"kind": "quests", "name": "Il calice", "status": "paused"}, false},
		{"duplicate", map[string]interface{}{"kind": "characters", "name": "Mira"}, true},
		{"bad status", map[string]interface{}{"kind": "quests", "name": "Altro", "status": "lost"}, true},
		{"timeline", map[string]interface{}{"kind": "timeline", "name": "x"}, true},
		{"missing name", map[string]interface{}{"kind": "locations"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, h, "add_entity", tt.args)
			if result.IsError != tt.wantErr {
				t.Errorf("IsError = %v, want %v (%s)", result.IsError, tt.wantErr, toolText(t, result))
			}
		})
	}

	chars := deps.Campaign.Characters()
	if len(chars) != 1 || chars[0].Race != "elfa" {
		t.Errorf("characters = %+v", chars)
	}
	quests := deps.Campaign.Quests()
	if len(quests) != 1 || quests[0].Status != campaign.QuestPaused {
		t.Errorf("quests = %+v", quests)
	}
}

func TestMCPTool_ReorderSessions(t *testing.T) {
	deps := newTestMCPDeps(t)
	for _, title := range []string{"uno", "due", "tre"} {
		deps.Campaign.Create(context.Background(), campaign.KindSessions, campaign.Fields{Title: campaign.Ptr(title)})
	}

	result := callTool(t, mcpReorderSessions(deps), "reorder_sessions", map[string]interface{}{"from": 3, "to": 1})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if first := deps.Campaign.Sessions()[0]; first.Title != "tre" {
		t.Errorf("first session = %q, want tre", first.Title)
	}

	result = callTool(t, mcpReorderSessions(deps), "reorder_sessions", map[string]interface{}{"from": 1, "to": 9})
	if !result.IsError {
		t.Error("expected error for out-of-range position")
	}
}

func TestMCPResources(t *testing.T) {
	deps := newTestMCPDeps(t)
	deps.Campaign.ConfirmSession(context.Background(), campaign.SessionDraft{Text: "x", Characters: []string{"Grass"}})

	contents, err := mcpResourceCharacters(deps)(context.Background(), makeReadResourceRequest("campaign://characters"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)
	var chars []campaign.Character
	if err := json.Unmarshal([]byte(tc.Text), &chars); err != nil {
		t.Fatalf("parsing resource: %v", err)
	}
	if len(chars) != 1 || chars[0].Name != "Grass" || len(chars[0].Appearances) != 1 {
		t.Errorf("characters = %+v", chars)
	}

	contents, err = mcpResourceTimeline(deps)(context.Background(), makeReadResourceRequest("campaign://timeline"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tc := contents[0].(mcp.TextResourceContents); tc.URI != "campaign://timeline" || tc.MIMEType != "application/json" {
		t.Errorf("resource = %+v", tc)
	}
}

func TestNewMCPServer(t *testing.T) {
	if s := NewMCPServer(newTestMCPDeps(t)); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

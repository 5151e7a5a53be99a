package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	Auth        string
	ContentType string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Body:        body.String(),
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) recorded() []recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return slices.Clone(ts.requests)
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// run executes the CLI against ts with fresh flag values.
func run(t *testing.T, ts *testServer, args ...string) error {
	t.Helper()
	resetFlags(rootCmd)
	masterMode = false
	noColor = true

	orig := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = orig })

	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func bodyOf(t *testing.T, r recordedRequest) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v (%q)", err, r.Body)
	}
	return body
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMutatingCommandsRequireMaster(t *testing.T) {
	img := writeTemp(t, "map.png", []byte("\x89PNG\r\n\x1a\n"))

	tests := [][]string{
		{"add", "characters", "--name", "Mira"},
		{"edit", "characters", "c1", "--name", "Mira"},
		{"rm", "quests", "q1"},
		{"reorder", "1", "2"},
		{"record", "--text", "Incontrammo Mira."},
		{"avatar", "c1", img},
		{"map", img},
		{"backup", "restore", img, "--confirm"},
	}
	for _, args := range tests {
		t.Run(args[0], func(t *testing.T) {
			ts := newTestServer(t, nil)
			err := run(t, ts, args...)
			if err == nil || !strings.Contains(err.Error(), "--master") {
				t.Fatalf("expected master mode error, got %v", err)
			}
			if n := len(ts.recorded()); n != 0 {
				t.Errorf("expected no requests, got %d", n)
			}
		})
	}
}

func TestAddCommand_Character(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/characters": `{"id":"c-123"}`,
	})

	if err := run(t, ts, "--master", "add", "characters", "--name", "Mira", "--race", "elfa"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := ts.recorded()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	r := reqs[0]
	if r.Method != "POST" || r.Path != "/api/characters" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	body := bodyOf(t, r)
	if body["name"] != "Mira" || body["race"] != "elfa" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["class"]; ok {
		t.Error("unset flag sent in body")
	}
}

func TestAddCommand_SessionLists(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/timeline": `{"id":"s-1"}`,
	})

	err := run(t, ts, "--master", "add", "sessions", "--title", "Giornata 4", "--characters", "Mira, Kael,", "--day", "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := bodyOf(t, ts.recorded()[0])
	chars, _ := body["characters"].([]any)
	if len(chars) != 2 || chars[0] != "Mira" || chars[1] != "Kael" {
		t.Errorf("characters = %v", body["characters"])
	}
	if body["day"] != float64(2) {
		t.Errorf("day = %v, want 2", body["day"])
	}
}

func TestAddCommand_NoFields(t *testing.T) {
	ts := newTestServer(t, nil)
	if err := run(t, ts, "--master", "add", "quests"); err == nil {
		t.Fatal("expected error without fields")
	}
	if n := len(ts.recorded()); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestEditAndRemove(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /api/quests/q1":  `{"id":"q1","name":"Il calice","status":"completed"}`,
		"DELETE /api/quests/q1": `{"status":"deleted"}`,
	})

	if err := run(t, ts, "--master", "edit", "quests", "q1", "--status", "completed"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := run(t, ts, "--master", "rm", "quests", "q1"); err != nil {
		t.Fatalf("rm: %v", err)
	}

	reqs := ts.recorded()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if body := bodyOf(t, reqs[0]); len(body) != 1 || body["status"] != "completed" {
		t.Errorf("edit body = %v", body)
	}
	if reqs[1].Method != "DELETE" || reqs[1].Path != "/api/quests/q1" {
		t.Errorf("rm request = %s %s", reqs[1].Method, reqs[1].Path)
	}
}

func TestRemove_ServerError(t *testing.T) {
	ts := newTestServer(t, nil)
	err := run(t, ts, "--master", "rm", "quests", "missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestReorderCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/timeline/reorder": `[]`,
	})

	if err := run(t, ts, "--master", "reorder", "3", "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := bodyOf(t, ts.recorded()[0])
	if body["from"] != float64(3) || body["to"] != float64(1) {
		t.Errorf("body = %v", body)
	}

	if err := run(t, ts, "--master", "reorder", "three", "1"); err == nil {
		t.Error("expected error for non-numeric position")
	}
}

func TestUnknownCollection(t *testing.T) {
	ts := newTestServer(t, nil)
	err := run(t, ts, "list", "dragons")
	if err == nil || !strings.Contains(err.Error(), "unknown collection") {
		t.Errorf("expected unknown collection error, got %v", err)
	}
}

func TestListCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/timeline":   `[{"id":"s1","day":1,"title":"Giornata 1","content":"","active":false}]`,
		"GET /api/characters": `[{"id":"c1","name":"Mira","race":"elfa","appearances":[1]}]`,
	})

	if err := run(t, ts, "list", "sessions"); err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if err := run(t, ts, "list", "characters"); err != nil {
		t.Fatalf("list characters: %v", err)
	}
	reqs := ts.recorded()
	if len(reqs) != 2 || reqs[0].Path != "/api/timeline" || reqs[1].Path != "/api/characters" {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestRecordCommand_Accept(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/suggest":          `{"candidates":[{"name":"Mira","rule":"person"},{"name":"Borgo Nero","rule":"place"}]}`,
		"POST /api/timeline/confirm": `{"id":"s1","day":1,"title":"Giornata 1","content":"x","active":false}`,
	})

	err := run(t, ts, "--master", "record",
		"--text", "Incontrammo Mira a Borgo Nero.",
		"--organizations", "Ordine del Drago",
		"--accept")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := ts.recorded()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[1].Path != "/api/timeline/confirm" {
		t.Fatalf("second request = %s", reqs[1].Path)
	}
	body := bodyOf(t, reqs[1])
	if body["text"] != "Incontrammo Mira a Borgo Nero." {
		t.Errorf("text = %v", body["text"])
	}
	for key, want := range map[string]string{
		"characters":    "Mira",
		"locations":     "Borgo Nero",
		"organizations": "Ordine del Drago",
	} {
		got, _ := body[key].([]any)
		if len(got) != 1 || got[0] != want {
			t.Errorf("%s = %v, want [%s]", key, body[key], want)
		}
	}
}

func TestRecordCommand_FileUsesImport(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/timeline/import":  `{"text":"Arrivammo a Borgo Nero.","candidates":[]}`,
		"POST /api/timeline/confirm": `{"id":"s1","day":1,"title":"Giornata 1","content":"x","active":false}`,
	})
	path := writeTemp(t, "giornata.html", []byte("<p>Arrivammo a Borgo Nero.</p>"))

	if err := run(t, ts, "--master", "record", "--file", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := ts.recorded()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if !strings.HasPrefix(reqs[0].ContentType, "text/html") {
		t.Errorf("import content type = %q", reqs[0].ContentType)
	}
	if body := bodyOf(t, reqs[1]); body["text"] != "Arrivammo a Borgo Nero." {
		t.Errorf("confirm text = %v", body["text"])
	}
}

func TestSuggestCommand_RequiresInput(t *testing.T) {
	ts := newTestServer(t, nil)
	if err := run(t, ts, "suggest"); err == nil {
		t.Error("expected error without --text or --file")
	}
}

func TestMapCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /api/map": `{"map":"/blobs/abc"}`,
	})
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	path := writeTemp(t, "map.png", png)

	if err := run(t, ts, "--master", "map", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := ts.recorded()[0]
	if r.Method != "PUT" || r.ContentType != "image/png" {
		t.Errorf("request = %s %s", r.Method, r.ContentType)
	}
	if r.Body != string(png) {
		t.Error("upload body differs from file")
	}
}

func TestBackupExport_ToFile(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/backup": `{"version":"1.0","timeline":[]}`,
	})
	out := filepath.Join(t.TempDir(), "backup.json")

	if err := run(t, ts, "backup", "export", "--output", out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if doc["version"] != "1.0" {
		t.Errorf("version = %v", doc["version"])
	}
}

func TestBackupRestore_NeedsConfirm(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/backup": `{"status":"restored"}`,
	})
	path := writeTemp(t, "backup.json", []byte(`{"version":"1.0"}`))

	if err := run(t, ts, "--master", "backup", "restore", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(ts.recorded()); n != 0 {
		t.Fatalf("restore without --confirm sent %d requests", n)
	}

	if err := run(t, ts, "--master", "backup", "restore", path, "--confirm"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs := ts.recorded()
	if len(reqs) != 1 || reqs[0].Body != `{"version":"1.0"}` {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestJoinCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /api/settings": `{"nickname":"Mira","players":["Mira"]}`,
	})

	if err := run(t, ts, "join", "Mira"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := bodyOf(t, ts.recorded()[0])
	if body["player.nickname"] != "Mira" {
		t.Errorf("body = %v", body)
	}
}

func TestReportStatus(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health":            `{"status":"ok"}`,
		"GET /api/settings":      `{"campaign_name":"Garli"}`,
		"GET /api/timeline":      `[{"id":"s1"}]`,
		"GET /api/characters":    `[]`,
		"GET /api/locations":     `[]`,
		"GET /api/quests":        `[]`,
		"GET /api/organizations": `[]`,
	})
	noColor = true

	if !reportStatus(context.Background(), ts.client()) {
		t.Fatal("expected running status")
	}
	if n := len(ts.recorded()); n != 7 {
		t.Errorf("expected 7 requests, got %d", n)
	}

	ts.server.Close()
	if reportStatus(context.Background(), ts.client()) {
		t.Error("expected stopped status after server closed")
	}
}

func TestDecodeJSON_ErrorMessage(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := ts.client().get(context.Background(), "/api/nothing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = decodeJSON(resp, nil)
	if err == nil || !strings.Contains(err.Error(), "404: not found") {
		t.Errorf("error = %v", err)
	}
}

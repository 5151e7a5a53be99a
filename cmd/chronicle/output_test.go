package main

import (
	"bytes"
	"strings"
	"testing"
)

func captureStderr(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := stderr
	stderr = &buf
	t.Cleanup(func() { stderr = orig })
	return &buf
}

func TestNotices_PlainWhenNotTerminal(t *testing.T) {
	buf := captureStderr(t)
	noColor = false

	printSuccess("Created %s", "c1")
	printWarning("careful")
	printStatus("Server", "running at %s", "http://127.0.0.1:4100")

	out := buf.String()
	if strings.Contains(out, "\033[") {
		t.Errorf("escape codes written to a non-terminal: %q", out)
	}
	for _, want := range []string{"✓ Created c1\n", "⚠ careful\n", "  Server: running at http://127.0.0.1:4100\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestLines(t *testing.T) {
	captureStderr(t)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"active session", sessionLine(2, "0192f1c4-aaaa", "Giornata 2", true), "  2  0192f1c4  Giornata 2"},
		{"inactive session", sessionLine(10, "s1", "Giornata 10", false), " 10  s1  Giornata 10  (inactive)"},
		{"character", entityLine("c1", "Mira", []string{"elfa", "", "ladra"}, []int{1, 3}), "c1  Mira  (elfa, ladra)  days [1 3]"},
		{"bare quest", entityLine("q1", "Il calice", nil, nil), "q1  Il calice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

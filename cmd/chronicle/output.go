package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// stderr receives every status line; stdout is kept for data.
var stderr io.Writer = os.Stderr

func colorEnabled() bool {
	if noColor {
		return false
	}
	f, ok := stderr.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func colorize(color, text string) string {
	if !colorEnabled() {
		return text
	}
	return color + text + colorReset
}

func notice(color, mark, format string, args ...any) {
	fmt.Fprintln(stderr, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notice(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { notice(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { notice(colorYellow, "⚠", format, args...) }
func printStep(format string, args ...any)    { notice(colorCyan, "→", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// sessionLine renders one timeline row: position, short ID, title, and a
// marker for inactive sessions.
func sessionLine(day int, id, title string, active bool) string {
	line := fmt.Sprintf("%s  %s  %s", colorize(colorBold, fmt.Sprintf("%3d", day)), colorize(colorCyan, shortID(id)), title)
	if !active {
		line += "  (inactive)"
	}
	return line
}

// entityLine renders one entity row with its non-empty details and the days
// it appears on.
func entityLine(id, name string, details []string, days []int) string {
	var parts []string
	for _, d := range details {
		if d != "" {
			parts = append(parts, d)
		}
	}
	line := fmt.Sprintf("%s  %s", colorize(colorCyan, shortID(id)), colorize(colorBold, name))
	if len(parts) > 0 {
		line += "  (" + strings.Join(parts, ", ") + ")"
	}
	if len(days) > 0 {
		line += fmt.Sprintf("  days %v", days)
	}
	return line
}

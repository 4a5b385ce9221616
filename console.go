package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-json-experiment/json"
	"github.com/mattn/go-isatty"
)

// fragmentPrinter outputs every check fragment as it is produced
type fragmentPrinter interface {
	printFragment(name string, fragment any)
}

// titles used when printing fragments
var checkTitles = map[string]string{
	checkPerformance:      "Performance Results",
	checkSEO:              "SEO Check Results",
	checkSecurity:         "Security Check Results",
	checkCache:            "Cache Test Results",
	checkAccessibility:    "Accessibility Check Results",
	checkSpeed:            "Speed Test Results",
	checkCodeOptimization: "Code Optimization Check Results",
	checkLazyLoad:         "Lazy Load Check Results",
	checkResourceStats:    "Resource Load Statistics",
	checkFileSize:         "File Size Analysis",
	checkJSExecution:      "JavaScript Execution Time",
	checkCSSAnalysis:      "CSS File Analysis",
	checkHTTPRequests:     "HTTP Request Analysis",
	checkDOMChanges:       "DOM Changes",
}

// logPrinter writes fragments to the structured logger
type logPrinter struct {
	logger *slog.Logger
}

func (p logPrinter) printFragment(name string, fragment any) {
	p.logger.Info(checkTitles[name], "check", name, "result", fragment)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	bodyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("7")).PaddingLeft(2)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// stylePrinter writes fragments as indented JSON under a coloured title
type stylePrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *stylePrinter) printFragment(name string, fragment any) {
	body, err := json.Marshal(fragment, json.Deterministic(true))
	if err != nil {
		body = []byte(fmt.Sprint(fragment))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.out, titleStyle.Render(checkTitles[name]))
	fmt.Fprintln(p.out, bodyStyle.Render(string(body)))
}

// isTerminal reports whether f is attached to a terminal
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newLogger returns a text logger on a terminal and a JSON logger otherwise
func newLogger(f *os.File, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if isTerminal(f) {
		return slog.New(slog.NewTextHandler(f, opts))
	}

	return slog.New(slog.NewJSONHandler(f, opts))
}

// newFragmentPrinter prints styled fragments when stdout is a terminal,
// and logs them otherwise
func newFragmentPrinter(logger *slog.Logger) fragmentPrinter {
	if isTerminal(os.Stdout) {
		return &stylePrinter{out: os.Stdout}
	}

	return logPrinter{logger}
}

// statusLine renders a ✅/❌ prefixed line
func statusLine(ok bool, message string) string {
	if !ok {
		return errStyle.Render("❌ " + message)
	}

	return okStyle.Render("✅ " + message)
}

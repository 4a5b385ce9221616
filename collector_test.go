package main

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []emailMessage
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg emailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, msg)
	return m.err
}

func (m *fakeMailer) messages() []emailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.sent)
}

type fakePrinter struct {
	mu    sync.Mutex
	names []string
}

func (p *fakePrinter) printFragment(name string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.names = append(p.names, name)
}

func newTestCollector(t *testing.T, settings emailSettings, m mailer) (*collector, *fakePrinter) {
	t.Helper()

	printer := &fakePrinter{}
	state := mustPageState(t, `<html><head><title>Shop</title></head><body><h1>Hi</h1></body></html>`, nil)
	c := newCollector(state, collectorOptions{settings: settings, mailer: m, printer: printer})
	t.Cleanup(c.close)

	return c, printer
}

func TestNewCollector_RunsSyncChecks(t *testing.T) {
	c, printer := newTestCollector(t, emailSettings{}, nil)

	want := []string{
		checkSEO, checkSecurity, checkCache, checkAccessibility, checkSpeed,
		checkCodeOptimization, checkLazyLoad, checkResourceStats, checkFileSize,
		checkJSExecution, checkCSSAnalysis, checkHTTPRequests,
	}
	if !slices.Equal(printer.names, want) {
		t.Errorf("printed = %v, want %v", printer.names, want)
	}

	for _, name := range want {
		if _, ok := c.record.get(name); !ok {
			t.Errorf("record missing %q", name)
		}
	}
	for _, name := range []string{checkPerformance, checkDOMChanges} {
		if _, ok := c.record.get(name); ok {
			t.Errorf("record has %q before its event", name)
		}
	}
}

func TestCollector_NoSettingsNeverArms(t *testing.T) {
	configs := []emailSettings{
		{},
		{address: "ops@example.com"},
		{interval: time.Minute},
		{address: "ops@example.com", interval: -time.Second},
	}

	for _, settings := range configs {
		c, _ := newTestCollector(t, settings, &fakeMailer{})

		c.handleLoad(navigationTiming{NavigationStart: 1, LoadEventEnd: 10})
		c.handleMutations([]mutationSummary{{Type: "childList", AddedNodes: 1}})
		c.handleScriptLoaded("https://example.com/a.js", 1, 2)

		if _, armed := c.scheduler.interval(); armed {
			t.Errorf("settings %+v: scheduler armed", settings)
		}
		if n := c.scheduler.activeTimers(); n != 0 {
			t.Errorf("settings %+v: active timers = %d, want 0", settings, n)
		}
	}
}

func TestCollector_SetEmailSettingsKeepsOneTimer(t *testing.T) {
	c, _ := newTestCollector(t, emailSettings{}, &fakeMailer{})

	for i := 1; i <= 5; i++ {
		c.setEmailSettings("ops@example.com", time.Duration(i)*time.Minute)
	}

	if n := c.scheduler.activeTimers(); n != 1 {
		t.Fatalf("active timers = %d, want 1", n)
	}
	every, armed := c.scheduler.interval()
	if !armed || every != 5*time.Minute {
		t.Errorf("interval = %v (armed %v), want 5m", every, armed)
	}
}

func TestCollector_DisabledSettingsDisarm(t *testing.T) {
	c, _ := newTestCollector(t, emailSettings{address: "ops@example.com", interval: time.Minute}, &fakeMailer{})

	if n := c.scheduler.activeTimers(); n != 1 {
		t.Fatalf("active timers = %d, want 1", n)
	}

	c.setEmailSettings("", time.Minute)

	if n := c.scheduler.activeTimers(); n != 0 {
		t.Errorf("active timers = %d, want 0", n)
	}
}

func TestCollector_MutationsPublish(t *testing.T) {
	c, _ := newTestCollector(t, emailSettings{address: "ops@example.com", interval: time.Minute}, &fakeMailer{})

	before := c.scheduler.entry
	c.handleMutations([]mutationSummary{{Type: "childList", AddedNodes: 1, RemovedNodes: 0}})

	fragment, ok := c.record.get(checkDOMChanges)
	if !ok {
		t.Fatal("record missing domChanges")
	}
	want := []mutationSummary{{Type: "childList", AddedNodes: 1, RemovedNodes: 0}}
	if got := fragment.([]mutationSummary); !slices.Equal(got, want) {
		t.Errorf("domChanges = %+v, want %+v", got, want)
	}

	if c.scheduler.entry == before {
		t.Error("mutation batch did not re-arm the report timer")
	}
	if n := c.scheduler.activeTimers(); n != 1 {
		t.Errorf("active timers = %d, want 1", n)
	}

	// a new batch overwrites the previous one
	c.handleMutations([]mutationSummary{{Type: "childList", RemovedNodes: 2}})
	fragment, _ = c.record.get(checkDOMChanges)
	if got := fragment.([]mutationSummary); len(got) != 1 || got[0].RemovedNodes != 2 {
		t.Errorf("domChanges = %+v, want single batch with 2 removed", got)
	}
}

func TestCollector_HandleLoadOnce(t *testing.T) {
	c, _ := newTestCollector(t, emailSettings{}, nil)

	c.handleLoad(navigationTiming{NavigationStart: 100, ResponseStart: 150, DomContentLoadedEventEnd: 300, LoadEventEnd: 900})
	c.handleLoad(navigationTiming{NavigationStart: 0, LoadEventEnd: 1})

	fragment, ok := c.record.get(checkPerformance)
	if !ok {
		t.Fatal("record missing performance")
	}
	want := performanceResult{PageLoadTime: 800, DOMLoadTime: 200, FirstPaint: 50}
	if fragment != want {
		t.Errorf("performance = %+v, want %+v", fragment, want)
	}
}

func TestCollector_ResourceSubscriptions(t *testing.T) {
	c, _ := newTestCollector(t, emailSettings{}, nil)

	c.handleScriptLoaded("https://example.com/a.js", 10, 25.5)
	c.handleScriptLoaded("https://example.com/b.js", 10, 11)
	c.handleStylesheetLoaded("https://example.com/site.css", 5, 45.125)

	scripts, _ := c.record.get(checkJSExecution)
	wantScripts := []scriptTiming{
		{Src: "https://example.com/a.js", ExecutionTime: "15.50"},
		{Src: "https://example.com/b.js", ExecutionTime: "1.00"},
	}
	if got := scripts.([]scriptTiming); !slices.Equal(got, wantScripts) {
		t.Errorf("jsExecution = %+v, want %+v", got, wantScripts)
	}

	sheets, _ := c.record.get(checkCSSAnalysis)
	wantSheets := []stylesheetTiming{{Href: "https://example.com/site.css", LoadTime: "40.13"}}
	if got := sheets.([]stylesheetTiming); !slices.Equal(got, wantSheets) {
		t.Errorf("cssAnalysis = %+v, want %+v", got, wantSheets)
	}

	c.close()
	c.handleScriptLoaded("https://example.com/late.js", 1, 2)

	scripts, _ = c.record.get(checkJSExecution)
	if got := scripts.([]scriptTiming); len(got) != 2 {
		t.Errorf("jsExecution after close = %d entries, want 2", len(got))
	}
}

func TestCollector_SendReport(t *testing.T) {
	m := &fakeMailer{}
	c, _ := newTestCollector(t, emailSettings{address: "ops@example.com", interval: time.Minute}, m)

	c.sendReport()

	sent := m.messages()
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}
	if sent[0].ToEmail != "ops@example.com" {
		t.Errorf("to = %q, want %q", sent[0].ToEmail, "ops@example.com")
	}
	if !strings.HasPrefix(sent[0].URL, "https://example.com/") {
		t.Errorf("url = %q, want page URL", sent[0].URL)
	}

	var report map[string]any
	if err := json.Unmarshal([]byte(sent[0].Report), &report); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	seo, ok := report[checkSEO].(map[string]any)
	if !ok {
		t.Fatalf("report seo = %#v, want object", report[checkSEO])
	}
	if seo["title"] != "Shop" {
		t.Errorf("report seo.title = %v, want Shop", seo["title"])
	}
}

func TestCollector_SendReportFailureAbsorbed(t *testing.T) {
	m := &fakeMailer{err: errors.New("smtp down")}
	c, _ := newTestCollector(t, emailSettings{address: "ops@example.com", interval: time.Minute}, m)

	c.sendReport()
	c.sendReport()

	if n := len(m.messages()); n != 2 {
		t.Errorf("attempts = %d, want 2 (one per tick, no retries)", n)
	}
	if n := c.scheduler.activeTimers(); n != 1 {
		t.Errorf("active timers = %d, want 1", n)
	}
}

func TestCollector_CloseStopsTimer(t *testing.T) {
	c, _ := newTestCollector(t, emailSettings{address: "ops@example.com", interval: time.Minute}, &fakeMailer{})

	c.close()
	c.setEmailSettings("ops@example.com", time.Minute)
	c.handleMutations([]mutationSummary{{Type: "childList"}})

	if _, armed := c.scheduler.interval(); armed {
		t.Error("scheduler armed after close")
	}
}

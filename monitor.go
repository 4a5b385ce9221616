package main

import (
	"log/slog"
	"sync"
)

// extensionLoader injects the user extension script into the page after
// it loaded
type extensionLoader interface {
	load()
}

// monitor routes page events to the collector of the current document.
// A new document (navigation, reload) replaces the collector.
type monitor struct {
	opts      collectorOptions
	extension extensionLoader
	logger    *slog.Logger

	mu       sync.Mutex
	settings emailSettings
	document string
	current  *collector
}

func newMonitor(opts collectorOptions, extension extensionLoader) *monitor {
	if opts.logger == nil {
		opts.logger = slog.New(slog.DiscardHandler)
	}

	return &monitor{
		opts:      opts,
		extension: extension,
		logger:    opts.logger,
		settings:  opts.settings,
	}
}

// handle processes one page event. It is called from a single goroutine.
func (m *monitor) handle(ev pageEvent) {
	if ev.Type == eventReady {
		m.startDocument(ev)
		return
	}

	c := m.collectorFor(ev.Document)
	if c == nil {
		m.logger.Debug("dropping event for stale document", "type", ev.Type, "document", ev.Document)
		return
	}

	switch ev.Type {
	case eventLoad:
		c.handleLoad(*ev.Timing)
		if m.extension != nil {
			go m.extension.load()
		}
	case eventResource:
		if ev.Kind == resourceScript {
			c.handleScriptLoaded(ev.URL, ev.StartTime, ev.EndTime)
		} else {
			c.handleStylesheetLoaded(ev.URL, ev.StartTime, ev.EndTime)
		}
	case eventMutations:
		c.handleMutations(ev.Mutations)
	}
}

// startDocument closes the collector of the previous document and runs
// the checks against the new one
func (m *monitor) startDocument(ev pageEvent) {
	m.mu.Lock()
	if ev.Document == m.document {
		m.mu.Unlock()
		return
	}
	previous := m.current
	m.current = nil
	m.document = ev.Document
	opts := m.opts
	opts.settings = m.settings
	m.mu.Unlock()

	if previous != nil {
		previous.close()
	}

	snap := ev.Snapshot
	state, err := newPageState(snap.URL, snap.Protocol, snap.HTML, snap.Resources)
	if err != nil {
		m.logger.Error("failed to read document", "url", snap.URL, "error", err)
		return
	}

	m.logger.Info("running checks", "url", snap.URL, "resources", len(snap.Resources))
	c := newCollector(state, opts)

	m.mu.Lock()
	if m.document == ev.Document {
		m.current = c
		c = nil
	}
	m.mu.Unlock()

	// superseded while the checks were running
	if c != nil {
		c.close()
	}
}

func (m *monitor) collectorFor(document string) *collector {
	m.mu.Lock()
	defer m.mu.Unlock()

	if document != m.document {
		return nil
	}

	return m.current
}

// setEmailSettings applies new email settings to the current collector
// and to every collector started afterwards
func (m *monitor) setEmailSettings(settings emailSettings) {
	m.mu.Lock()
	m.settings = settings
	c := m.current
	m.mu.Unlock()

	if c != nil {
		c.setEmailSettings(settings.address, settings.interval)
	}
}

// snapshot returns the record of the current document, if any
func (m *monitor) snapshot() (map[string]any, bool) {
	m.mu.Lock()
	c := m.current
	m.mu.Unlock()

	if c == nil {
		return nil, false
	}

	return c.record.snapshot(), true
}

// close stops the current collector
func (m *monitor) close() {
	m.mu.Lock()
	c := m.current
	m.current = nil
	m.document = ""
	m.mu.Unlock()

	if c != nil {
		c.close()
	}
}

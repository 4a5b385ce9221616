package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// default time allowed for one report email to be delivered
const defaultSendTimeout = 30 * time.Second

// emailSettings controls whether and how often the record is emailed
type emailSettings struct {
	address  string
	interval time.Duration
}

// enabled reports whether both an address and a positive interval are set
func (s emailSettings) enabled() bool {
	return s.address != "" && s.interval > 0
}

// collectorOptions holds the collaborators of a collector. Every field
// is optional.
type collectorOptions struct {
	settings    emailSettings
	mailer      mailer
	printer     fragmentPrinter
	logger      *slog.Logger
	sendTimeout time.Duration
}

// collector runs the diagnostics checks against one page document and
// owns the accumulated record and its report timer
type collector struct {
	state       *pageState
	record      *record
	scheduler   *scheduler
	mailer      mailer
	printer     fragmentPrinter
	logger      *slog.Logger
	sendTimeout time.Duration

	scripts     *subscription[scriptTiming]
	stylesheets *subscription[stylesheetTiming]

	mu          sync.Mutex
	settings    emailSettings
	loadPending bool
	observing   bool
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
}

// newCollector creates the record for the given page state and runs
// every check once, in order
func newCollector(state *pageState, opts collectorOptions) *collector {
	if opts.logger == nil {
		opts.logger = slog.New(slog.DiscardHandler)
	}
	if opts.printer == nil {
		opts.printer = logPrinter{opts.logger}
	}
	if opts.sendTimeout <= 0 {
		opts.sendTimeout = defaultSendTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &collector{
		state:       state,
		record:      newRecord(),
		scheduler:   newScheduler(),
		mailer:      opts.mailer,
		printer:     opts.printer,
		logger:      opts.logger.With("url", state.url.String()),
		sendTimeout: opts.sendTimeout,
		scripts:     newSubscription[scriptTiming](),
		stylesheets: newSubscription[stylesheetTiming](),
		ctx:         ctx,
		cancel:      cancel,
	}

	if opts.settings.enabled() {
		c.settings = opts.settings
	}

	for _, chk := range checks {
		c.start(chk)
	}

	return c
}

// start runs a single check, or prepares the event-fed ones
func (c *collector) start(chk check) {
	if chk.run != nil {
		c.store(chk.name, chk.run(c.state))
		return
	}

	switch chk.name {
	case checkPerformance:
		c.mu.Lock()
		c.loadPending = true
		c.mu.Unlock()
	case checkJSExecution:
		c.store(chk.name, c.scripts.items())
	case checkCSSAnalysis:
		c.store(chk.name, c.stylesheets.items())
	case checkDOMChanges:
		c.mu.Lock()
		c.observing = true
		c.mu.Unlock()
	}
}

// store merges a fragment into the record, prints it and publishes
func (c *collector) store(name string, fragment any) {
	c.record.set(name, fragment)
	c.printer.printFragment(name, fragment)
	c.publish()
}

// handleLoad records load performance once the window load event fired
func (c *collector) handleLoad(timing navigationTiming) {
	c.mu.Lock()
	pending := c.loadPending && !c.closed
	c.loadPending = false
	c.mu.Unlock()

	if !pending {
		return
	}

	c.store(checkPerformance, performanceFromTiming(timing))
}

// handleScriptLoaded appends the load time of an instrumented script
func (c *collector) handleScriptLoaded(src string, start, end float64) {
	timings, ok := c.scripts.add(scriptTiming{Src: src, ExecutionTime: toFixed(end - start)})
	if !ok {
		return
	}

	c.store(checkJSExecution, timings)
}

// handleStylesheetLoaded appends the load time of an instrumented stylesheet
func (c *collector) handleStylesheetLoaded(href string, start, end float64) {
	timings, ok := c.stylesheets.add(stylesheetTiming{Href: href, LoadTime: toFixed(end - start)})
	if !ok {
		return
	}

	c.store(checkCSSAnalysis, timings)
}

// handleMutations replaces the domChanges fragment with the latest batch
func (c *collector) handleMutations(batch []mutationSummary) {
	c.mu.Lock()
	observing := c.observing && !c.closed
	c.mu.Unlock()

	if !observing {
		return
	}

	c.store(checkDOMChanges, summarizeMutations(batch))
}

// setEmailSettings replaces the email settings and re-arms the report
// timer. Disabled settings return the collector to idle.
func (c *collector) setEmailSettings(address string, interval time.Duration) {
	c.mu.Lock()
	c.settings = emailSettings{address: address, interval: interval}
	enabled := c.settings.enabled()
	c.mu.Unlock()

	if !enabled {
		c.scheduler.disarm()
		c.logger.Info("report dispatch disabled")
		return
	}

	c.logger.Info("report dispatch enabled", "email", address, "interval", interval)
	c.publish()
}

// publish (re)arms the report timer when email settings are enabled
func (c *collector) publish() {
	c.mu.Lock()
	settings := c.settings
	closed := c.closed
	c.mu.Unlock()

	if closed || !settings.enabled() {
		return
	}

	c.scheduler.arm(settings.interval, c.sendReport)
}

// sendReport serializes the whole record and hands it to the mailer.
// Failures are logged and not retried.
func (c *collector) sendReport() {
	c.mu.Lock()
	address := c.settings.address
	c.mu.Unlock()

	if c.mailer == nil {
		c.logger.Warn("no mailer configured, report dropped")
		return
	}

	report, err := c.record.marshal()
	if err != nil {
		c.logger.Error("error generating report", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.sendTimeout)
	defer cancel()

	err = c.mailer.Send(ctx, emailMessage{
		ToEmail: address,
		Report:  report,
		URL:     c.state.url.String(),
	})
	if err != nil {
		c.logger.Error("error sending report", "email", address, "error", err)
		return
	}

	c.logger.Info("report sent successfully", "email", address, "bytes", len(report))
}

// close stops the report timer and all subscriptions. Events arriving
// afterwards are ignored.
func (c *collector) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.scripts.close()
	c.stylesheets.close()
	c.cancel()
	c.scheduler.stop()
}

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

type browserOptions struct {
	headless    bool
	noSandbox   bool
	pageTimeout time.Duration
}

// browserSession drives one page in a headless browser and streams the
// events of the instrumentation script
type browserSession struct {
	opts   browserOptions
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan pageEvent
}

func newBrowserSession(opts browserOptions, logger *slog.Logger) *browserSession {
	return &browserSession{opts: opts, logger: logger, events: make(chan pageEvent, 256)}
}

// start launches the browser on a blank page and begins listening for
// instrumentation events
func (b *browserSession) start(ctx context.Context) error {
	// setup browser options
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.opts.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", b.opts.noSandbox),
	)

	// create context with ExecAllocator
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)

	// create browser context
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithErrorf(log.Printf))

	b.ctx = browserCtx
	b.cancel = func() {
		cancelBrowser()
		cancelAlloc()
	}

	// open browser with a blank page
	if err := chromedp.Run(browserCtx, chromedp.Navigate("about:blank")); err != nil {
		b.cancel()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	chromedp.ListenTarget(browserCtx, func(ev any) {
		called, ok := ev.(*runtime.EventBindingCalled)
		if !ok || called.Name != bindingName {
			return
		}

		pe, err := decodePageEvent(called.Payload)
		if err != nil {
			b.logger.Debug("ignoring page event", "error", err)
			return
		}

		select {
		case b.events <- pe:
		case <-browserCtx.Done():
		}
	})

	return nil
}

// context returns the browser context, done once the browser is closed
func (b *browserSession) context() context.Context {
	return b.ctx
}

// consume hands every page event to handle until the browser is closed
func (b *browserSession) consume(handle func(pageEvent)) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-b.events:
			handle(ev)
		}
	}
}

// navigate injects the instrumentation script and opens the website,
// waiting for it to load
func (b *browserSession) navigate(site *website) error {
	// set navigation timeout
	timeoutCtx, cancelTimeout := context.WithTimeout(b.ctx, b.opts.pageTimeout)
	defer cancelTimeout()

	err := chromedp.Run(timeoutCtx,
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(instrumentScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(site.String()),
	)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", site, err)
	}

	return nil
}

// close shuts the browser down
func (b *browserSession) close() {
	if b.cancel != nil {
		b.cancel()
	}
}

// scriptInjector loads one external script into the open page
// - it satisfies the extensionLoader interface
type scriptInjector struct {
	ctx    context.Context
	src    string
	logger *slog.Logger
}

func newScriptInjector(ctx context.Context, src string, logger *slog.Logger) *scriptInjector {
	return &scriptInjector{ctx: ctx, src: src, logger: logger}
}

// load appends the script to the page, errors are only logged
func (s *scriptInjector) load() {
	expr, err := extensionScript(s.src)
	if err != nil {
		s.logger.Debug("extension script not loaded", "src", s.src, "error", err)
		return
	}

	var ok bool
	if err := chromedp.Run(s.ctx, chromedp.Evaluate(expr, &ok)); err != nil {
		s.logger.Debug("extension script not loaded", "src", s.src, "error", err)
		return
	}

	s.logger.Debug("extension script injected", "src", s.src)
}

package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// resourceEntry mirrors the fields of a PerformanceResourceTiming entry
// the checks care about
type resourceEntry struct {
	Name           string  `json:"name"`
	InitiatorType  string  `json:"initiatorType"`
	Duration       float64 `json:"duration"`
	TransferSize   float64 `json:"transferSize"`
	ResponseStatus int     `json:"responseStatus"`
}

// navigationTiming holds the raw performance.timing values (epoch ms)
// needed to derive page load durations
type navigationTiming struct {
	NavigationStart          float64 `json:"navigationStart"`
	ResponseStart            float64 `json:"responseStart"`
	DomContentLoadedEventEnd float64 `json:"domContentLoadedEventEnd"`
	LoadEventEnd             float64 `json:"loadEventEnd"`
}

// pageState is a read-only view of the document and its resource timing
// entries at the moment the checks run
type pageState struct {
	url       *url.URL
	protocol  string
	doc       *goquery.Document
	resources []resourceEntry
}

// newPageState parses the serialized document and returns a page state
// for the given location
func newPageState(rawURL, protocol, html string, resources []resourceEntry) (*pageState, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid document URL %s: %w", rawURL, err)
	}

	if protocol == "" {
		protocol = parsed.Scheme + ":"
	}

	return &pageState{
		url:       parsed,
		protocol:  protocol,
		doc:       doc,
		resources: resources,
	}, nil
}

// resolve returns the absolute form of a src/href attribute, the same
// value the browser exposes through the element property
func (p *pageState) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	base := p.url
	if href, ok := p.doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := p.url.Parse(href); err == nil {
			base = b
		}
	}

	resolved, err := base.Parse(ref)
	if err != nil {
		return ref
	}

	return resolved.String()
}

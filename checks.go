package main

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// resources taking longer than this (ms) are reported as slow
	slowResourceThreshold = 500
	// resources transferring more than this (bytes) are reported as large
	largeFileThreshold = 50 * 1024
)

// check names, also used as the record keys
const (
	checkPerformance      = "performance"
	checkSEO              = "seo"
	checkSecurity         = "security"
	checkCache            = "cache"
	checkAccessibility    = "accessibility"
	checkSpeed            = "speed"
	checkCodeOptimization = "codeOptimization"
	checkLazyLoad         = "lazyLoad"
	checkResourceStats    = "resourceStats"
	checkFileSize         = "fileSize"
	checkJSExecution      = "jsExecution"
	checkCSSAnalysis      = "cssAnalysis"
	checkHTTPRequests     = "httpRequests"
	checkDOMChanges       = "domChanges"
)

// check is a single independent diagnostics unit: a pure read of the
// page state producing one record fragment
type check struct {
	name string
	run  func(*pageState) any
}

// checks lists every diagnostics unit in the order a collector runs them.
// Units without a run function are fed by page events instead.
var checks = []check{
	{name: checkPerformance},
	{checkSEO, seoCheck},
	{checkSecurity, securityCheck},
	{checkCache, cacheCheck},
	{checkAccessibility, accessibilityCheck},
	{checkSpeed, speedCheck},
	{checkCodeOptimization, codeOptimizationCheck},
	{checkLazyLoad, lazyLoadCheck},
	{checkResourceStats, resourceStatsCheck},
	{checkFileSize, fileSizeCheck},
	{name: checkJSExecution},
	{name: checkCSSAnalysis},
	{checkHTTPRequests, httpRequestsCheck},
	{name: checkDOMChanges},
}

type performanceResult struct {
	PageLoadTime int64 `json:"pageLoadTime"`
	DOMLoadTime  int64 `json:"domLoadTime"`
	FirstPaint   int64 `json:"firstPaint"`
}

type seoResult struct {
	Title            string `json:"title"`
	MetaDescription  string `json:"metaDescription"`
	H1               string `json:"h1"`
	Viewport         string `json:"viewport"`
	ImagesWithoutAlt int    `json:"imagesWithoutAlt"`
}

type securityResult struct {
	HTTPS                 bool `json:"https"`
	ContentSecurityPolicy bool `json:"contentSecurityPolicy"`
	ReferrerPolicy        bool `json:"referrerPolicy"`
	XContentTypeOptions   bool `json:"xContentTypeOptions"`
}

type cacheResult struct {
	CacheControl string `json:"cacheControl"`
	Expires      string `json:"expires"`
}

type accessibilityResult struct {
	AriaElementsCount    int `json:"ariaElementsCount"`
	ImagesWithoutAlt     int `json:"imagesWithoutAlt"`
	ButtonsWithoutLabels int `json:"buttonsWithoutLabels"`
}

type slowResource struct {
	Name     string `json:"name"`
	LoadTime string `json:"loadTime"`
}

type speedResult struct {
	TotalResources int            `json:"totalResources"`
	SlowResources  []slowResource `json:"slowResources"`
}

// codeOptimizationResult holds either a list of unminified URLs or a
// summary string when every file is minified
type codeOptimizationResult struct {
	UnminifiedJS  any `json:"unminifiedJs"`
	UnminifiedCSS any `json:"unminifiedCss"`
}

type lazyLoadResult struct {
	TotalImages           int `json:"totalImages"`
	LazyLoadedImages      int `json:"lazyLoadedImages"`
	ImagesWithoutLazyLoad int `json:"imagesWithoutLazyLoad"`
}

// resourceStat size is the transfer size in KiB, or "N/A" when the
// browser reported no transfer
type resourceStat struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Duration string `json:"duration"`
	Size     any    `json:"size"`
}

type largeFile struct {
	Name string `json:"name"`
	Size string `json:"size"`
}

type fileSizeResult struct {
	LargeFiles []largeFile `json:"largeFiles"`
}

type failedRequest struct {
	Name   string `json:"name"`
	Status int    `json:"status"`
}

type httpRequestsResult struct {
	TotalRequests  int             `json:"totalRequests"`
	FailedRequests []failedRequest `json:"failedRequests"`
}

type scriptTiming struct {
	Src           string `json:"src"`
	ExecutionTime string `json:"executionTime"`
}

type stylesheetTiming struct {
	Href     string `json:"href"`
	LoadTime string `json:"loadTime"`
}

type mutationSummary struct {
	Type         string `json:"type"`
	AddedNodes   int    `json:"addedNodes"`
	RemovedNodes int    `json:"removedNodes"`
}

// performanceFromTiming derives load durations from navigation timing
func performanceFromTiming(t navigationTiming) performanceResult {
	return performanceResult{
		PageLoadTime: int64(t.LoadEventEnd - t.NavigationStart),
		DOMLoadTime:  int64(t.DomContentLoadedEventEnd - t.NavigationStart),
		FirstPaint:   int64(t.ResponseStart - t.NavigationStart),
	}
}

func seoCheck(p *pageState) any {
	result := seoResult{
		Title:           "No Title Found",
		MetaDescription: "No Meta Description Found",
		H1:              "No H1 Tag Found",
		Viewport:        "No Viewport Meta Tag",
	}

	if title := collapseWhitespace(p.doc.Find("title").First().Text()); title != "" {
		result.Title = title
	}

	if meta := p.doc.Find(`meta[name="description"]`).First(); meta.Length() > 0 {
		result.MetaDescription = meta.AttrOr("content", "")
	}

	if h1 := p.doc.Find("h1").First(); h1.Length() > 0 {
		result.H1 = h1.Text()
	}

	if p.doc.Find(`meta[name="viewport"]`).Length() > 0 {
		result.Viewport = "Viewport Set"
	}

	// an empty alt counts as missing
	p.doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		if img.AttrOr("alt", "") == "" {
			result.ImagesWithoutAlt++
		}
	})

	return result
}

func securityCheck(p *pageState) any {
	return securityResult{
		HTTPS:                 p.protocol == "https:",
		ContentSecurityPolicy: p.doc.Find(`meta[http-equiv="Content-Security-Policy"]`).Length() > 0,
		ReferrerPolicy:        p.doc.Find(`meta[name="referrer"]`).Length() > 0,
		XContentTypeOptions:   p.doc.Find(`meta[http-equiv="X-Content-Type-Options"]`).Length() > 0,
	}
}

func cacheCheck(p *pageState) any {
	result := cacheResult{
		CacheControl: "No Cache-Control Header Found",
		Expires:      "No Expires Header Found",
	}

	if meta := p.doc.Find(`meta[http-equiv="Cache-Control"]`).First(); meta.Length() > 0 {
		result.CacheControl = meta.AttrOr("content", "")
	}

	if meta := p.doc.Find(`meta[http-equiv="Expires"]`).First(); meta.Length() > 0 {
		result.Expires = meta.AttrOr("content", "")
	}

	return result
}

func accessibilityCheck(p *pageState) any {
	return accessibilityResult{
		AriaElementsCount:    p.doc.Find("[aria-label], [role]").Length(),
		ImagesWithoutAlt:     p.doc.Find("img:not([alt])").Length(),
		ButtonsWithoutLabels: p.doc.Find("button:not([aria-label])").Length(),
	}
}

func speedCheck(p *pageState) any {
	result := speedResult{
		TotalResources: len(p.resources),
		SlowResources:  []slowResource{},
	}

	for _, res := range p.resources {
		if res.Duration > slowResourceThreshold {
			result.SlowResources = append(result.SlowResources, slowResource{
				Name:     res.Name,
				LoadTime: toFixed(res.Duration),
			})
		}
	}

	return result
}

func codeOptimizationCheck(p *pageState) any {
	var unminifiedJS, unminifiedCSS []string

	p.doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		src := p.resolve(s.AttrOr("src", ""))
		if src != "" && !strings.Contains(src, ".min.js") {
			unminifiedJS = append(unminifiedJS, src)
		}
	})

	p.doc.Find(`link[rel="stylesheet"]`).Each(func(_ int, s *goquery.Selection) {
		href := p.resolve(s.AttrOr("href", ""))
		if href != "" && !strings.Contains(href, ".min.css") {
			unminifiedCSS = append(unminifiedCSS, href)
		}
	})

	result := codeOptimizationResult{
		UnminifiedJS:  "All JS Minified",
		UnminifiedCSS: "All CSS Minified",
	}
	if len(unminifiedJS) > 0 {
		result.UnminifiedJS = unminifiedJS
	}
	if len(unminifiedCSS) > 0 {
		result.UnminifiedCSS = unminifiedCSS
	}

	return result
}

func lazyLoadCheck(p *pageState) any {
	images := p.doc.Find("img")
	lazy := images.FilterFunction(func(_ int, img *goquery.Selection) bool {
		return strings.EqualFold(img.AttrOr("loading", ""), "lazy")
	})

	return lazyLoadResult{
		TotalImages:           images.Length(),
		LazyLoadedImages:      lazy.Length(),
		ImagesWithoutLazyLoad: images.Length() - lazy.Length(),
	}
}

func resourceStatsCheck(p *pageState) any {
	stats := make([]resourceStat, 0, len(p.resources))

	for _, res := range p.resources {
		var size any = "N/A"
		if res.TransferSize > 0 {
			size = res.TransferSize / 1024
		}

		stats = append(stats, resourceStat{
			Name:     res.Name,
			Type:     res.InitiatorType,
			Duration: toFixed(res.Duration),
			Size:     size,
		})
	}

	return stats
}

func fileSizeCheck(p *pageState) any {
	result := fileSizeResult{LargeFiles: []largeFile{}}

	for _, res := range p.resources {
		if res.TransferSize > largeFileThreshold {
			result.LargeFiles = append(result.LargeFiles, largeFile{
				Name: res.Name,
				Size: toFixed(res.TransferSize/1024) + " KB",
			})
		}
	}

	return result
}

// httpRequestsCheck relies on responseStatus, which browsers leave at 0
// for most cross-origin entries
func httpRequestsCheck(p *pageState) any {
	result := httpRequestsResult{
		TotalRequests:  len(p.resources),
		FailedRequests: []failedRequest{},
	}

	for _, res := range p.resources {
		if res.ResponseStatus >= 400 {
			result.FailedRequests = append(result.FailedRequests, failedRequest{
				Name:   res.Name,
				Status: res.ResponseStatus,
			})
		}
	}

	return result
}

// collapseWhitespace strips and collapses ASCII whitespace the way
// document.title does. Other spaces, such as U+00A0, are kept.
func collapseWhitespace(s string) string {
	return strings.Join(strings.FieldsFunc(s, isASCIISpace), " ")
}

func isASCIISpace(r rune) bool {
	switch r {
	case '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

// summarizeMutations converts a mutation batch into its record fragment
func summarizeMutations(batch []mutationSummary) []mutationSummary {
	summaries := make([]mutationSummary, len(batch))
	copy(summaries, batch)
	return summaries
}

// toFixed formats a millisecond or KiB value with two decimals, rounding
// exact halves away from zero the way browsers do
func toFixed(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}

	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}

	r := new(big.Rat).SetFloat64(v)
	r.Mul(r, big.NewRat(100, 1))
	r.Add(r, big.NewRat(1, 2))
	digits := new(big.Int).Div(r.Num(), r.Denom()).String()

	if len(digits) < 3 {
		digits = strings.Repeat("0", 3-len(digits)) + digits
	}

	return sign + digits[:len(digits)-2] + "." + digits[len(digits)-2:]
}

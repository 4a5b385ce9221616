package main

import (
	"fmt"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// page event types emitted by the instrumentation script
const (
	eventReady     = "ready"
	eventLoad      = "load"
	eventResource  = "resource"
	eventMutations = "mutations"
)

// resource kinds reported with resource events
const (
	resourceScript     = "script"
	resourceStylesheet = "stylesheet"
)

// pageEvent is one message sent by the instrumentation script through the
// runtime binding. Document identifies the page document that sent it.
type pageEvent struct {
	Type     string `json:"type"`
	Document string `json:"document"`

	// ready
	Snapshot *documentSnapshot `json:"snapshot,omitempty"`

	// load
	Timing *navigationTiming `json:"timing,omitempty"`

	// resource
	Kind      string  `json:"kind,omitempty"`
	URL       string  `json:"url,omitempty"`
	StartTime float64 `json:"startTime,omitempty"`
	EndTime   float64 `json:"endTime,omitempty"`

	// mutations
	Mutations []mutationSummary `json:"mutations,omitempty"`
}

// documentSnapshot is the serialized document and its resource timing
// entries, taken when the document became ready
type documentSnapshot struct {
	URL       string          `json:"url"`
	Protocol  string          `json:"protocol"`
	HTML      string          `json:"html"`
	Resources []resourceEntry `json:"resources"`
}

// decodePageEvent parses and checks a binding payload. Lone UTF-16
// surrogates, which JSON.stringify leaves escaped, decode as U+FFFD.
func decodePageEvent(payload string) (pageEvent, error) {
	var ev pageEvent
	if err := json.Unmarshal([]byte(payload), &ev, jsontext.AllowInvalidUTF8(true)); err != nil {
		return pageEvent{}, fmt.Errorf("failed to decode page event: %w", err)
	}

	if ev.Document == "" {
		return pageEvent{}, fmt.Errorf("page event %q without document id", ev.Type)
	}

	switch ev.Type {
	case eventReady:
		if ev.Snapshot == nil {
			return pageEvent{}, fmt.Errorf("ready event without snapshot")
		}
	case eventLoad:
		if ev.Timing == nil {
			return pageEvent{}, fmt.Errorf("load event without timing")
		}
	case eventResource:
		if ev.Kind != resourceScript && ev.Kind != resourceStylesheet {
			return pageEvent{}, fmt.Errorf("resource event with unknown kind %q", ev.Kind)
		}
	case eventMutations:
	default:
		return pageEvent{}, fmt.Errorf("unknown page event type %q", ev.Type)
	}

	return ev, nil
}

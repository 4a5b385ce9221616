package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// CSVSink handles writing the final diagnostics record to a CSV file
type CSVSink struct {
	outputFile string
}

// NewCSVSink creates a new CSVSink instance
func NewCSVSink(outputFile string) (*CSVSink, error) {
	newSink := CSVSink{outputFile}
	err := newSink.validateAndCreateOutputFile()
	if err != nil {
		return nil, fmt.Errorf("failed csv output file validation/creation: %w", err)
	}

	return &newSink, nil
}

// validateAndCreateOutputFile ensures the output directory exists and is writable
func (s *CSVSink) validateAndCreateOutputFile() error {
	if s.outputFile == "" {
		return fmt.Errorf("output path cannot be empty")
	}

	// create the output file
	// this validates both directory existence and write permissions
	file, err := os.Create(s.outputFile)
	if err != nil {
		return fmt.Errorf("cannot create output file %s: %w", s.outputFile, err)
	}
	file.Close()

	return nil
}

// WriteRecord writes one row per fragment field, checks sorted by name
func (s *CSVSink) WriteRecord(pageURL string, fragments map[string]any) error {
	if s == nil || s.outputFile == "" {
		return fmt.Errorf("nil csv sink")
	}

	outFile, err := os.Create(s.outputFile)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer outFile.Close()

	writer := csv.NewWriter(outFile)

	err = writer.Write([]string{"Website", "Check", "Field", "Value"})
	if err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}

	names := make([]string, 0, len(fragments))
	for name := range fragments {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		rows, err := s.flatten(fragments[name])
		if err != nil {
			return fmt.Errorf("failed to flatten %s: %w", name, err)
		}

		for _, row := range rows {
			err := writer.Write([]string{pageURL, name, row[0], row[1]})
			if err != nil {
				return fmt.Errorf("failed to write to file: %w", err)
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

// flatten turns a fragment into field/value pairs. Object fragments give
// one pair per member, list fragments a single pair with one line per item.
func (s *CSVSink) flatten(fragment any) ([][2]string, error) {
	data, err := json.Marshal(fragment, json.Deterministic(true))
	if err != nil {
		return nil, err
	}

	switch jsontext.Value(data).Kind() {
	case '{':
		var members map[string]jsontext.Value
		if err := json.Unmarshal(data, &members); err != nil {
			return nil, err
		}

		keys := make([]string, 0, len(members))
		for k := range members {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		rows := make([][2]string, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, [2]string{k, s.formatValue(members[k])})
		}
		return rows, nil
	default:
		return [][2]string{{"", s.formatValue(data)}}, nil
	}
}

// formatValue unquotes strings and joins list items with ";\n"
func (s *CSVSink) formatValue(v jsontext.Value) string {
	switch v.Kind() {
	case '"':
		var str string
		if err := json.Unmarshal(v, &str); err == nil {
			return str
		}
	case '[':
		var items []jsontext.Value
		if err := json.Unmarshal(v, &items); err == nil {
			parts := make([]string, len(items))
			for i, item := range items {
				parts[i] = s.formatValue(item)
			}
			return strings.Join(parts, ";\n")
		}
	}

	return string(v)
}

// Package report renders verification results for people and programs.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/mailprobe-lite/internal/verifier"
)

// Format names an output format.
type Format string

const (
	// Text is a human-readable table.
	Text Format = "text"
	// JSON is a single JSON document.
	JSON Format = "json"
)

const separator = "========================================\n"

// Entry is one address and its verdict.
type Entry struct {
	Address string          `json:"address"`
	Status  verifier.Status `json:"status"`
}

// Document is the JSON shape of a report.
type Document struct {
	Results []Entry                 `json:"results"`
	Summary map[verifier.Status]int `json:"summary"`

	// Interrupted is set when verification ended early. Results is still
	// complete; addresses that were not probed carry smtp_fail.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Entries orders results by the first appearance of each address in
// inputs. Inputs are trimmed the same way the engine trims them.
func Entries(inputs []string, results verifier.Results) []Entry {
	entries := make([]Entry, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, in := range inputs {
		a := strings.TrimSpace(in)
		if _, dup := seen[a]; dup {
			continue
		}
		st, ok := results[a]
		if !ok {
			continue
		}
		seen[a] = struct{}{}
		entries = append(entries, Entry{Address: a, Status: st})
	}
	return entries
}

// NewDocument builds the JSON shape of a report.
func NewDocument(inputs []string, results verifier.Results) Document {
	return Document{
		Results: Entries(inputs, results),
		Summary: results.Count(),
	}
}

// Writer renders reports to an output stream.
type Writer struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
	format Format
}

// New creates a Writer that writes to os.Stdout.
func New(format Format) (*Writer, error) {
	return NewWithWriter(os.Stdout, format)
}

// NewWithWriter creates a Writer that writes to the given writer.
func NewWithWriter(w io.Writer, format Format) (*Writer, error) {
	switch format {
	case "":
		format = Text
	case Text, JSON:
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
	return &Writer{writer: w, format: format}, nil
}

// Write renders results in input order.
func (w *Writer) Write(inputs []string, results verifier.Results) error {
	if w.format == JSON {
		enc := json.NewEncoder(w.writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(NewDocument(inputs, results)); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		return nil
	}

	if _, err := fmt.Fprint(w.writer, renderText(Entries(inputs, results), results.Count())); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func renderText(entries []Entry, counts map[verifier.Status]int) string {
	var b strings.Builder

	width := 0
	for _, e := range entries {
		if len(e.Address) > width {
			width = len(e.Address)
		}
	}

	b.WriteString(separator)
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("%-*s  %s\n", width, e.Address, e.Status))
	}
	b.WriteString(separator)
	b.WriteString(fmt.Sprintf("Total: %d\n", len(entries)))

	parts := make([]string, 0, len(verifier.Statuses))
	for _, st := range verifier.Statuses {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", st, n))
		}
	}
	if len(parts) > 0 {
		b.WriteString(fmt.Sprintf("Summary: %s\n", strings.Join(parts, ", ")))
	}
	return b.String()
}

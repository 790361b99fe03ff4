// Package textract turns uploaded document files into the plain text the
// extraction pipeline consumes. Pages, sheets and sections are separated by
// blank lines so the chunker can split on them.
package textract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned when no extractor handles a format.
var ErrUnsupportedFormat = errors.New("textract: unsupported format")

// blockSep separates pages, sheets and sections in extracted text.
const blockSep = "\n\n"

// Extractor reads one file format into plain text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
	Formats() []string
}

// Registry maps lower-case file extensions to extractors.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry returns a registry with the built-in extractors.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	for _, e := range []Extractor{&TextExtractor{}, &PDFExtractor{}, &DOCXExtractor{}, &XLSXExtractor{}} {
		for _, f := range e.Formats() {
			r.extractors[f] = e
		}
	}
	return r
}

// Get returns the extractor for format.
func (r *Registry) Get(format string) (Extractor, error) {
	e, ok := r.extractors[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return e, nil
}

// Register adds or replaces the extractor for format.
func (r *Registry) Register(format string, e Extractor) {
	r.extractors[format] = e
}

// FormatOf returns the lower-case extension of path without the dot.
func FormatOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// ExtractFile picks an extractor by the file's extension and returns the
// detected format with the extracted text.
func (r *Registry) ExtractFile(ctx context.Context, path string) (format, text string, err error) {
	format = FormatOf(path)
	e, err := r.Get(format)
	if err != nil {
		return format, "", err
	}
	text, err = e.Extract(ctx, path)
	if err != nil {
		return format, "", fmt.Errorf("extracting %s: %w", filepath.Base(path), err)
	}
	return format, strings.TrimSpace(text), nil
}

// joinBlocks joins non-empty trimmed blocks with blank lines.
func joinBlocks(blocks []string) string {
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return strings.Join(out, blockSep)
}

// tableRow renders cells as a pipe-delimited row.
func tableRow(cells []string) string {
	return "| " + strings.Join(cells, " | ") + " |"
}

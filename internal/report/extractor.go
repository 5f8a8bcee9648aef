package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"redraft/internal/util"

	"github.com/ledongthuc/pdf"
)

// Extractor turns a raw report document into plain text. The regex
// heuristics in the parser sit behind this boundary so the extraction
// strategy can be swapped without touching the orchestrator.
type Extractor interface {
	Extract(raw []byte) (string, error)
}

// PDFExtractor reads Turnitin-style PDF reports.
type PDFExtractor struct{}

func (PDFExtractor) Extract(raw []byte) (text string, err error) {
	if len(raw) == 0 {
		return "", util.ErrReportUnreadable
	}
	// The pdf library panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: pdf reader panic: %v", util.ErrReportUnreadable, r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", util.ErrReportUnreadable, err)
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: %v", util.ErrReportUnreadable, err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("%w: %v", util.ErrReportUnreadable, err)
	}
	out := strings.TrimSpace(buf.String())
	if out == "" {
		return "", util.ErrReportUnreadable
	}
	return out, nil
}

// TextExtractor accepts reports already delivered as plain text.
type TextExtractor struct{}

func (TextExtractor) Extract(raw []byte) (string, error) {
	if len(raw) == 0 || !utf8.Valid(raw) {
		return "", util.ErrReportUnreadable
	}
	out := strings.TrimSpace(string(raw))
	if out == "" {
		return "", util.ErrReportUnreadable
	}
	return out, nil
}

// AutoExtractor sniffs the document format and delegates.
type AutoExtractor struct {
	pdf  PDFExtractor
	text TextExtractor
}

func (a AutoExtractor) Extract(raw []byte) (string, error) {
	if bytes.HasPrefix(raw, []byte("%PDF")) {
		return a.pdf.Extract(raw)
	}
	return a.text.Extract(raw)
}

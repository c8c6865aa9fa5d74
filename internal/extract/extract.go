// Package extract turns PDF files into page-ordered text segments.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"

	"pdfchat/internal/apperr"
	"pdfchat/internal/text"
)

// Document is the text of one PDF in page order.
type Document struct {
	Segments []text.Segment
}

// Empty reports whether no page carried any text.
func (d Document) Empty() bool {
	for _, s := range d.Segments {
		if !text.IsBlank(s.Text) {
			return false
		}
	}
	return true
}

type Extractor interface {
	Extract(ctx context.Context, path string) (Document, error)
}

// PDFExtractor reads text page by page with a pure Go parser.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func (e *PDFExtractor) Extract(ctx context.Context, path string) (doc Document, err error) {
	// the parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: parser panic: %v", apperr.ErrUnparsableDocument, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %w", apperr.ErrUnparsableDocument, err)
	}
	defer f.Close()

	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return Document{}, fmt.Errorf("%w: page %d: %w", apperr.ErrUnparsableDocument, i, err)
		}
		doc.Segments = append(doc.Segments, text.Segment{Page: i, Text: content})
	}
	return doc, nil
}

// DocconvExtractor shells out through docconv (pdftotext). It has no page
// boundaries so the whole text is reported as page 1.
type DocconvExtractor struct{}

func NewDocconvExtractor() *DocconvExtractor {
	return &DocconvExtractor{}
}

func (e *DocconvExtractor) Extract(ctx context.Context, path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %w", apperr.ErrUnparsableDocument, err)
	}
	defer f.Close()

	res, err := docconv.Convert(f, "application/pdf", false)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %w", apperr.ErrUnparsableDocument, err)
	}
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	return Document{Segments: []text.Segment{{Page: 1, Text: res.Body}}}, nil
}

// Chain tries each extractor in order and returns the first document with text.
type Chain struct {
	extractors []Extractor
}

func NewChain(extractors ...Extractor) *Chain {
	return &Chain{extractors: extractors}
}

// Default is the pure Go parser with the docconv fallback.
func Default() *Chain {
	return NewChain(NewPDFExtractor(), NewDocconvExtractor())
}

func (c *Chain) Extract(ctx context.Context, path string) (Document, error) {
	var errs []error
	var empty *Document
	for _, e := range c.extractors {
		doc, err := e.Extract(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return Document{}, ctx.Err()
			}
			slog.WarnContext(ctx, "extractor failed, trying next", "extractor", fmt.Sprintf("%T", e), "error", err)
			errs = append(errs, err)
			continue
		}
		if !doc.Empty() {
			return doc, nil
		}
		if empty == nil {
			empty = &doc
		}
	}
	// a readable PDF with no text layer is not an error
	if empty != nil {
		return *empty, nil
	}
	if len(errs) == 0 {
		return Document{}, fmt.Errorf("%w: no extractor configured", apperr.ErrUnparsableDocument)
	}
	err := errors.Join(errs...)
	if !errors.Is(err, apperr.ErrUnparsableDocument) {
		err = fmt.Errorf("%w: %w", apperr.ErrUnparsableDocument, err)
	}
	return Document{}, err
}

// Preview returns the first n characters of the document, for logging.
func (d Document) Preview(n int) string {
	var sb strings.Builder
	for _, s := range d.Segments {
		sb.WriteString(s.Text)
		if sb.Len() >= n {
			break
		}
	}
	return text.Truncate(sb.String(), n)
}

// Package engine describes the PDF capabilities the normalizer needs: open a
// document from memory, read each page's text structure, redact regions, insert
// styled text boxes and save.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfnormalize/textblock"
)

var (
	// ErrClosed is returned by any call on a document after Close.
	ErrClosed = errors.New("document is closed")
	// ErrPageRange is returned for a page index outside [0, NumPages).
	ErrPageRange = errors.New("page index out of range")
	// ErrUnexpectedEntry is returned when a page yields an entry type the caller
	// does not know how to handle.
	ErrUnexpectedEntry = errors.New("unexpected page entry")
)

// Engine opens documents.
type Engine interface {
	Open(ctx context.Context, data []byte) (Document, error)
}

// Document is an open, mutable PDF. It is owned by one goroutine.
type Document interface {
	NumPages() int
	Page(index int) (Page, error)
	Save(ctx context.Context, w io.Writer, opts SaveOptions) error
	// Close releases the document. Calling it more than once is allowed.
	Close() error
}

// Page exposes one page of an open Document.
type Page interface {
	Index() int
	// Blocks returns the page's text and image blocks in reading order.
	Blocks(ctx context.Context) ([]Entry, error)
	// AddRedaction registers a redaction over r without touching page content.
	AddRedaction(r textblock.Rect) error
	// ApplyRedactions erases everything under the registered redactions in one
	// pass and removes them. It returns the number of erased items.
	ApplyRedactions(ctx context.Context) (int, error)
	// InsertHTMLBox lays out an HTML fragment inside r, shrinking it if needed.
	InsertHTMLBox(ctx context.Context, r textblock.Rect, html string) (HTMLBoxResult, error)
}

// Entry is a structural block on a page: *TextEntry or *ImageEntry.
type Entry interface {
	Bounds() textblock.Rect
	entry()
}

// TextEntry is a block of text lines.
type TextEntry struct {
	BBox  textblock.Rect
	Lines []Line
}

// Line is a run of spans sharing a baseline.
type Line struct {
	BBox  textblock.Rect
	Spans []Span
}

// Span is a run of text in one font and size.
type Span struct {
	Text string
	Font string
	Size float64
	BBox textblock.Rect
}

// ImageEntry is a placed image.
type ImageEntry struct {
	BBox          textblock.Rect
	Width, Height int
}

func (e *TextEntry) Bounds() textblock.Rect  { return e.BBox }
func (e *ImageEntry) Bounds() textblock.Rect { return e.BBox }
func (*TextEntry) entry()                    {}
func (*ImageEntry) entry()                   {}

// Text concatenates the line's span texts.
func (l Line) Text() string {
	var n int
	for _, s := range l.Spans {
		n += len(s.Text)
	}
	buf := make([]byte, 0, n)
	for _, s := range l.Spans {
		buf = append(buf, s.Text...)
	}
	return string(buf)
}

// SaveOptions controls compaction on Save.
//
// Garbage levels: 0 keeps every object, 1 drops unreachable objects, 2 also
// renumbers objects densely, 3 also merges duplicate streams, 4 also merges all
// identical objects.
type SaveOptions struct {
	Garbage int
	Deflate bool
}

// MaxCompaction is the most aggressive save setting.
var MaxCompaction = SaveOptions{Garbage: 4, Deflate: true}

func (o SaveOptions) Validate() error {
	if o.Garbage < 0 || o.Garbage > 4 {
		return fmt.Errorf("garbage level %d outside 0..4", o.Garbage)
	}
	return nil
}

// HTMLBoxResult reports how an HTML box fit its rectangle. SpareHeight is the
// unused height below the content, or -1 when nothing could be placed. Scale is
// the shrink factor applied to fit (1 means none).
type HTMLBoxResult struct {
	SpareHeight float64
	Scale       float64
}

// Fitted reports whether the content was placed.
func (r HTMLBoxResult) Fitted() bool { return r.SpareHeight >= 0 }

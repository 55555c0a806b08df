// Package extract turns a PDF into positional text blocks.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/wudi/pdfnormalize/engine"
	"github.com/wudi/pdfnormalize/observability"
	"github.com/wudi/pdfnormalize/textblock"
)

// Extractor reads text blocks through an engine.
type Extractor struct {
	engine engine.Engine
	logger observability.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l observability.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New returns an Extractor using eng to open documents.
func New(eng engine.Engine, opts ...Option) *Extractor {
	e := &Extractor{engine: eng, logger: observability.NopLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract opens data and returns its text blocks in page, then block, order.
// Image blocks and blocks without visible text are skipped.
func (e *Extractor) Extract(ctx context.Context, data []byte) (blocks []textblock.Block, err error) {
	doc, err := e.engine.Open(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close document: %w", cerr)
		}
	}()

	for i := 0; i < doc.NumPages(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageBlocks, err := e.extractPage(ctx, doc, i)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		e.logger.Debug("page extracted", observability.Int("page", i), observability.Int("blocks", len(pageBlocks)))
		blocks = append(blocks, pageBlocks...)
	}
	e.logger.Info("extracted text blocks", observability.Int("blocks", len(blocks)), observability.Int("pages", doc.NumPages()))
	return blocks, nil
}

func (e *Extractor) extractPage(ctx context.Context, doc engine.Document, index int) ([]textblock.Block, error) {
	page, err := doc.Page(index)
	if err != nil {
		return nil, err
	}
	entries, err := page.Blocks(ctx)
	if err != nil {
		return nil, err
	}
	var out []textblock.Block
	for _, entry := range entries {
		switch ent := entry.(type) {
		case *engine.TextEntry:
			text := BlockText(ent)
			if text == "" {
				continue
			}
			out = append(out, textblock.Block{
				Spans: []textblock.Span{{Text: text}},
				Page:  index,
				BBox:  ent.BBox.Normalize(),
			})
		case *engine.ImageEntry:
			continue
		default:
			return nil, fmt.Errorf("%w %T", engine.ErrUnexpectedEntry, entry)
		}
	}
	return out, nil
}

// BlockText merges a text entry into one string: span texts are concatenated
// within a line, every non-blank line is followed by a newline, and the result
// is trimmed. A block with no visible text yields "".
func BlockText(ent *engine.TextEntry) string {
	var b strings.Builder
	for _, line := range ent.Lines {
		text := line.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

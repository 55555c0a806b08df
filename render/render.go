// Package render writes text blocks back into the document they came from.
package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/wudi/pdfnormalize/engine"
	"github.com/wudi/pdfnormalize/observability"
	"github.com/wudi/pdfnormalize/textblock"
)

// Style is the fixed presentation used for every reinserted block.
type Style struct {
	FontFamily string
	FontSizePt float64
}

// DefaultStyle is Arial at 12pt.
var DefaultStyle = Style{FontFamily: "Arial", FontSizePt: 12}

// Markup returns the HTML fragment for text: a single div carrying the style.
// The text is escaped.
func (s Style) Markup(text string) string {
	div := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Div,
		Data:     "div",
		Attr: []html.Attribute{{
			Key: "style",
			Val: fmt.Sprintf("font-family: %s; font-size: %spt;", s.FontFamily, formatSize(s.FontSizePt)),
		}},
	}
	div.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	var buf bytes.Buffer
	// Rendering a plain element tree into a buffer does not fail.
	_ = html.Render(&buf, div)
	return buf.String()
}

func formatSize(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// Result describes a render.
type Result struct {
	Output        []byte
	Pages         int
	Inserted      int
	Erased        int
	SkippedBlocks int
	// Unfitted counts blocks whose box was too small to hold any text.
	Unfitted int
	SaveTime time.Duration
}

// Renderer replaces block regions with restyled text.
type Renderer struct {
	engine engine.Engine
	logger observability.Logger
	style  Style
	save   engine.SaveOptions
}

type Option func(*Renderer)

func WithLogger(l observability.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithStyle overrides DefaultStyle.
func WithStyle(s Style) Option {
	return func(r *Renderer) { r.style = s }
}

// WithSaveOptions overrides engine.MaxCompaction.
func WithSaveOptions(o engine.SaveOptions) Option {
	return func(r *Renderer) { r.save = o }
}

func New(eng engine.Engine, opts ...Option) *Renderer {
	r := &Renderer{
		engine: eng,
		logger: observability.NopLogger{},
		style:  DefaultStyle,
		save:   engine.MaxCompaction,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RenderEncoded parses the string bounding boxes of encoded blocks and renders them.
func (r *Renderer) RenderEncoded(ctx context.Context, data []byte, encoded []textblock.Encoded) (*Result, error) {
	blocks := make([]textblock.Block, 0, len(encoded))
	for i, e := range encoded {
		b, err := e.Decode()
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		blocks = append(blocks, b)
	}
	return r.Render(ctx, data, blocks)
}

// Render opens a fresh copy of data, replaces every block and saves the result.
// Blocks naming a page the document does not have are skipped.
func (r *Renderer) Render(ctx context.Context, data []byte, blocks []textblock.Block) (res *Result, err error) {
	if err := r.save.Validate(); err != nil {
		return nil, err
	}
	doc, err := r.engine.Open(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil && err == nil {
			res = nil
			err = fmt.Errorf("close document: %w", cerr)
		}
	}()

	res = &Result{}
	for _, group := range textblock.GroupByPage(blocks) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if group.Page < 0 || group.Page >= doc.NumPages() {
			res.SkippedBlocks += len(group.Blocks)
			r.logger.Warn("skipping blocks for missing page",
				observability.Int("page", group.Page),
				observability.Int("pages", doc.NumPages()),
				observability.Int("blocks", len(group.Blocks)))
			continue
		}
		if err := r.renderPage(ctx, doc, group, res); err != nil {
			return nil, fmt.Errorf("render page %d: %w", group.Page, err)
		}
		res.Pages++
	}

	var buf bytes.Buffer
	start := time.Now()
	if err := doc.Save(ctx, &buf, r.save); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	res.SaveTime = time.Since(start)
	res.Output = buf.Bytes()
	r.logger.Info("rendered document",
		observability.Int("pages", res.Pages),
		observability.Int("inserted", res.Inserted),
		observability.Int("skipped", res.SkippedBlocks),
		observability.Int("bytes", len(res.Output)))
	return res, nil
}

func (r *Renderer) renderPage(ctx context.Context, doc engine.Document, group textblock.PageGroup, res *Result) error {
	page, err := doc.Page(group.Page)
	if err != nil {
		return err
	}
	for _, b := range group.Blocks {
		if err := page.AddRedaction(b.BBox); err != nil {
			return fmt.Errorf("redact %s: %w", b.BBox, err)
		}
	}
	erased, err := page.ApplyRedactions(ctx)
	if err != nil {
		return fmt.Errorf("apply redactions: %w", err)
	}
	res.Erased += erased

	for _, b := range group.Blocks {
		fit, err := page.InsertHTMLBox(ctx, b.BBox, r.style.Markup(b.Text()))
		if err != nil {
			return fmt.Errorf("insert text at %s: %w", b.BBox, err)
		}
		if !fit.Fitted() {
			res.Unfitted++
			r.logger.Debug("text box too small",
				observability.Int("page", group.Page),
				observability.String("bbox", b.BBox.String()),
				observability.Float64("height", b.BBox.Height()))
			continue
		}
		res.Inserted++
	}
	r.logger.Debug("page rendered",
		observability.Int("page", group.Page),
		observability.Int("blocks", len(group.Blocks)),
		observability.Int("erased", erased))
	return nil
}

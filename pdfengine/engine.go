// Package pdfengine implements engine.Engine on the raw object model: it reads
// text, redacts it, inserts HTML boxes and writes the result.
package pdfengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfnormalize/engine"
	"github.com/wudi/pdfnormalize/filters"
	"github.com/wudi/pdfnormalize/ir/raw"
	"github.com/wudi/pdfnormalize/observability"
	"github.com/wudi/pdfnormalize/parser"
)

var (
	// ErrEncrypted is returned when opening an encrypted document.
	ErrEncrypted = errors.New("encrypted documents are not supported")
	// ErrNoPages is returned when the page tree yields no pages.
	ErrNoPages = errors.New("document has no pages")
)

// Engine opens PDFs.
type Engine struct {
	logger  observability.Logger
	filters *filters.Pipeline
}

type Option func(*Engine)

func WithLogger(l observability.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		logger:  observability.NopLogger{},
		filters: filters.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open parses data. The slice is read, never written.
func (e *Engine) Open(ctx context.Context, data []byte) (engine.Document, error) {
	rawDoc, err := parser.NewDocumentParser(parser.Config{
		Filters: e.filters,
		Logger:  e.logger,
	}).Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	if rawDoc.Encrypted {
		return nil, ErrEncrypted
	}
	doc := &Document{
		raw:          rawDoc,
		filters:      e.filters,
		logger:       e.logger,
		decodedCache: make(map[raw.ObjectRef][]byte),
		fonts:        make(map[raw.ObjectRef]*font),
		embedded:     make(map[faceKey]*embeddedFont),
	}
	for ref := range rawDoc.Objects {
		if ref.Num > doc.nextNum {
			doc.nextNum = ref.Num
		}
	}
	if err := doc.loadPages(); err != nil {
		return nil, err
	}
	e.logger.Debug("document opened",
		observability.Int("pages", len(doc.pages)),
		observability.Int("objects", len(rawDoc.Objects)),
		observability.String("version", rawDoc.Version))
	return doc, nil
}

// Document is an open PDF. It is not safe for concurrent use.
type Document struct {
	raw          *raw.Document
	filters      *filters.Pipeline
	logger       observability.Logger
	pages        []*Page
	nextNum      int
	closed       bool
	decodedCache map[raw.ObjectRef][]byte
	fonts        map[raw.ObjectRef]*font
	embedded     map[faceKey]*embeddedFont
}

func (d *Document) NumPages() int { return len(d.pages) }

func (d *Document) Page(index int) (engine.Page, error) {
	if d.closed {
		return nil, engine.ErrClosed
	}
	if index < 0 || index >= len(d.pages) {
		return nil, fmt.Errorf("page %d of %d: %w", index, len(d.pages), engine.ErrPageRange)
	}
	return d.pages[index], nil
}

// Close drops the parsed objects.
func (d *Document) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.raw = nil
	d.pages = nil
	d.decodedCache = nil
	d.fonts = nil
	return nil
}

// loadPages walks the page tree, resolving inherited attributes.
func (d *Document) loadPages() error {
	if d.raw.Trailer == nil {
		return errors.New("missing trailer")
	}
	rootRef, _ := d.raw.Trailer.Get(raw.NameLiteral("Root"))
	root := d.dict(rootRef)
	if root == nil {
		return errors.New("missing document catalog")
	}
	pagesRef := root.KV["Pages"]
	seen := make(map[raw.ObjectRef]bool)
	if err := d.walkPages(pagesRef, inherited{}, seen, 0); err != nil {
		return err
	}
	if len(d.pages) == 0 {
		return ErrNoPages
	}
	return nil
}

type inherited struct {
	resources raw.Object
	mediaBox  raw.Object
	cropBox   raw.Object
	rotate    raw.Object
}

func (d *Document) walkPages(node raw.Object, inh inherited, seen map[raw.ObjectRef]bool, depth int) error {
	if depth > 64 {
		return errors.New("page tree too deep")
	}
	var ref raw.ObjectRef
	if r, ok := node.(raw.Reference); ok {
		ref = r.Ref()
		if seen[ref] {
			return fmt.Errorf("page tree cycle at %v", ref)
		}
		// Only ancestors count; a page some producer lists twice is read twice.
		seen[ref] = true
		defer delete(seen, ref)
	}
	dict := d.dict(node)
	if dict == nil {
		return fmt.Errorf("page tree node %v is not a dictionary", node)
	}
	if v, ok := dict.KV["Resources"]; ok {
		inh.resources = v
	}
	if v, ok := dict.KV["MediaBox"]; ok {
		inh.mediaBox = v
	}
	if v, ok := dict.KV["CropBox"]; ok {
		inh.cropBox = v
	}
	if v, ok := dict.KV["Rotate"]; ok {
		inh.rotate = v
	}

	kids := d.array(dict.KV["Kids"])
	if d.getName(dict, "Type") == "Page" || kids == nil {
		d.pages = append(d.pages, d.newPage(len(d.pages), ref, dict, inh))
		return nil
	}
	for _, kid := range kids.Items {
		if err := d.walkPages(kid, inh, seen, depth+1); err != nil {
			return err
		}
	}
	return nil
}

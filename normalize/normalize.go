// Package normalize runs the extract-then-render round trip over a PDF.
package normalize

import (
	"context"
	"fmt"
	"time"

	"github.com/wudi/pdfnormalize/engine"
	"github.com/wudi/pdfnormalize/extract"
	"github.com/wudi/pdfnormalize/observability"
	"github.com/wudi/pdfnormalize/pdfengine"
	"github.com/wudi/pdfnormalize/render"
	"github.com/wudi/pdfnormalize/textblock"
)

// Config wires the pipeline. Zero fields take the defaults of DefaultConfig.
type Config struct {
	Engine engine.Engine
	Logger observability.Logger
	Tracer observability.Tracer
	Style  render.Style
	// Save defaults to engine.MaxCompaction when nil.
	Save *engine.SaveOptions
}

// DefaultConfig uses the in-tree PDF engine, Arial 12pt and maximal compaction.
func DefaultConfig() Config {
	save := engine.MaxCompaction
	return Config{
		Engine: pdfengine.New(),
		Logger: observability.NopLogger{},
		Tracer: observability.NopTracer(),
		Style:  render.DefaultStyle,
		Save:   &save,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.Engine == nil {
		c.Engine = pdfengine.New(pdfengine.WithLogger(c.Logger))
	}
	if c.Tracer == nil {
		c.Tracer = d.Tracer
	}
	if c.Style == (render.Style{}) {
		c.Style = d.Style
	}
	if c.Save == nil {
		c.Save = d.Save
	}
	return c
}

// Result is the outcome of one run.
type Result struct {
	Output        []byte
	Blocks        []textblock.Block
	SkippedBlocks int
}

// Pipeline runs extraction then rendering on the same input.
type Pipeline struct {
	cfg       Config
	extractor *extract.Extractor
	renderer  *render.Renderer
}

func New(cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:       cfg,
		extractor: extract.New(cfg.Engine, extract.WithLogger(cfg.Logger)),
		renderer: render.New(cfg.Engine,
			render.WithLogger(cfg.Logger),
			render.WithStyle(cfg.Style),
			render.WithSaveOptions(*cfg.Save)),
	}
}

// Run extracts the text blocks of input and renders them back into a fresh copy
// of it. input is not modified.
func (p *Pipeline) Run(ctx context.Context, input []byte) (*Result, error) {
	blocks, err := p.Extract(ctx, input)
	if err != nil {
		return nil, err
	}
	return p.Render(ctx, input, blocks)
}

// Extract is the first half of Run.
func (p *Pipeline) Extract(ctx context.Context, input []byte) ([]textblock.Block, error) {
	ctx, span := p.cfg.Tracer.StartSpan(ctx, "normalize.extract")
	defer span.Finish()
	start := time.Now()
	blocks, err := p.extractor.Extract(ctx, input)
	span.SetTag(observability.MetricExtractTime, time.Since(start))
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("extract blocks: %w", err)
	}
	span.SetTag(observability.MetricBlockCount, len(blocks))
	return blocks, nil
}

// Render is the second half of Run: it writes blocks into a fresh copy of input.
func (p *Pipeline) Render(ctx context.Context, input []byte, blocks []textblock.Block) (*Result, error) {
	ctx, span := p.cfg.Tracer.StartSpan(ctx, "normalize.render")
	defer span.Finish()
	start := time.Now()
	res, err := p.renderer.Render(ctx, input, blocks)
	span.SetTag(observability.MetricRenderTime, time.Since(start))
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("render blocks: %w", err)
	}
	span.SetTag(observability.MetricSaveTime, res.SaveTime)
	span.SetTag(observability.MetricPageCount, res.Pages)
	span.SetTag(observability.MetricSkippedBlocks, res.SkippedBlocks)
	return &Result{Output: res.Output, Blocks: blocks, SkippedBlocks: res.SkippedBlocks}, nil
}

// ProcessDocument runs the default pipeline and returns the rendered PDF.
func ProcessDocument(ctx context.Context, input []byte) ([]byte, error) {
	res, err := New(Config{}).Run(ctx, input)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

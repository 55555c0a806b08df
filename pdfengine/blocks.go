package pdfengine

import (
	"math"
	"strings"

	"github.com/wudi/pdfnormalize/engine"
	"github.com/wudi/pdfnormalize/textblock"
)

// Layout tolerances, in multiples of the font size.
const (
	lineJoinAcross  = 0.5 // baseline offset still on the same line
	lineJoinBehind  = 0.5 // overlap with the previous glyph still on the same line
	lineJoinAhead   = 3.0 // gap that still continues the line
	spaceGap        = 0.15
	blockJoinGap    = 1.0 // vertical gap between lines of one block
	angleTolerance  = 0.05
	clipTolerance   = 1.0 // points outside the crop box still counted
	fontSizeEpsilon = 0.01
)

type lineBuilder struct {
	spans []engine.Span
	bbox  textblock.Rect
	last  *glyph
	angle float64
	size  float64
}

type blockBuilder struct {
	lines []engine.Line
	bbox  textblock.Rect
	angle float64
	size  float64
}

type entryBuilder struct {
	page    *Page
	entries []engine.Entry
	line    *lineBuilder
	block   *blockBuilder
}

// buildEntries groups the glyphs of a trace into text blocks, in content order.
// An image ends the current text block.
func (p *Page) buildEntries(tr *contentTrace) []engine.Entry {
	b := &entryBuilder{page: p}
	b.walk(tr)
	b.flushBlock()
	return b.entries
}

func (b *entryBuilder) walk(tr *contentTrace) {
	for _, ev := range tr.events {
		switch {
		case ev.show != nil:
			for i := range ev.show.glyphs {
				b.addGlyph(&ev.show.glyphs[i])
			}
		case ev.image != nil:
			b.flushBlock()
			r := b.page.pageRect(ev.image.box)
			b.entries = append(b.entries, &engine.ImageEntry{BBox: r, Width: ev.image.width, Height: ev.image.height})
		case ev.form != nil:
			b.walk(ev.form.content)
		}
	}
}

func (b *entryBuilder) visible(g *glyph) bool {
	if g.text == "" {
		return false
	}
	cx, cy := g.center()
	box := b.page.box
	return cx >= box.X0-clipTolerance && cx <= box.X1+clipTolerance && cy >= box.Y0-clipTolerance && cy <= box.Y1+clipTolerance
}

func (b *entryBuilder) addGlyph(g *glyph) {
	if !b.visible(g) {
		return
	}
	l := b.line
	if l != nil && !continuesLine(l, g) {
		b.flushLine()
		l = nil
	}
	if l == nil {
		l = &lineBuilder{angle: g.baseline, size: g.size}
		b.line = l
	} else if gapAhead(l.last, g) > spaceGap*g.size && !endsWithSpace(l) && !strings.HasPrefix(g.text, " ") {
		l.appendText(" ", g, b.page.pageRect(g.box))
	}
	l.appendText(g.text, g, b.page.pageRect(g.box))
	l.last = g
	if g.size > l.size {
		l.size = g.size
	}
}

// gapAhead is the distance along the baseline from the previous glyph's pen
// position to g's origin; across is the perpendicular offset.
func gapAhead(prev, g *glyph) float64 {
	along, _ := project(prev, g)
	return along
}

func project(prev, g *glyph) (along, across float64) {
	dx, dy := g.originX-prev.endX, g.originY-prev.endY
	cos, sin := math.Cos(prev.baseline), math.Sin(prev.baseline)
	return dx*cos + dy*sin, -dx*sin + dy*cos
}

func continuesLine(l *lineBuilder, g *glyph) bool {
	if math.Abs(g.baseline-l.angle) > angleTolerance {
		return false
	}
	along, across := project(l.last, g)
	size := math.Max(l.last.size, g.size)
	return math.Abs(across) < lineJoinAcross*size && along > -lineJoinBehind*size && along < lineJoinAhead*size
}

func endsWithSpace(l *lineBuilder) bool {
	if len(l.spans) == 0 {
		return false
	}
	return strings.HasSuffix(l.spans[len(l.spans)-1].Text, " ")
}

func (l *lineBuilder) appendText(text string, g *glyph, box textblock.Rect) {
	n := len(l.spans)
	if n == 0 || l.spans[n-1].Font != g.font || math.Abs(l.spans[n-1].Size-g.size) > fontSizeEpsilon {
		l.spans = append(l.spans, engine.Span{Font: g.font, Size: g.size})
		n++
	}
	sp := &l.spans[n-1]
	sp.Text += text
	sp.BBox = sp.BBox.Union(box)
	l.bbox = l.bbox.Union(box)
}

func (b *entryBuilder) flushLine() {
	l := b.line
	b.line = nil
	if l == nil || len(l.spans) == 0 {
		return
	}
	line := engine.Line{BBox: l.bbox, Spans: l.spans}
	if b.block != nil && !joinsBlock(b.block, l) {
		b.flushBlock()
	}
	if b.block == nil {
		b.block = &blockBuilder{angle: l.angle, size: l.size}
	}
	b.block.lines = append(b.block.lines, line)
	b.block.bbox = b.block.bbox.Union(l.bbox)
	b.block.size = l.size
}

// joinsBlock decides whether a new line continues the current block: same
// direction, starting just below the previous line and overlapping it
// horizontally. Coordinates are in page space (y down).
func joinsBlock(blk *blockBuilder, l *lineBuilder) bool {
	if math.Abs(blk.angle-l.angle) > angleTolerance || len(blk.lines) == 0 {
		return false
	}
	prev := blk.lines[len(blk.lines)-1].BBox
	size := math.Max(blk.size, l.size)
	gap := l.bbox.Y0 - prev.Y1
	if gap > blockJoinGap*size || l.bbox.Y1 <= prev.Y1 {
		return false
	}
	return l.bbox.X0 < blk.bbox.X1+size && l.bbox.X1 > blk.bbox.X0-size
}

func (b *entryBuilder) flushBlock() {
	b.flushLine()
	blk := b.block
	b.block = nil
	if blk == nil || len(blk.lines) == 0 {
		return
	}
	b.entries = append(b.entries, &engine.TextEntry{BBox: blk.bbox, Lines: blk.lines})
}

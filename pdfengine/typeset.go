package pdfengine

import (
	"math"

	"github.com/go-text/typesetting/segmenter"
	"golang.org/x/text/unicode/norm"
)

const (
	lineHeightFactor = 1.2
	minScale         = 1e-3
	scaleSteps       = 24
)

type textStyle struct {
	face  faceKey
	size  float64
	color [3]float64
}

// textRun is a piece of text in one style.
type textRun struct {
	text  string
	style textStyle
}

type paragraph struct {
	runs  []textRun
	align string
}

// laidGlyph is one character with its style, as fed to the line breaker. r is
// the source rune, which may differ from the drawn glyph's.
type laidGlyph struct {
	r     rune
	g     faceGlyph
	style int
	width float64
}

type lineRun struct {
	glyphs []faceGlyph
	style  textStyle
	x      float64
	width  float64
}

// text is the run as it reads back from the page.
func (r lineRun) text() string {
	out := make([]rune, len(r.glyphs))
	for i, g := range r.glyphs {
		out[i] = g.r
	}
	return string(out)
}

type laidLine struct {
	runs     []lineRun
	width    float64
	height   float64
	baseline float64 // from the top of the layout
}

type layout struct {
	lines  []laidLine
	width  float64
	height float64
}

// typeset breaks paragraphs into lines no wider than maxWidth where possible.
// Words wider than maxWidth overflow, which the caller sees in layout.width.
func typeset(paras []paragraph, maxWidth float64) (*layout, error) {
	out := &layout{}
	var seg segmenter.Segmenter
	for _, para := range paras {
		var glyphs []laidGlyph
		var styles []textStyle
		var faces []*typeface
		for _, run := range para.runs {
			tf, err := loadTypeface(run.style.face)
			if err != nil {
				return nil, err
			}
			styles = append(styles, run.style)
			faces = append(faces, tf)
			for _, r := range norm.NFC.String(run.text) {
				g := tf.glyph(r)
				glyphs = append(glyphs, laidGlyph{
					r:     r,
					g:     g,
					style: len(styles) - 1,
					width: g.width * run.style.size / 1000,
				})
			}
		}
		if len(glyphs) == 0 {
			out.addEmptyLine(styles, faces)
			continue
		}

		runes := make([]rune, len(glyphs))
		for i, g := range glyphs {
			runes[i] = g.r
		}
		seg.Init(runes)
		it := seg.LineIterator()
		var line []laidGlyph
		var lineWidth float64
		for it.Next() {
			chunk := it.Line()
			piece := glyphs[chunk.Offset : chunk.Offset+len(chunk.Text)]
			w, trimmed := pieceWidth(piece)
			if len(line) > 0 && lineWidth+trimmed > maxWidth {
				out.addLine(line, styles, faces, para.align, maxWidth)
				line, lineWidth = nil, 0
			}
			line = append(line, piece...)
			lineWidth += w
			if chunk.IsMandatoryBreak {
				out.addLine(line, styles, faces, para.align, maxWidth)
				line, lineWidth = nil, 0
			}
		}
		if len(line) > 0 {
			out.addLine(line, styles, faces, para.align, maxWidth)
		}
	}
	return out, nil
}

// pieceWidth returns the width of a break-delimited piece with and without its
// trailing spaces.
func pieceWidth(piece []laidGlyph) (full, trimmed float64) {
	end := len(piece)
	for end > 0 && piece[end-1].r == ' ' {
		end--
	}
	for i, g := range piece {
		full += g.width
		if i < end {
			trimmed += g.width
		}
	}
	return full, trimmed
}

func (l *layout) addLine(glyphs []laidGlyph, styles []textStyle, faces []*typeface, align string, maxWidth float64) {
	end := len(glyphs)
	for end > 0 && glyphs[end-1].r == ' ' {
		end--
	}
	glyphs = glyphs[:end]

	line := laidLine{}
	var ascent, descent, size float64
	for _, g := range glyphs {
		st := styles[g.style]
		tf := faces[g.style]
		n := len(line.runs)
		if n == 0 || line.runs[n-1].style != st {
			line.runs = append(line.runs, lineRun{style: st, x: line.width})
			n++
		}
		r := &line.runs[n-1]
		r.glyphs = append(r.glyphs, g.g)
		r.width += g.width
		line.width += g.width
		size = math.Max(size, st.size)
		ascent = math.Max(ascent, tf.ascent*st.size/1000)
		descent = math.Min(descent, tf.descent*st.size/1000)
	}
	if len(glyphs) == 0 {
		l.addEmptyLine(styles, faces)
		return
	}
	l.place(&line, size, ascent, descent)

	var shift float64
	switch align {
	case "center":
		shift = (maxWidth - line.width) / 2
	case "right":
		shift = maxWidth - line.width
	}
	if shift > 0 {
		for i := range line.runs {
			line.runs[i].x += shift
		}
	}
	l.lines = append(l.lines, line)
	l.width = math.Max(l.width, line.width)
}

// addEmptyLine keeps the vertical space of a blank line, such as from <br><br>.
func (l *layout) addEmptyLine(styles []textStyle, faces []*typeface) {
	size, ascent, descent := 12.0, 0.0, 0.0
	if len(styles) > 0 {
		size = styles[0].size
		ascent = faces[0].ascent * size / 1000
		descent = faces[0].descent * size / 1000
	}
	line := laidLine{}
	l.place(&line, size, ascent, descent)
	l.lines = append(l.lines, line)
}

// place sets the line's height and baseline, splitting the leading evenly
// above and below the glyphs.
func (l *layout) place(line *laidLine, size, ascent, descent float64) {
	line.height = size * lineHeightFactor
	leading := (line.height - (ascent - descent)) / 2
	line.baseline = l.height + leading + ascent
	l.height += line.height
}

func (l *layout) fits(width, height float64) bool {
	const eps = 1e-6
	return l.width <= width+eps && l.height <= height+eps
}

// fitLayout finds the largest scale in (0,1] at which the text fits a box of
// width x height. It reports ok=false when even the smallest scale overflows.
func fitLayout(paras []paragraph, width, height float64) (*layout, float64, bool, error) {
	if width <= 0 || height <= 0 {
		return nil, 0, false, nil
	}
	lay, err := typeset(paras, width)
	if err != nil {
		return nil, 0, false, err
	}
	if lay.fits(width, height) {
		return lay, 1, true, nil
	}
	low, err := typeset(paras, width/minScale)
	if err != nil {
		return nil, 0, false, err
	}
	if !low.fits(width/minScale, height/minScale) {
		return nil, 0, false, nil
	}
	lo, hi := minScale, 1.0
	best := low
	for i := 0; i < scaleSteps; i++ {
		mid := (lo + hi) / 2
		cand, err := typeset(paras, width/mid)
		if err != nil {
			return nil, 0, false, err
		}
		if cand.fits(width/mid, height/mid) {
			lo, best = mid, cand
		} else {
			hi = mid
		}
	}
	return best, lo, true, nil
}

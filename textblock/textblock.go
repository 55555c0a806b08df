// Package textblock holds the positional text blocks passed from extraction to
// rendering, and the string form of their bounding boxes.
package textblock

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidRect reports a bounding-box string that is not four comma-separated numbers.
var ErrInvalidRect = errors.New("invalid bounding box")

// Rect is an axis-aligned rectangle in page space (origin top-left, y down).
type Rect struct {
	X0, Y0, X1, Y1 float64
}

// NewRect returns the rectangle spanned by the two corners, normalized so that
// X0<=X1 and Y0<=Y1.
func NewRect(x0, y0, x1, y1 float64) Rect {
	return Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}.Normalize()
}

func (r Rect) Normalize() Rect {
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r
}

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// IsEmpty reports whether the rectangle has no area.
func (r Rect) IsEmpty() bool { return r.X1 <= r.X0 || r.Y1 <= r.Y0 }

// Union returns the smallest rectangle containing both. The zero Rect is treated
// as absent.
func (r Rect) Union(o Rect) Rect {
	if r == (Rect{}) {
		return o
	}
	if o == (Rect{}) {
		return r
	}
	return Rect{
		X0: math.Min(r.X0, o.X0),
		Y0: math.Min(r.Y0, o.Y0),
		X1: math.Max(r.X1, o.X1),
		Y1: math.Max(r.Y1, o.Y1),
	}
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.X0 >= r.X0 && o.X1 <= r.X1 && o.Y0 >= r.Y0 && o.Y1 <= r.Y1
}

// ContainsPoint reports whether (x, y) lies inside r, edges included.
func (r Rect) ContainsPoint(x, y float64) bool {
	return x >= r.X0 && x <= r.X1 && y >= r.Y0 && y <= r.Y1
}

// String formats the rectangle as "x0,y0,x1,y1" with two decimals.
func (r Rect) String() string {
	return fmt.Sprintf("%.2f,%.2f,%.2f,%.2f", r.X0, r.Y0, r.X1, r.Y1)
}

// ParseRect parses the String form back into a normalized Rect.
func ParseRect(s string) (Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Rect{}, fmt.Errorf("%w %q: want 4 values, got %d", ErrInvalidRect, s, len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Rect{}, fmt.Errorf("%w %q: %v", ErrInvalidRect, s, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Rect{}, fmt.Errorf("%w %q: non-finite coordinate", ErrInvalidRect, s)
		}
		v[i] = f
	}
	return NewRect(v[0], v[1], v[2], v[3]), nil
}

// Span is one run of text. Styling is not kept.
type Span struct {
	Text string
}

// Block is the text of one positional block on one page.
type Block struct {
	Spans []Span
	Page  int
	BBox  Rect
}

// Text joins the spans with a single space.
func (b Block) Text() string {
	parts := make([]string, len(b.Spans))
	for i, s := range b.Spans {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// Encoded is the serialized form of a Block, with the bounding box as its string form.
type Encoded struct {
	Spans []Span `json:"spans"`
	Page  int    `json:"page"`
	BBox  string `json:"bbox"`
}

// Encode returns the serialized form of b.
func (b Block) Encode() Encoded {
	spans := make([]Span, len(b.Spans))
	copy(spans, b.Spans)
	return Encoded{Spans: spans, Page: b.Page, BBox: b.BBox.String()}
}

// Decode parses the bounding box back into a Block.
func (e Encoded) Decode() (Block, error) {
	if e.Page < 0 {
		return Block{}, fmt.Errorf("block page %d is negative", e.Page)
	}
	r, err := ParseRect(e.BBox)
	if err != nil {
		return Block{}, err
	}
	spans := make([]Span, len(e.Spans))
	copy(spans, e.Spans)
	return Block{Spans: spans, Page: e.Page, BBox: r}, nil
}

// PageGroup is the run of blocks belonging to one page.
type PageGroup struct {
	Page   int
	Blocks []Block
}

// GroupByPage partitions blocks by page. Groups appear in the order their page was
// first seen and keep the relative order of their blocks.
func GroupByPage(blocks []Block) []PageGroup {
	index := make(map[int]int)
	var groups []PageGroup
	for _, b := range blocks {
		i, ok := index[b.Page]
		if !ok {
			i = len(groups)
			index[b.Page] = i
			groups = append(groups, PageGroup{Page: b.Page})
		}
		groups[i].Blocks = append(groups[i].Blocks, b)
	}
	return groups
}

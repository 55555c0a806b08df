package render

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfnormalize/engine"
	"github.com/wudi/pdfnormalize/enginetest"
	"github.com/wudi/pdfnormalize/textblock"
)

func block(page int, bbox string, spans ...string) textblock.Block {
	r, err := textblock.ParseRect(bbox)
	if err != nil {
		panic(err)
	}
	b := textblock.Block{Page: page, BBox: r}
	for _, s := range spans {
		b.Spans = append(b.Spans, textblock.Span{Text: s})
	}
	return b
}

func twoPageEngine() *enginetest.Engine {
	return enginetest.New([]engine.Entry{}, []engine.Entry{})
}

func TestMarkup(t *testing.T) {
	got := DefaultStyle.Markup("Hello World")
	want := `<div style="font-family: Arial; font-size: 12pt;">Hello World</div>`
	if got != want {
		t.Fatalf("Markup = %q, want %q", got, want)
	}
	escaped := DefaultStyle.Markup("a < b & c")
	if !strings.Contains(escaped, "a &lt; b &amp; c") {
		t.Fatalf("text not escaped: %q", escaped)
	}
	if got := (Style{FontFamily: "Courier", FontSizePt: 10.5}).Markup("x"); !strings.Contains(got, "font-size: 10.5pt;") {
		t.Fatalf("fractional size lost: %q", got)
	}
}

func TestRenderBatchesRedactionsPerPage(t *testing.T) {
	eng := twoPageEngine()
	blocks := []textblock.Block{
		block(1, "0,0,10,10", "a"),
		block(0, "5,5,20,20", "b"),
		block(1, "10,10,30,30", "c", "d"),
	}

	res, err := New(eng).Render(context.Background(), []byte("%PDF"), blocks)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	var got []string
	for _, c := range eng.Calls() {
		switch c.Op {
		case enginetest.OpRedact, enginetest.OpInsert:
			got = append(got, c.Op+" "+string(rune('0'+c.Page))+" "+c.Rect.String())
		case enginetest.OpApply:
			got = append(got, c.Op+" "+string(rune('0'+c.Page)))
		default:
			got = append(got, c.Op)
		}
	}
	want := []string{
		"open",
		"redact 1 0.00,0.00,10.00,10.00",
		"redact 1 10.00,10.00,30.00,30.00",
		"apply 1",
		"insert 1 0.00,0.00,10.00,10.00",
		"insert 1 10.00,10.00,30.00,30.00",
		"redact 0 5.00,5.00,20.00,20.00",
		"apply 0",
		"insert 0 5.00,5.00,20.00,20.00",
		"save",
		"close",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("call order mismatch (-want +got):\n%s", diff)
	}

	inserts := eng.CallsOf(enginetest.OpInsert)
	if !strings.Contains(inserts[1].HTML, ">c d</div>") {
		t.Fatalf("spans should be joined with a space: %q", inserts[1].HTML)
	}
	if res.Pages != 2 || res.Inserted != 3 || res.Erased != 3 || res.SkippedBlocks != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Output) == 0 {
		t.Fatalf("expected output bytes")
	}
	if eng.OpenHandles() != 0 {
		t.Fatalf("document left open")
	}
}

func TestRenderSkipsOutOfRangePages(t *testing.T) {
	eng := enginetest.New([]engine.Entry{})
	blocks := []textblock.Block{block(3, "0,0,1,1", "gone"), block(0, "0,0,1,1", "here"), block(3, "1,1,2,2", "gone too")}

	res, err := New(eng).Render(context.Background(), nil, blocks)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.SkippedBlocks != 2 || res.Pages != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, c := range eng.Calls() {
		if c.Page == 3 {
			t.Fatalf("out of range page touched: %+v", c)
		}
	}
}

func TestRenderEmptyBlocksOnlySaves(t *testing.T) {
	eng := enginetest.New([]engine.Entry{enginetest.Image(textblock.NewRect(0, 0, 5, 5))})
	res, err := New(eng).Render(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	var ops []string
	for _, c := range eng.Calls() {
		ops = append(ops, c.Op)
	}
	if diff := cmp.Diff([]string{"open", "save", "close"}, ops); diff != "" {
		t.Fatalf("unexpected calls (-want +got):\n%s", diff)
	}
	if saves := eng.CallsOf(enginetest.OpSave); saves[0].Save != engine.MaxCompaction {
		t.Fatalf("expected maximal compaction, got %+v", saves[0].Save)
	}
	if len(res.Output) == 0 {
		t.Fatalf("expected saved bytes")
	}
}

func TestRenderEncodedRejectsBadBBox(t *testing.T) {
	eng := enginetest.New([]engine.Entry{})
	_, err := New(eng).RenderEncoded(context.Background(), nil, []textblock.Encoded{{Page: 0, BBox: "1,2,x,4"}})
	if !errors.Is(err, textblock.ErrInvalidRect) {
		t.Fatalf("expected ErrInvalidRect, got %v", err)
	}
	if len(eng.Calls()) != 0 {
		t.Fatalf("engine must not be touched for invalid input")
	}
}

func TestRenderEncoded(t *testing.T) {
	eng := enginetest.New([]engine.Entry{})
	enc := []textblock.Encoded{{Page: 0, BBox: "10.00,20.00,110.00,40.00", Spans: []textblock.Span{{Text: "Hello World"}}}}
	res, err := New(eng).RenderEncoded(context.Background(), nil, enc)
	if err != nil {
		t.Fatalf("RenderEncoded: %v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("expected one insert, got %+v", res)
	}
	if got := eng.CallsOf(enginetest.OpInsert)[0].Rect; got != textblock.NewRect(10, 20, 110, 40) {
		t.Fatalf("insert rect = %v", got)
	}
}

func TestRenderFailuresCloseDocument(t *testing.T) {
	for _, op := range []string{enginetest.OpRedact, enginetest.OpApply, enginetest.OpInsert, enginetest.OpSave} {
		t.Run(op, func(t *testing.T) {
			boom := errors.New(op + " failed")
			eng := enginetest.New([]engine.Entry{})
			eng.Fail = func(c enginetest.Call) error {
				if c.Op == op {
					return boom
				}
				return nil
			}
			res, err := New(eng).Render(context.Background(), nil, []textblock.Block{block(0, "0,0,1,1", "x")})
			if !errors.Is(err, boom) {
				t.Fatalf("expected %v, got %v", boom, err)
			}
			if res != nil {
				t.Fatalf("no partial result expected")
			}
			if eng.OpenHandles() != 0 {
				t.Fatalf("document left open")
			}
			if op != enginetest.OpApply && op != enginetest.OpSave {
				return
			}
			if n := len(eng.CallsOf(enginetest.OpInsert)); op == enginetest.OpApply && n != 0 {
				t.Fatalf("inserted text after failed apply")
			}
		})
	}
}

func TestRenderCustomStyleAndSave(t *testing.T) {
	eng := enginetest.New([]engine.Entry{})
	opts := engine.SaveOptions{Garbage: 1}
	r := New(eng, WithStyle(Style{FontFamily: "monospace", FontSizePt: 9}), WithSaveOptions(opts))
	if _, err := r.Render(context.Background(), nil, []textblock.Block{block(0, "0,0,50,50", "code")}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if html := eng.CallsOf(enginetest.OpInsert)[0].HTML; !strings.Contains(html, "font-family: monospace; font-size: 9pt;") {
		t.Fatalf("style not applied: %q", html)
	}
	if got := eng.CallsOf(enginetest.OpSave)[0].Save; got != opts {
		t.Fatalf("save options = %+v", got)
	}

	if _, err := New(eng, WithSaveOptions(engine.SaveOptions{Garbage: 9})).Render(context.Background(), nil, nil); err == nil {
		t.Fatalf("invalid save options should fail")
	}
}

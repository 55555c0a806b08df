package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfnormalize/engine"
	"github.com/wudi/pdfnormalize/enginetest"
	"github.com/wudi/pdfnormalize/textblock"
)

func TestExtractHelloWorld(t *testing.T) {
	eng := enginetest.New([]engine.Entry{
		enginetest.TextBlock(textblock.NewRect(10, 20, 110, 40), []string{"Hello", " World"}),
	})

	blocks, err := New(eng).Extract(context.Background(), []byte("%PDF"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := []textblock.Block{{
		Spans: []textblock.Span{{Text: "Hello World"}},
		Page:  0,
		BBox:  textblock.NewRect(10, 20, 110, 40),
	}}
	if diff := cmp.Diff(want, blocks); diff != "" {
		t.Fatalf("blocks mismatch (-want +got):\n%s", diff)
	}
	if got := blocks[0].BBox.String(); got != "10.00,20.00,110.00,40.00" {
		t.Fatalf("bbox string %q", got)
	}
	if eng.OpenHandles() != 0 {
		t.Fatalf("document left open")
	}
}

func TestExtractMergesLines(t *testing.T) {
	eng := enginetest.New([]engine.Entry{
		enginetest.TextBlock(textblock.NewRect(0, 0, 100, 100),
			[]string{"  first", " line "},
			[]string{"   "},
			[]string{"second"},
			[]string{},
		),
	})
	blocks, err := New(eng).Extract(context.Background(), nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if got, want := blocks[0].Spans[0].Text, "first line \nsecond"; got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
}

func TestExtractSkipsWhitespaceAndImages(t *testing.T) {
	eng := enginetest.New(
		[]engine.Entry{
			enginetest.TextBlock(textblock.NewRect(0, 0, 10, 10), []string{" ", "\t"}, []string{"\n"}),
			enginetest.Image(textblock.NewRect(0, 0, 50, 50)),
		},
		[]engine.Entry{
			enginetest.Image(textblock.NewRect(1, 1, 2, 2)),
			enginetest.TextBlock(textblock.NewRect(5, 5, 6, 6), []string{"kept"}),
		},
	)
	blocks, err := New(eng).Extract(context.Background(), nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Page != 1 || blocks[0].Spans[0].Text != "kept" {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
	if got := len(eng.CallsOf(enginetest.OpBlocks)); got != 2 {
		t.Fatalf("expected every page to be read, got %d", got)
	}
}

func TestExtractImageOnlyDocument(t *testing.T) {
	eng := enginetest.New([]engine.Entry{enginetest.Image(textblock.NewRect(0, 0, 100, 100))})
	blocks, err := New(eng).Extract(context.Background(), nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(blocks) != 0 {
		t.Fatalf("expected no blocks, got %d", len(blocks))
	}
}

func TestExtractKeepsZeroBBox(t *testing.T) {
	eng := enginetest.New([]engine.Entry{enginetest.TextBlock(textblock.Rect{}, []string{"x"})})
	blocks, err := New(eng).Extract(context.Background(), nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got := blocks[0].BBox.String(); got != "0.00,0.00,0.00,0.00" {
		t.Fatalf("bbox = %q", got)
	}
}

type strangeEntry struct{ engine.TextEntry }

func TestExtractRejectsUnknownEntry(t *testing.T) {
	eng := enginetest.New([]engine.Entry{&strangeEntry{}})
	_, err := New(eng).Extract(context.Background(), nil)
	if !errors.Is(err, engine.ErrUnexpectedEntry) {
		t.Fatalf("expected ErrUnexpectedEntry, got %v", err)
	}
	if eng.OpenHandles() != 0 {
		t.Fatalf("document left open after failure")
	}
}

func TestExtractClosesOnError(t *testing.T) {
	boom := errors.New("decode failure")
	eng := enginetest.New(
		[]engine.Entry{enginetest.TextBlock(textblock.NewRect(0, 0, 1, 1), []string{"a"})},
		[]engine.Entry{enginetest.TextBlock(textblock.NewRect(0, 0, 1, 1), []string{"b"})},
	)
	eng.Fail = func(c enginetest.Call) error {
		if c.Op == enginetest.OpBlocks && c.Page == 1 {
			return boom
		}
		return nil
	}
	blocks, err := New(eng).Extract(context.Background(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped failure, got %v", err)
	}
	if blocks != nil {
		t.Fatalf("no partial output expected, got %d blocks", len(blocks))
	}
	if eng.OpenHandles() != 0 {
		t.Fatalf("document left open after failure")
	}
	calls := eng.Calls()
	if calls[len(calls)-1].Op != enginetest.OpClose {
		t.Fatalf("last call should be close, got %q", calls[len(calls)-1].Op)
	}
}

func TestExtractOpenFailure(t *testing.T) {
	eng := enginetest.New()
	eng.Fail = func(c enginetest.Call) error {
		if c.Op == enginetest.OpOpen {
			return errors.New("not a pdf")
		}
		return nil
	}
	if _, err := New(eng).Extract(context.Background(), []byte("junk")); err == nil {
		t.Fatalf("expected open failure")
	}
	if len(eng.CallsOf(enginetest.OpClose)) != 0 {
		t.Fatalf("close must not be called for a failed open")
	}
}

func TestExtractReportsCloseError(t *testing.T) {
	eng := enginetest.New([]engine.Entry{enginetest.TextBlock(textblock.NewRect(0, 0, 1, 1), []string{"a"})})
	eng.Fail = func(c enginetest.Call) error {
		if c.Op == enginetest.OpClose {
			return errors.New("close failed")
		}
		return nil
	}
	if _, err := New(eng).Extract(context.Background(), nil); err == nil {
		t.Fatalf("expected close error to surface")
	}
}

func TestExtractHonoursCancellation(t *testing.T) {
	eng := enginetest.New([]engine.Entry{}, []engine.Entry{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(eng).Extract(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

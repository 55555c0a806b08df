package pdfengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ledongthuc/pdf"

	"github.com/wudi/pdfnormalize/engine"
	"github.com/wudi/pdfnormalize/enginetest"
	"github.com/wudi/pdfnormalize/textblock"
)

func saveBytes(t *testing.T, doc *Document, opts engine.SaveOptions) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := doc.Save(context.Background(), &buf, opts); err != nil {
		t.Fatalf("save %+v: %v", opts, err)
	}
	return buf.Bytes()
}

// plainText reads a file back with an independent PDF reader.
func plainText(t *testing.T, data []byte) string {
	t.Helper()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("independent reader: %v", err)
	}
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			t.Fatalf("page %d text: %v", i, err)
		}
		b.WriteString(text)
	}
	return b.String()
}

func TestSaveRoundTrip(t *testing.T) {
	for _, opts := range []engine.SaveOptions{{}, {Garbage: 1}, {Garbage: 2, Deflate: true}, engine.MaxCompaction} {
		t.Run(fmt.Sprintf("garbage%d_deflate%v", opts.Garbage, opts.Deflate), func(t *testing.T) {
			doc := openPDF(t, enginetest.HelloWorldPDF())
			out := saveBytes(t, doc, opts)
			if !bytes.HasPrefix(out, []byte("%PDF-1.7\n")) {
				t.Fatalf("header = %q", out[:12])
			}
			again := openPDF(t, out)
			entries := blocksOf(t, pageOf(t, again, 0))
			if len(entries) != 1 || entryText(entries[0]) != "Hello World" {
				t.Fatalf("entries = %+v", entries)
			}
			if got := plainText(t, out); !strings.Contains(got, "Hello World") {
				t.Fatalf("independent reader saw %q", got)
			}
		})
	}
}

func TestSaveDropsUnreachableObjects(t *testing.T) {
	p := enginetest.NewPDF()
	p.Add("<< /Orphan true >>")
	f := p.StandardFont("Courier")
	p.AddPage("BT /F1 10 Tf 72 700 Td (kept) Tj ET", fmt.Sprintf("/Font << /F1 %d 0 R >>", f))
	doc := openPDF(t, p.Bytes())

	if out := saveBytes(t, doc, engine.SaveOptions{}); !bytes.Contains(out, []byte("/Orphan true")) {
		t.Fatalf("level 0 dropped an object")
	}
	sparse := saveBytes(t, doc, engine.SaveOptions{Garbage: 1})
	if bytes.Contains(sparse, []byte("/Orphan")) {
		t.Fatalf("level 1 kept the unreachable object")
	}
	if !bytes.Contains(sparse, []byte("0000000000 00001 f \n")) {
		t.Fatalf("level 1 should keep object numbers")
	}
	dense := saveBytes(t, doc, engine.SaveOptions{Garbage: 2})
	if bytes.Count(dense, []byte(" f \n")) != 1 {
		t.Fatalf("level 2 left gaps in the numbering:\n%s", dense)
	}
	if entries := blocksOf(t, pageOf(t, openPDF(t, dense), 0)); len(entries) != 1 || entryText(entries[0]) != "kept" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestSaveDeflatesStreams(t *testing.T) {
	content := "BT /F1 10 Tf 12 TL 72 700 Td\n" + strings.Repeat("(again and again) '\n", 50) + "ET"
	doc := openPDF(t, courierPage(content))

	plain := saveBytes(t, doc, engine.SaveOptions{Garbage: 1})
	if bytes.Contains(plain, []byte("/FlateDecode")) {
		t.Fatalf("stream compressed without deflate")
	}
	packed := saveBytes(t, doc, engine.SaveOptions{Garbage: 1, Deflate: true})
	if !bytes.Contains(packed, []byte("/Filter /FlateDecode")) {
		t.Fatalf("stream not compressed")
	}
	if len(packed) >= len(plain) {
		t.Fatalf("deflated file is not smaller: %d >= %d", len(packed), len(plain))
	}
	entries := blocksOf(t, pageOf(t, openPDF(t, packed), 0))
	if len(entries) != 1 || !strings.HasPrefix(entryText(entries[0]), "again and again") {
		t.Fatalf("entries = %+v", entries)
	}
	// the open document keeps its uncompressed stream
	data, err := pageOf(t, doc, 0).content(context.Background())
	if err != nil || strings.TrimSuffix(string(data), "\n") != content {
		t.Fatalf("open document changed: %v", err)
	}
}

func twinPages() []byte {
	p := enginetest.NewPDF()
	f := p.StandardFont("Courier")
	res := fmt.Sprintf("/Font << /F1 %d 0 R >>", f)
	p.AddPage("BT /F1 10 Tf 72 700 Td (twin) Tj ET", res)
	p.AddPage("BT /F1 10 Tf 72 700 Td (twin) Tj ET", res)
	return p.Bytes()
}

func TestSaveMergesDuplicates(t *testing.T) {
	doc := openPDF(t, twinPages())
	before := len(doc.raw.Objects)

	two := saveBytes(t, doc, engine.SaveOptions{Garbage: 2})
	if n := bytes.Count(two, []byte("endstream")); n != 2 {
		t.Fatalf("level 2 streams = %d", n)
	}
	three := saveBytes(t, doc, engine.SaveOptions{Garbage: 3})
	if n := bytes.Count(three, []byte("endstream")); n != 1 {
		t.Fatalf("level 3 streams = %d", n)
	}
	if n := bytes.Count(three, []byte("/Type /Page>>")); n != 2 {
		t.Fatalf("level 3 pages = %d", n)
	}
	four := saveBytes(t, doc, engine.SaveOptions{Garbage: 4})
	if n := bytes.Count(four, []byte("/Type /Page>>")); n != 2 {
		t.Fatalf("level 4 pages = %d", n)
	}

	merged := openPDF(t, four)
	if merged.NumPages() != 2 {
		t.Fatalf("merged pages = %d", merged.NumPages())
	}
	for i := 0; i < 2; i++ {
		if entries := blocksOf(t, pageOf(t, merged, i)); len(entries) != 1 || entryText(entries[0]) != "twin" {
			t.Fatalf("page %d entries = %+v", i, entries)
		}
	}

	// merging works on copies
	if len(doc.raw.Objects) != before {
		t.Fatalf("open document lost objects")
	}
	first, second := pageOf(t, doc, 0).dict.KV["Contents"], pageOf(t, doc, 1).dict.KV["Contents"]
	if first == second {
		t.Fatalf("open document pages now share content %v", first)
	}
}

func TestSaveKeepsIdenticalBlankPagesApart(t *testing.T) {
	p := enginetest.NewPDF()
	p.AddPage("", "")
	p.AddPage("", "")
	doc := openPDF(t, p.Bytes())

	out := saveBytes(t, doc, engine.MaxCompaction)
	r, err := pdf.NewReader(bytes.NewReader(out), int64(len(out)))
	if err != nil {
		t.Fatalf("independent reader: %v", err)
	}
	if r.NumPage() != 2 {
		t.Fatalf("independent reader pages = %d", r.NumPage())
	}
	again := openPDF(t, out)
	if again.NumPages() != 2 {
		t.Fatalf("pages = %d", again.NumPages())
	}
	first, second := pageOf(t, again, 0).ref, pageOf(t, again, 1).ref
	if first == second {
		t.Fatalf("both pages are object %v", first)
	}
	if n := bytes.Count(out, []byte("endstream")); n != 1 {
		t.Fatalf("identical contents should still merge, streams = %d", n)
	}
}

func TestSaveAfterEdits(t *testing.T) {
	doc := openPDF(t, enginetest.HelloWorldPDF())
	page := pageOf(t, doc, 0)
	box := textblock.Rect{X0: 10, Y0: 20, X1: 110, Y1: 40}
	applyRedactions(t, page, box)
	if _, err := page.InsertHTMLBox(context.Background(), box, "Hello World"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	out := saveBytes(t, doc, engine.MaxCompaction)
	if bytes.Contains(out, []byte("/Redact")) {
		t.Fatalf("redaction annotation saved")
	}
	if bytes.Count(out, []byte("/FontFile2")) != 1 {
		t.Fatalf("expected one embedded font program")
	}
	entries := blocksOf(t, pageOf(t, openPDF(t, out), 0))
	if len(entries) != 1 || entryText(entries[0]) != "Hello World" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestSaveRejectsBadOptionsAndClosedDocuments(t *testing.T) {
	doc := openPDF(t, enginetest.HelloWorldPDF())
	var buf bytes.Buffer
	if err := doc.Save(context.Background(), &buf, engine.SaveOptions{Garbage: 5}); err == nil {
		t.Fatalf("expected error for garbage level 5")
	}
	if buf.Len() != 0 {
		t.Fatalf("wrote %d bytes on error", buf.Len())
	}
	doc.Close()
	if err := doc.Save(context.Background(), &buf, engine.MaxCompaction); !errors.Is(err, engine.ErrClosed) {
		t.Fatalf("save after close: %v", err)
	}
}

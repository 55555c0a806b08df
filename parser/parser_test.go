package parser

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wudi/pdfnormalize/ir/raw"
)

type file struct {
	bytes.Buffer
	offsets map[int]int
}

func newFile(version string) *file {
	f := &file{offsets: map[int]int{}}
	fmt.Fprintf(f, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", version)
	return f
}

func (f *file) obj(num int, body string) {
	f.offsets[num] = f.Len()
	fmt.Fprintf(f, "%d 0 obj\n%s\nendobj\n", num, body)
}

func (f *file) stream(num int, dict string, data []byte) {
	f.offsets[num] = f.Len()
	fmt.Fprintf(f, "%d 0 obj\n<< %s >>\nstream\n", num, dict)
	f.Write(data)
	f.WriteString("\nendstream\nendobj\n")
}

// finish writes a classic table covering objects 1..size-1 and the trailer.
func (f *file) finish(size int, trailer string) []byte {
	start := f.Len()
	fmt.Fprintf(f, "xref\n0 %d\n0000000000 65535 f \n", size)
	for n := 1; n < size; n++ {
		if off, ok := f.offsets[n]; ok {
			fmt.Fprintf(f, "%010d 00000 n \n", off)
		} else {
			f.WriteString("0000000000 00000 f \n")
		}
	}
	fmt.Fprintf(f, "trailer\n<< /Size %d %s >>\nstartxref\n%d\n%%%%EOF\n", size, trailer, start)
	return f.Bytes()
}

func parse(t *testing.T, data []byte) *raw.Document {
	t.Helper()
	doc, err := NewDocumentParser(Config{}).Parse(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func dictAt(t *testing.T, doc *raw.Document, num int) *raw.DictObj {
	t.Helper()
	d, ok := doc.Objects[raw.ObjectRef{Num: num}].(*raw.DictObj)
	if !ok {
		t.Fatalf("object %d = %#v, want a dictionary", num, doc.Objects[raw.ObjectRef{Num: num}])
	}
	return d
}

func TestParseClassic(t *testing.T) {
	f := newFile("1.4")
	f.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	f.obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	f.obj(3, "<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>")
	f.stream(4, "/Length 5 0 R", []byte("BT ET endstream-looking text"))
	f.obj(5, "28")
	doc := parse(t, f.finish(6, "/Root 1 0 R"))

	if doc.Version != "1.4" {
		t.Fatalf("version = %q", doc.Version)
	}
	if doc.Encrypted {
		t.Fatalf("document reported as encrypted")
	}
	if got := dictAt(t, doc, 3).KV["Parent"]; got != raw.Ref(2, 0) {
		t.Fatalf("Parent = %#v", got)
	}
	st, ok := doc.Objects[raw.ObjectRef{Num: 4}].(*raw.StreamObj)
	if !ok {
		t.Fatalf("object 4 is not a stream")
	}
	if string(st.Data) != "BT ET endstream-looking text" {
		t.Fatalf("stream data = %q", st.Data)
	}
}

func TestParseObjectStream(t *testing.T) {
	// Objects 2 and 3 live in object stream 4, which is flate compressed.
	pages := "<< /Type /Pages /Kids [3 0 R] /Count 1 >> "
	page := "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 10 10] >>"
	header := fmt.Sprintf("2 0 3 %d ", len(pages))
	body := pages + page
	var z bytes.Buffer
	w := zlib.NewWriter(&z)
	w.Write([]byte(header + body))
	w.Close()

	f := newFile("1.5")
	f.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	f.stream(4, fmt.Sprintf("/Type /ObjStm /N 2 /First %d /Filter /FlateDecode /Length %d", len(header), z.Len()), z.Bytes())

	rows := []byte{
		0, 0, 0, 0,
		1, byte(f.offsets[1] >> 8), byte(f.offsets[1]), 0,
		2, 0, 4, 0,
		2, 0, 4, 1,
		1, byte(f.offsets[4] >> 8), byte(f.offsets[4]), 0,
	}
	start := f.Len()
	f.stream(5, fmt.Sprintf("/Type /XRef /W [1 2 1] /Size 5 /Root 1 0 R /Length %d", len(rows)), rows)
	fmt.Fprintf(f, "startxref\n%d\n%%%%EOF\n", start)
	doc := parse(t, f.Bytes())

	if n := dictAt(t, doc, 2).KV["Count"].(raw.NumberObj).Int(); n != 1 {
		t.Fatalf("Count = %d", n)
	}
	got := dictAt(t, doc, 3)
	if got.KV["Type"] != raw.NameLiteral("Page") || got.KV["Parent"] != raw.Ref(2, 0) {
		t.Fatalf("page = %v", got.KV)
	}
}

func TestParseRepairsBrokenOffsets(t *testing.T) {
	f := newFile("1.7")
	f.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	f.obj(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	f.offsets[2] += 7
	data := f.finish(3, "/Root 1 0 R")

	doc := parse(t, data)
	if dictAt(t, doc, 2).KV["Type"] != raw.NameLiteral("Pages") {
		t.Fatalf("page tree not recovered")
	}
	if root, _ := doc.Trailer.Get(raw.NameLiteral("Root")); root != raw.Ref(1, 0) {
		t.Fatalf("Root = %#v", root)
	}
}

func TestParseFindsCatalogWithoutTrailer(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.3\n")
	b.WriteString("3 0 obj\n<< /Type /Catalog /Pages 4 0 R >>\nendobj\n")
	b.WriteString("4 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	doc := parse(t, b.Bytes())
	if root, _ := doc.Trailer.Get(raw.NameLiteral("Root")); root != raw.Ref(3, 0) {
		t.Fatalf("Root = %#v, want 3 0 R", root)
	}
}

func TestParseEncrypted(t *testing.T) {
	f := newFile("1.6")
	f.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	f.obj(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	f.obj(3, "<< /Filter /Standard /V 2 /R 3 >>")
	doc := parse(t, f.finish(4, "/Root 1 0 R /Encrypt 3 0 R"))
	if !doc.Encrypted {
		t.Fatalf("Encrypted = false")
	}
}

func TestParseNotPDF(t *testing.T) {
	_, err := NewDocumentParser(Config{}).Parse(context.Background(), bytes.NewReader([]byte("GIF89a")))
	if !errors.Is(err, ErrNotPDF) {
		t.Fatalf("err = %v, want ErrNotPDF", err)
	}
}

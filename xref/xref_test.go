package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfnormalize/filters"
	"github.com/wudi/pdfnormalize/ir/raw"
)

// file writes objects and remembers where each one starts.
type file struct {
	bytes.Buffer
	offsets map[int]int
}

func newFile() *file {
	f := &file{offsets: map[int]int{}}
	f.WriteString("%PDF-1.7\n")
	return f
}

func (f *file) obj(num int, body string) {
	f.offsets[num] = f.Len()
	fmt.Fprintf(f, "%d 0 obj\n%s\nendobj\n", num, body)
}

// table writes a classic section with one subsection per object and returns
// its offset.
func (f *file) table(trailer string, nums ...int) int {
	start := f.Len()
	f.WriteString("xref\n")
	for _, n := range nums {
		fmt.Fprintf(f, "%d 1\n%010d 00000 n \n", n, f.offsets[n])
	}
	fmt.Fprintf(f, "trailer\n<< %s >>\n", trailer)
	return start
}

func (f *file) end(startxref int) []byte {
	fmt.Fprintf(f, "startxref\n%d\n%%%%EOF\n", startxref)
	return f.Bytes()
}

func TestResolveIncrementalUpdate(t *testing.T) {
	f := newFile()
	f.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	f.obj(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	first := f.table("/Size 3 /Root 1 0 R", 1, 2)
	oldPages := f.offsets[2]
	f.obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	f.obj(3, "<< /Type /Page /Parent 2 0 R >>")
	second := f.table(fmt.Sprintf("/Size 4 /Root 1 0 R /Prev %d", first), 2, 3)
	data := f.end(second)

	table, err := Resolve(context.Background(), data, filters.Default())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if e, _ := table.Lookup(2); e.Offset == int64(oldPages) || e.Offset != int64(f.offsets[2]) {
		t.Fatalf("object 2 at %d, want the updated offset %d", e.Offset, f.offsets[2])
	}
	if e, ok := table.Lookup(1); !ok || e.Offset != int64(f.offsets[1]) {
		t.Fatalf("object 1 = %+v, %v", e, ok)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, table.Objects()); diff != "" {
		t.Fatalf("objects (-want +got):\n%s", diff)
	}
	if size := table.Trailer.KV["Size"].(raw.NumberObj).Int(); size != 4 {
		t.Fatalf("trailer Size = %d, want the newest trailer's 4", size)
	}
	if table.Repaired {
		t.Fatalf("table marked repaired")
	}
}

func TestResolveStream(t *testing.T) {
	f := newFile()
	f.obj(1, "<< /Type /Catalog /Pages 3 0 R >>")
	f.obj(3, "<< /Type /Pages /Kids [] /Count 0 >>")
	rows := []byte{
		0, 0, 0, 255, // 0: free
		1, byte(f.offsets[1] >> 8), byte(f.offsets[1]), 0, // 1: in use
		2, 0, 9, 4, // 2: object stream 9, index 4
		1, byte(f.offsets[3] >> 8), byte(f.offsets[3]), 0, // 3: in use
	}
	start := f.Len()
	fmt.Fprintf(f, "4 0 obj\n<< /Type /XRef /W [1 2 1] /Size 4 /Root 1 0 R /Length %d >>\nstream\n", len(rows))
	f.Write(rows)
	f.WriteString("\nendstream\nendobj\n")
	data := f.end(start)

	table, err := Resolve(context.Background(), data, filters.Default())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := map[int]Entry{
		0: {Kind: Free, Gen: 255},
		1: {Kind: InUse, Offset: int64(f.offsets[1])},
		2: {Kind: Compressed, Stream: 9, Index: 4},
		3: {Kind: InUse, Offset: int64(f.offsets[3])},
	}
	if diff := cmp.Diff(want, table.Entries); diff != "" {
		t.Fatalf("entries (-want +got):\n%s", diff)
	}
	if _, ok := table.Trailer.KV["Root"].(raw.RefObj); !ok {
		t.Fatalf("stream dictionary not used as trailer: %v", table.Trailer.KV)
	}
}

func TestResolveWithoutStartXRef(t *testing.T) {
	_, err := Resolve(context.Background(), []byte("%PDF-1.4\n1 0 obj\n<< >>\nendobj\n"), filters.Default())
	if !errors.Is(err, ErrNoStartXRef) {
		t.Fatalf("err = %v, want ErrNoStartXRef", err)
	}
}

func TestRepair(t *testing.T) {
	f := newFile()
	f.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	f.obj(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	f.obj(12, "(mentions 2 0 obj in a string)")
	f.obj(2, "<< /Type /Pages /Kids [] /Count 0 /Rev 2 >>")
	f.WriteString("trailer\n<< /Size 13 /Root 1 0 R >>\n")
	data := f.end(99999)

	if _, err := Resolve(context.Background(), data, filters.Default()); err == nil {
		t.Fatalf("resolve accepted a startxref past the end of the file")
	}
	table, err := Repair(data)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if !table.Repaired {
		t.Fatalf("table not marked repaired")
	}
	if e, _ := table.Lookup(2); e.Offset != int64(f.offsets[2]) {
		t.Fatalf("object 2 at %d, want the later definition at %d", e.Offset, f.offsets[2])
	}
	if _, ok := table.Lookup(12); !ok {
		t.Fatalf("object 12 missing")
	}
	if root, ok := table.Trailer.KV["Root"].(raw.RefObj); !ok || root.R.Num != 1 {
		t.Fatalf("trailer Root = %v", table.Trailer.KV["Root"])
	}

	if _, err := Repair([]byte("%PDF-1.4\nnothing here")); !errors.Is(err, ErrNoObjects) {
		t.Fatalf("err = %v, want ErrNoObjects", err)
	}
}

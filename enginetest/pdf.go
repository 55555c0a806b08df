package enginetest

import (
	"bytes"
	"fmt"
	"strings"
)

// PDF assembles small uncompressed PDF files for tests. Object bodies are
// written as given; the catalog, page tree and cross-reference table are
// generated.
type PDF struct {
	objects []string
	pages   []int
	fonts   map[string]int
}

const (
	catalogNum = 1
	pagesNum   = 2
)

// NewPDF returns an empty builder. Objects 1 and 2 are the catalog and page tree.
func NewPDF() *PDF {
	return &PDF{objects: []string{"", ""}, fonts: map[string]int{}}
}

// Add appends an object and returns its number.
func (p *PDF) Add(body string) int {
	p.objects = append(p.objects, body)
	return len(p.objects)
}

// AddStream appends a stream object. dict holds extra entries without the
// surrounding << >>; Length is added.
func (p *PDF) AddStream(dict string, data []byte) int {
	var b strings.Builder
	fmt.Fprintf(&b, "<< %s /Length %d >>\nstream\n", dict, len(data))
	b.Write(data)
	b.WriteString("\nendstream")
	return p.Add(b.String())
}

// StandardFont returns the object number of a simple Type1 font for one of the
// standard fonts, adding it on first use.
func (p *PDF) StandardFont(baseFont string) int {
	if n, ok := p.fonts[baseFont]; ok {
		return n
	}
	n := p.Add(fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /%s /Encoding /WinAnsiEncoding >>", baseFont))
	p.fonts[baseFont] = n
	return n
}

// AddPage adds a US Letter page with the given content and resource
// dictionary body (without << >>).
func (p *PDF) AddPage(content, resources string) int {
	c := p.AddStream("", []byte(content))
	return p.AddPageDict(fmt.Sprintf("/MediaBox [0 0 612 792] /Resources << %s >> /Contents %d 0 R", resources, c))
}

// AddPageDict adds a page with the given dictionary entries; Type and Parent
// are added.
func (p *PDF) AddPageDict(entries string) int {
	n := p.Add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R %s >>", pagesNum, entries))
	p.pages = append(p.pages, n)
	return n
}

// AddKid lists an existing object, such as an intermediate page tree node,
// among the root's kids.
func (p *PDF) AddKid(num int) {
	p.pages = append(p.pages, num)
}

// Bytes renders the file.
func (p *PDF) Bytes() []byte {
	kids := make([]string, len(p.pages))
	for i, n := range p.pages {
		kids[i] = fmt.Sprintf("%d 0 R", n)
	}
	p.objects[catalogNum-1] = fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesNum)
	p.objects[pagesNum-1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(p.pages))

	var b bytes.Buffer
	b.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")
	offsets := make([]int, len(p.objects))
	for i, body := range p.objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(p.objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(p.objects)+1, catalogNum, xref)
	return b.Bytes()
}

// HelloWorldPDF is a one-page document whose only text is "Hello World", laid
// out so its block spans (10,20)-(110,40) in page space.
func HelloWorldPDF() []byte {
	p := NewPDF()
	f := p.StandardFont("Courier")
	p.AddPage("BT /F1 20 Tf -3.2 Tc 10 756 Td (Hello World) Tj ET", fmt.Sprintf("/Font << /F1 %d 0 R >>", f))
	return p.Bytes()
}

// ImageOnlyPDF is a one-page document that draws a single 2x2 gray image.
func ImageOnlyPDF() []byte {
	p := NewPDF()
	img := p.AddStream("/Type /XObject /Subtype /Image /Width 2 /Height 2 /ColorSpace /DeviceGray /BitsPerComponent 8", []byte{0x00, 0x40, 0x80, 0xff})
	p.AddPage("q 100 0 0 50 72 600 cm /Im1 Do Q", fmt.Sprintf("/XObject << /Im1 %d 0 R >>", img))
	return p.Bytes()
}

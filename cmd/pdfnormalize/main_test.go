package main

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wudi/pdfnormalize/engine"
	"github.com/wudi/pdfnormalize/enginetest"
	"github.com/wudi/pdfnormalize/normalize"
	"github.com/wudi/pdfnormalize/textblock"
)

func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	err := run(context.Background(), dir, &out, normalize.Config{})
	if !errors.Is(err, errInputMissing) {
		t.Fatalf("err = %v", err)
	}
	report(&out, err)
	want := "Error: input.pdf not found. Please place your PDF file as 'input.pdf' in this directory.\n"
	if out.String() != want {
		t.Fatalf("output = %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, outputPath)); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("output file created: %v", err)
	}
}

func TestRunWritesOutput(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, inputPath), enginetest.HelloWorldPDF(), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := run(context.Background(), dir, &out, normalize.Config{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "Processing input.pdf...\nExtracted 1 text blocks\nProcessing complete! Output saved to output.pdf\n"
	if out.String() != want {
		t.Fatalf("output = %q", out.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, outputPath))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("output is not a PDF: %q", data[:8])
	}
}

func TestRunBadInputWritesNothing(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, inputPath), []byte("not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	err := run(context.Background(), dir, &out, normalize.Config{})
	if err == nil {
		t.Fatalf("expected error")
	}
	report(&out, err)
	if !strings.HasPrefix(strings.Split(out.String(), "\n")[1], "Error processing PDF: ") {
		t.Fatalf("output = %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, outputPath)); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("output file created: %v", err)
	}
}

func TestRunReportsCountBeforeRenderFailure(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, inputPath), []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatal(err)
	}
	eng := enginetest.New([]engine.Entry{
		enginetest.TextBlock(textblock.Rect{X0: 10, Y0: 20, X1: 110, Y1: 40}, []string{"Hello"}),
		enginetest.TextBlock(textblock.Rect{X0: 10, Y0: 60, X1: 110, Y1: 80}, []string{"again"}),
	})
	eng.Fail = func(c enginetest.Call) error {
		if c.Op == enginetest.OpSave {
			return errors.New("disk full")
		}
		return nil
	}
	var out bytes.Buffer
	err := run(context.Background(), dir, &out, normalize.Config{Engine: eng})
	if err == nil {
		t.Fatalf("expected error")
	}
	report(&out, err)
	want := "Processing input.pdf...\nExtracted 2 text blocks\nError processing PDF: render blocks: save document: disk full\n"
	if out.String() != want {
		t.Fatalf("output = %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, outputPath)); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("output file created: %v", err)
	}
}

// Command pdfnormalize rewrites the text of input.pdf in the working directory
// as uniform Arial 12pt boxes and saves the result as output.pdf.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wudi/pdfnormalize/normalize"
	"github.com/wudi/pdfnormalize/observability"
)

const (
	inputPath  = "input.pdf"
	outputPath = "output.pdf"
)

var errInputMissing = errors.New(inputPath + " not found")

func main() {
	logger := observability.NewTextLogger(os.Stderr, observability.LevelWarn)
	cfg := normalize.Config{Logger: logger, Tracer: observability.LogTracer(logger)}
	if err := run(context.Background(), ".", os.Stdout, cfg); err != nil {
		report(os.Stdout, err)
		os.Exit(1)
	}
}

// run processes dir/input.pdf into dir/output.pdf. Nothing is written unless
// the whole pipeline succeeds. The block count is printed before rendering
// starts, so it is shown even when rendering fails.
func run(ctx context.Context, dir string, stdout io.Writer, cfg normalize.Config) error {
	input, err := os.ReadFile(filepath.Join(dir, inputPath))
	if errors.Is(err, fs.ErrNotExist) {
		return errInputMissing
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", inputPath, err)
	}
	fmt.Fprintf(stdout, "Processing %s...\n", inputPath)

	p := normalize.New(cfg)
	blocks, err := p.Extract(ctx, input)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Extracted %d text blocks\n", len(blocks))
	res, err := p.Render(ctx, input, blocks)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, outputPath), res.Output, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outputPath, err)
	}
	fmt.Fprintf(stdout, "Processing complete! Output saved to %s\n", outputPath)
	return nil
}

func report(w io.Writer, err error) {
	if errors.Is(err, errInputMissing) {
		fmt.Fprintf(w, "Error: %s not found. Please place your PDF file as '%s' in this directory.\n", inputPath, inputPath)
		return
	}
	fmt.Fprintf(w, "Error processing PDF: %v\n", err)
}

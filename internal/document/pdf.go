package document

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageRenderer renders one PDF page to an encoded image.
type PageRenderer interface {
	RenderPage(ctx context.Context, pdfPath string, page, dpi int) ([]byte, error)
}

// PageCount returns the number of pages in a PDF.
func PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	n, err := api.PageCount(f, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return n, nil
}

// Pdftoppm renders pages with pdftoppm (poppler-utils).
// It draws the page itself rather than extracting embedded image objects,
// so text-layer PDFs come out the same as scans.
type Pdftoppm struct {
	Binary string // Defaults to "pdftoppm" on PATH
}

// RenderPage renders a single page to PNG.
func (p Pdftoppm) RenderPage(ctx context.Context, pdfPath string, page, dpi int) ([]byte, error) {
	bin := p.Binary
	if bin == "" {
		bin = "pdftoppm"
	}

	tmpDir, err := os.MkdirTemp("", "docex-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")

	// -singlefile: no page number suffix on the output name
	pageStr := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, bin,
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}

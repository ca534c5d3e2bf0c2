// Package document turns an input file (a page image or a PDF) into the
// page images sent to a model.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	// Decoders for inputs that are transcoded to PNG.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupported is returned for file types the loader cannot read.
var ErrUnsupported = errors.New("unsupported document type")

// imageExts maps accepted image extensions to whether models take the
// encoding as-is. Everything else is transcoded to PNG.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  false,
	".tiff": false,
	".bmp":  false,
	".webp": false,
}

// Supported reports whether path has an extension the loader can read.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := imageExts[ext]
	return ok || ext == ".pdf"
}

// Options controls rendering and normalization.
type Options struct {
	PDFDPI       int // Render resolution for PDF pages
	MaxPages     int // PDF pages to render (0 = all)
	MaxImageEdge int // Longest edge in pixels after downscaling (0 = no limit)
}

// DefaultOptions returns the default loader options.
func DefaultOptions() Options {
	return Options{
		PDFDPI:       300,
		MaxPages:     4,
		MaxImageEdge: 2048,
	}
}

// Page is one encoded page image.
type Page struct {
	Num   int // 1-indexed
	Image []byte
}

// Document is a loaded input file.
type Document struct {
	Path       string
	Pages      []Page
	TotalPages int // Pages in the source; may exceed len(Pages) for long PDFs
}

// Images returns the page images in order.
func (d *Document) Images() [][]byte {
	out := make([][]byte, len(d.Pages))
	for i, p := range d.Pages {
		out[i] = p.Image
	}
	return out
}

// Loader reads documents from disk.
type Loader struct {
	opts     Options
	renderer PageRenderer
	logger   *slog.Logger
}

// NewLoader creates a loader that renders PDFs with pdftoppm.
func NewLoader(opts Options, logger *slog.Logger) *Loader {
	if opts.PDFDPI <= 0 {
		opts.PDFDPI = DefaultOptions().PDFDPI
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		opts:     opts,
		renderer: Pdftoppm{},
		logger:   logger,
	}
}

// WithRenderer returns a copy of the loader using r for PDF pages.
func (l *Loader) WithRenderer(r PageRenderer) *Loader {
	c := *l
	c.renderer = r
	return &c
}

// Load reads path and returns its page images. A missing file yields an
// error wrapping os.ErrNotExist.
func (l *Loader) Load(ctx context.Context, path string) (*Document, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		return l.loadPDF(ctx, path)
	}

	passthrough, ok := imageExts[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, err := l.normalize(data, passthrough)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", filepath.Base(path), err)
	}

	return &Document{
		Path:       path,
		Pages:      []Page{{Num: 1, Image: img}},
		TotalPages: 1,
	}, nil
}

func (l *Loader) loadPDF(ctx context.Context, path string) (*Document, error) {
	total, err := PageCount(path)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, fmt.Errorf("PDF has no pages: %s", path)
	}

	n := total
	if l.opts.MaxPages > 0 && n > l.opts.MaxPages {
		n = l.opts.MaxPages
		l.logger.Warn("truncating PDF", "path", path, "pages", total, "max_pages", n)
	}

	doc := &Document{Path: path, TotalPages: total}
	for page := 1; page <= n; page++ {
		data, err := l.renderer.RenderPage(ctx, path, page, l.opts.PDFDPI)
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", page, err)
		}
		img, err := l.normalize(data, true)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare page %d: %w", page, err)
		}
		doc.Pages = append(doc.Pages, Page{Num: page, Image: img})
	}

	l.logger.Debug("rendered PDF", "path", path, "pages", len(doc.Pages), "dpi", l.opts.PDFDPI)
	return doc, nil
}

// normalize returns data unchanged when it is already a model-friendly
// encoding within the size limit. Otherwise it decodes, downscales to
// MaxImageEdge and re-encodes (JPEG stays JPEG, everything else becomes PNG).
func (l *Loader) normalize(data []byte, passthrough bool) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}

	limit := l.opts.MaxImageEdge
	oversize := limit > 0 && (cfg.Width > limit || cfg.Height > limit)
	if passthrough && !oversize {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if oversize {
		src = downscale(src, limit)
	}

	var buf bytes.Buffer
	if format == "jpeg" {
		err = jpeg.Encode(&buf, src, &jpeg.Options{Quality: 90})
	} else {
		err = png.Encode(&buf, src)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// downscale resizes img so its longest edge equals limit.
func downscale(img image.Image, limit int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w >= h {
		h = max(1, h*limit/w)
		w = limit
	} else {
		w = max(1, w*limit/h)
		h = limit
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

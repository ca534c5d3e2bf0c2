// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/docex/internal/schema"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// PNG encodes a w x h grey image.
func PNG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

// WritePNG writes a small PNG page to path, creating parent directories,
// and returns its bytes.
func WritePNG(t testing.TB, path string) []byte {
	t.Helper()
	data := PNG(t, 8, 8)
	WriteFile(t, path, string(data))
	return data
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// SchemaFile writes the built-in schema document into a temp dir and
// returns its path.
func SchemaFile(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), schema.DefaultFileName)
	if err := schema.WriteDefault(path); err != nil {
		t.Fatalf("schema.WriteDefault() error = %v", err)
	}
	return path
}

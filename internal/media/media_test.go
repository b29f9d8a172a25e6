package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SihanChen46/ecom/internal/catalog"
)

type stubConverter struct {
	data  []byte
	err   error
	calls int
}

func (s *stubConverter) Convert(ctx context.Context, path string) ([]byte, error) {
	s.calls++
	return s.data, s.err
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestImageIsMemoized(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "front.png", []byte("png-1"))

	l := NewLoader(Options{})
	first, err := l.Image(path)
	require.NoError(t, err)
	assert.Equal(t, "image/png", first.MIMEType)
	assert.Equal(t, "front.png", first.Name)

	second, err := l.Image(path)
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, l.images.ItemCount())
}

func TestImagesMissingFile(t *testing.T) {
	l := NewLoader(Options{})
	_, err := l.Images([]string{filepath.Join(t.TempDir(), "nope.jpg")})
	require.Error(t, err)
}

func TestDocumentText(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.md", []byte("# Specs\nWeight: 2kg"))

	l := NewLoader(Options{})
	b, err := l.Document(context.Background(), catalog.Input{Kind: catalog.KindDocument, Path: path})
	require.NoError(t, err)
	assert.Equal(t, "text/plain", b.MIMEType)
	assert.True(t, b.IsText())
	assert.Contains(t, string(b.Data), "Weight")
}

func TestDocumentSmallPDFInline(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "spec.pdf", []byte("%PDF-1.4 tiny"))

	l := NewLoader(Options{MaxInlineBytes: 1024})
	b, err := l.Document(context.Background(), catalog.Input{Kind: catalog.KindDocument, Path: path})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", b.MIMEType)
}

func TestDocumentOversizedInvalidPDFFails(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "spec.pdf", []byte("%PDF-1.4 definitely not a real pdf body"))

	l := NewLoader(Options{MaxInlineBytes: 4})
	_, err := l.Document(context.Background(), catalog.Input{Kind: catalog.KindDocument, Path: path})
	require.Error(t, err)
}

func TestDocumentConversion(t *testing.T) {
	conv := &stubConverter{data: []byte("%PDF-1.4 converted")}
	l := NewLoader(Options{Converter: conv})

	b, err := l.Document(context.Background(), catalog.Input{Kind: catalog.KindDocument, Path: "brief.docx", NeedsConversion: true})
	require.NoError(t, err)
	assert.Equal(t, "brief.pdf", b.Name)
	assert.Equal(t, "application/pdf", b.MIMEType)
	assert.Equal(t, 1, conv.calls)
}

func TestDocumentsDropsFailures(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "a.txt", []byte("hello"))
	conv := &stubConverter{err: ErrConversionUnavailable}
	l := NewLoader(Options{Converter: conv})

	out := l.Documents(context.Background(), []catalog.Input{
		{Kind: catalog.KindDocument, Path: "deck.pptx", NeedsConversion: true},
		{Kind: catalog.KindDocument, Path: good},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "a.txt", out[0].Name)
}

func TestSofficeConverterWithoutBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	_, err := SofficeConverter{}.Convert(context.Background(), "brief.docx")
	assert.True(t, errors.Is(err, ErrConversionUnavailable))
}

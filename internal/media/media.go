package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/patrickmn/go-cache"

	"github.com/SihanChen46/ecom/internal/catalog"
)

// Blob is a file payload ready to be sent inline to the backend.
type Blob struct {
	Name     string
	MIMEType string
	Data     []byte
}

// IsText reports whether the blob carries plain text rather than binary data.
func (b Blob) IsText() bool {
	return strings.HasPrefix(b.MIMEType, "text/")
}

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".md":   "text/plain",
}

// MIMEType resolves a MIME type from the file extension, falling back to
// content sniffing.
func MIMEType(path string, data []byte) string {
	if m, ok := mimeByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return m
	}
	m := http.DetectContentType(data)
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m
}

type Options struct {
	// CacheTTL bounds how long loaded images stay memoized.
	CacheTTL time.Duration
	// MaxInlineBytes is the largest PDF sent as-is; bigger ones are reduced
	// to their text.
	MaxInlineBytes int64
	Converter      Converter
	Logger         *slog.Logger
}

type Loader struct {
	images         *cache.Cache
	maxInlineBytes int64
	converter      Converter
	logger         *slog.Logger
}

func NewLoader(opts Options) *Loader {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	maxInline := opts.MaxInlineBytes
	if maxInline <= 0 {
		maxInline = 20 << 20
	}
	converter := opts.Converter
	if converter == nil {
		converter = SofficeConverter{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Loader{
		images:         cache.New(ttl, 2*ttl),
		maxInlineBytes: maxInline,
		converter:      converter,
		logger:         logger,
	}
}

// Image reads an image once per (path, size, mtime) and serves repeats from memory.
func (l *Loader) Image(path string) (Blob, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Blob{}, fmt.Errorf("stat image: %w", err)
	}
	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if v, ok := l.images.Get(key); ok {
		return v.(Blob), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Blob{}, fmt.Errorf("read image: %w", err)
	}
	blob := Blob{
		Name:     filepath.Base(path),
		MIMEType: MIMEType(path, data),
		Data:     data,
	}
	l.images.Set(key, blob, cache.DefaultExpiration)
	return blob, nil
}

// Images loads paths in order.
func (l *Loader) Images(paths []string) ([]Blob, error) {
	out := make([]Blob, 0, len(paths))
	for _, p := range paths {
		b, err := l.Image(p)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Document turns a classified document into something the backend accepts.
func (l *Loader) Document(ctx context.Context, in catalog.Input) (Blob, error) {
	if in.Kind != catalog.KindDocument {
		return Blob{}, fmt.Errorf("%s is not a document", in.Path)
	}

	name := filepath.Base(in.Path)
	var (
		data []byte
		err  error
	)
	if in.NeedsConversion {
		data, err = l.converter.Convert(ctx, in.Path)
		if err != nil {
			return Blob{}, fmt.Errorf("convert %s: %w", name, err)
		}
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".pdf"
	} else {
		data, err = os.ReadFile(in.Path)
		if err != nil {
			return Blob{}, fmt.Errorf("read document: %w", err)
		}
	}

	mimeType := MIMEType(name, data)
	if mimeType != "application/pdf" {
		return Blob{Name: name, MIMEType: "text/plain", Data: data}, nil
	}
	if int64(len(data)) <= l.maxInlineBytes {
		return Blob{Name: name, MIMEType: mimeType, Data: data}, nil
	}

	text, err := PDFText(data)
	if err != nil {
		return Blob{}, fmt.Errorf("extract %s: %w", name, err)
	}
	l.logger.Info("pdf over inline limit, sending text", "name", name, "bytes", len(data), "chars", len(text))
	return Blob{Name: name, MIMEType: "text/plain", Data: []byte(text)}, nil
}

// Documents loads every document, dropping the ones that fail with a warning.
func (l *Loader) Documents(ctx context.Context, inputs []catalog.Input) []Blob {
	var out []Blob
	for _, in := range inputs {
		b, err := l.Document(ctx, in)
		if err != nil {
			if ctx.Err() != nil {
				return out
			}
			l.logger.Warn("skipping document", "path", in.Path, "err", err)
			continue
		}
		out = append(out, b)
	}
	return out
}

// PDFText extracts the plain text of every page.
func PDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	rd, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rd); err != nil {
		return "", err
	}
	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", errors.New("pdf has no extractable text")
	}
	return text, nil
}

package catalog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedFileKind = errors.New("unsupported file kind")
	ErrMissingProductID    = errors.New("missing product id")
)

type Kind string

const (
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
	".bmp":  true,
}

// documentExtensions maps a document extension to whether it must be
// converted to PDF before it can be sent to the backend.
var documentExtensions = map[string]bool{
	".pdf":  false,
	".txt":  false,
	".md":   false,
	".docx": true,
	".doc":  true,
	".xlsx": true,
	".pptx": true,
}

type Input struct {
	Kind            Kind   `json:"kind"`
	Path            string `json:"path"`
	NeedsConversion bool   `json:"needsConversion,omitempty"`
}

type Skipped struct {
	Path string
	Err  error
}

// InputSet is the ordered result of classifying one invocation's paths.
type InputSet struct {
	Inputs  []Input
	Skipped []Skipped
}

func (s InputSet) Images() []Input {
	return s.filter(KindImage)
}

func (s InputSet) Documents() []Input {
	return s.filter(KindDocument)
}

func (s InputSet) ImagePaths() []string {
	images := s.Images()
	out := make([]string, 0, len(images))
	for _, in := range images {
		out = append(out, in.Path)
	}
	return out
}

func (s InputSet) filter(kind Kind) []Input {
	var out []Input
	for _, in := range s.Inputs {
		if in.Kind == kind {
			out = append(out, in)
		}
	}
	return out
}

type Options struct {
	// Root is the directory name that marks the catalog, e.g. "catalog" in
	// catalog/{productId}/front.jpg.
	Root   string
	Logger *slog.Logger
}

type Classifier struct {
	root   string
	logger *slog.Logger
}

func New(opts Options) *Classifier {
	root := filepath.Base(strings.TrimSpace(opts.Root))
	if root == "" || root == "." || root == string(filepath.Separator) {
		root = "catalog"
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Classifier{root: root, logger: logger}
}

// ClassifyPath tags a single path by extension.
func ClassifyPath(path string) (Input, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if imageExtensions[ext] {
		return Input{Kind: KindImage, Path: path}, nil
	}
	if convert, ok := documentExtensions[ext]; ok {
		return Input{Kind: KindDocument, Path: path, NeedsConversion: convert}, nil
	}
	return Input{}, fmt.Errorf("%w: %s", ErrUnsupportedFileKind, path)
}

// Classify keeps input order. Unsupported files are dropped with a warning and
// recorded in Skipped.
func (c *Classifier) Classify(paths []string) InputSet {
	var set InputSet
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		in, err := ClassifyPath(p)
		if err != nil {
			c.logger.Warn("skipping input", "path", p, "err", err)
			set.Skipped = append(set.Skipped, Skipped{Path: p, Err: err})
			continue
		}
		set.Inputs = append(set.Inputs, in)
	}
	return set
}

// InferProductID returns the directory segment directly below the catalog
// root in the first path that has one.
func (c *Classifier) InferProductID(paths []string) (string, bool) {
	for _, p := range paths {
		segments := strings.Split(filepath.ToSlash(filepath.Clean(p)), "/")
		// The product segment must be a directory, never the file itself.
		for i := 0; i+2 < len(segments); i++ {
			if segments[i] == c.root && segments[i+1] != "" {
				return segments[i+1], true
			}
		}
	}
	return "", false
}

// ResolveProductID prefers the explicit id and falls back to inference.
func (c *Classifier) ResolveProductID(explicit string, paths []string) (string, error) {
	if id := strings.TrimSpace(explicit); id != "" {
		return id, nil
	}
	if id, ok := c.InferProductID(paths); ok {
		return id, nil
	}
	return "", ErrMissingProductID
}

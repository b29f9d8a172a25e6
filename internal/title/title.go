// Package title asks the analysis model for listing titles of one product.
package title

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/SihanChen46/ecom/internal/backend"
	"github.com/SihanChen46/ecom/internal/catalog"
	"github.com/SihanChen46/ecom/internal/fsutil"
	"github.com/SihanChen46/ecom/internal/media"
)

var ErrNoImage = errors.New("title generation needs an image")

const (
	resultFile = "title.json"
	promptFile = "title.txt"
)

var fencedRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

type Options struct {
	Backend    backend.Client
	Loader     *media.Loader
	Classifier *catalog.Classifier
	// PromptsDir may hold title.txt, which replaces the built-in instruction.
	PromptsDir string
	OutputDir  string
	Logger     *slog.Logger
}

type Generator struct {
	backend    backend.Client
	loader     *media.Loader
	classifier *catalog.Classifier
	promptsDir string
	outputDir  string
	logger     *slog.Logger
}

func New(opts Options) *Generator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	loader := opts.Loader
	if loader == nil {
		loader = media.NewLoader(media.Options{Logger: logger})
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = catalog.New(catalog.Options{Logger: logger})
	}
	return &Generator{
		backend:    opts.Backend,
		loader:     loader,
		classifier: classifier,
		promptsDir: opts.PromptsDir,
		outputDir:  opts.OutputDir,
		logger:     logger,
	}
}

type Request struct {
	Paths     []string
	ProductID string
}

// Result is the parsed answer. When the reply holds no JSON object, Titles
// is {"raw_response": text, "parse_error": true} and ParseError is set.
type Result struct {
	ProductID  string         `json:"productId"`
	Titles     map[string]any `json:"titles"`
	Raw        string         `json:"-"`
	ParseError bool           `json:"parseError,omitempty"`
	Usage      backend.Usage  `json:"usage"`
	Path       string         `json:"-"`
}

// Generate sends the first image and every document with the title
// instruction and saves the parsed reply to {OutputDir}/{productId}/title.json.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	if g.backend == nil {
		return Result{}, errors.New("title generator has no backend")
	}

	inputs := g.classifier.Classify(req.Paths)
	images := inputs.ImagePaths()
	if len(images) == 0 {
		return Result{}, ErrNoImage
	}

	productID, err := g.classifier.ResolveProductID(req.ProductID, images)
	if err != nil {
		return Result{}, err
	}
	if err := fsutil.ValidName(productID); err != nil {
		return Result{}, fmt.Errorf("product id: %w", err)
	}

	image, err := g.loader.Image(images[0])
	if err != nil {
		return Result{}, err
	}
	docs := g.loader.Documents(ctx, inputs.Documents())

	instructions, err := g.instruction()
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	analysis, err := g.backend.Analyze(ctx, backend.AnalyzeRequest{
		Images:       []media.Blob{image},
		Documents:    docs,
		Instructions: instructions,
	})
	if err != nil {
		return Result{}, fmt.Errorf("analyze: %w", err)
	}

	titles, ok := Parse(analysis.Text)
	res := Result{
		ProductID:  productID,
		Titles:     titles,
		Raw:        analysis.Text,
		ParseError: !ok,
		Usage:      analysis.Usage,
	}
	if !ok {
		g.logger.Warn("title reply is not json, keeping raw text", "product_id", productID)
	}

	if g.outputDir != "" {
		res.Path = filepath.Join(g.outputDir, productID, resultFile)
		data, err := json.MarshalIndent(res.Titles, "", "  ")
		if err != nil {
			return res, err
		}
		if err := fsutil.WriteFileAtomic(res.Path, data, 0o644); err != nil {
			return res, fmt.Errorf("save titles: %w", err)
		}
	}

	g.logger.Info("titles generated",
		"product_id", productID,
		"documents", len(docs),
		"parse_error", res.ParseError,
		"tokens", res.Usage.TotalTokens,
		"dur_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Parse reads the first fenced block as JSON, then the whole reply. When
// neither decodes to an object it returns the raw fallback and false.
func Parse(text string) (map[string]any, bool) {
	if m := fencedRe.FindStringSubmatch(text); m != nil {
		if out, ok := decodeObject(m[1]); ok {
			return out, true
		}
	}
	if out, ok := decodeObject(text); ok {
		return out, true
	}
	return map[string]any{"raw_response": text, "parse_error": true}, false
}

func decodeObject(s string) (map[string]any, bool) {
	var out map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &out); err != nil || out == nil {
		return nil, false
	}
	return out, true
}

func (g *Generator) instruction() (string, error) {
	if g.promptsDir == "" {
		return defaultInstruction, nil
	}
	data, err := os.ReadFile(filepath.Join(g.promptsDir, promptFile))
	switch {
	case err == nil:
		return string(data), nil
	case errors.Is(err, fs.ErrNotExist):
		return defaultInstruction, nil
	default:
		return "", fmt.Errorf("read title prompt: %w", err)
	}
}

const defaultInstruction = `You write search-optimized e-commerce listing titles.

Study the product photo and any attached documents. Identify the product
type, material, key features, target buyer and use cases. Use only facts
you can see or read; never invent certifications, sizes or quantities.

Reply with one JSON object in a json code block:

{
  "product": "short product name",
  "keywords": ["core search keywords, most important first"],
  "titles": [
    {"title": "full listing title, under 200 characters", "focus": "what this variant emphasizes"}
  ],
  "short_title": "title under 80 characters"
}

Give five title variants. Put the strongest keyword near the start of each
title and do not repeat a word more than twice.`

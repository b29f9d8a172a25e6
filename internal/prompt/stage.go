package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/SihanChen46/ecom/internal/backend"
	"github.com/SihanChen46/ecom/internal/catalog"
	"github.com/SihanChen46/ecom/internal/media"
)

var ErrNotEnoughImages = errors.New("not enough images for mode")

type Options struct {
	Backend backend.Client
	Store   *Store
	Loader  *media.Loader
	// PromptsDir may hold {mode}.txt files that replace the built-in
	// analysis instruction.
	PromptsDir string
	Logger     *slog.Logger
}

type Stage struct {
	backend    backend.Client
	store      *Store
	loader     *media.Loader
	promptsDir string
	logger     *slog.Logger
}

func NewStage(opts Options) *Stage {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	loader := opts.Loader
	if loader == nil {
		loader = media.NewLoader(media.Options{Logger: logger})
	}
	return &Stage{
		backend:    opts.Backend,
		store:      opts.Store,
		loader:     loader,
		promptsDir: opts.PromptsDir,
		logger:     logger,
	}
}

type Request struct {
	ProductID string
	Mode      Mode
	Inputs    catalog.InputSet
}

type Result struct {
	Specs []Spec
	// Analysis is the raw analysis text for modes that keep it.
	Analysis string
	CacheHit bool
	Usage    backend.Usage
}

// Build returns the prompt sequence for req, from the cache when it holds a
// valid entry and from a fresh build otherwise. Fresh builds are saved back.
func (s *Stage) Build(ctx context.Context, req Request) (Result, error) {
	st, err := strategyFor(req.Mode)
	if err != nil {
		return Result{}, err
	}
	images := req.Inputs.ImagePaths()
	if len(images) == 0 || len(images) < st.minImages {
		return Result{}, fmt.Errorf("%w: %s has %d", ErrNotEnoughImages, req.Mode, len(images))
	}

	if cached, ok := s.cached(req, st, images); ok {
		res := Result{Specs: cached, CacheHit: true}
		if st.keepAnalysis {
			res.Analysis = s.store.LoadAnalysis(req.ProductID, req.Mode)
		}
		return res, nil
	}

	var res Result
	if st.analyze {
		res, err = s.analyze(ctx, req, st, images)
		if err != nil {
			return Result{}, err
		}
	} else {
		res.Specs = st.structural(images)
	}

	if s.store != nil {
		if err := s.store.Save(req.ProductID, req.Mode, res.Specs); err != nil {
			s.logger.Warn("prompt cache save failed", "product_id", req.ProductID, "mode", req.Mode, "err", err)
		}
		if res.Analysis != "" {
			if err := s.store.SaveAnalysis(req.ProductID, req.Mode, res.Analysis); err != nil {
				s.logger.Warn("analysis save failed", "product_id", req.ProductID, "mode", req.Mode, "err", err)
			}
		}
	}
	return res, nil
}

func (s *Stage) cached(req Request, st strategy, images []string) ([]Spec, bool) {
	if s.store == nil {
		return nil, false
	}
	specs, err := s.store.Load(req.ProductID, req.Mode)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		return nil, false
	default:
		s.logger.Warn("prompt cache unusable, rebuilding", "product_id", req.ProductID, "mode", req.Mode, "err", err)
		return nil, false
	}

	if st.structural != nil {
		if !slices.EqualFunc(specs, st.structural(images), sameBinding) {
			s.logger.Info("inputs changed, rebuilding", "product_id", req.ProductID, "mode", req.Mode)
			return nil, false
		}
	} else if len(specs) != st.count {
		s.logger.Warn("prompt cache has wrong length, rebuilding", "product_id", req.ProductID, "mode", req.Mode, "got", len(specs), "want", st.count)
		return nil, false
	}

	if err := referencesExist(specs); err != nil {
		s.logger.Warn("prompt cache unusable, rebuilding", "product_id", req.ProductID, "mode", req.Mode, "err", err)
		return nil, false
	}

	s.logger.Info("prompt cache hit", "product_id", req.ProductID, "mode", req.Mode, "count", len(specs))
	return specs, true
}

// referencesExist rejects a cached sequence bound to images that are gone.
func referencesExist(specs []Spec) error {
	for _, sp := range specs {
		for _, ref := range sp.ReferenceImages {
			if _, err := os.Stat(ref); err != nil {
				return fmt.Errorf("%w: prompt %d: %w", ErrCacheCorrupt, sp.Index, err)
			}
		}
	}
	return nil
}

func sameBinding(a, b Spec) bool {
	return a.ColorTarget == b.ColorTarget && slices.Equal(a.ReferenceImages, b.ReferenceImages)
}

func (s *Stage) analyze(ctx context.Context, req Request, st strategy, images []string) (Result, error) {
	if s.backend == nil {
		return Result{}, errors.New("prompt stage has no backend")
	}

	blobs, err := s.loader.Images(images)
	if err != nil {
		return Result{}, err
	}
	docs := s.loader.Documents(ctx, req.Inputs.Documents())

	instructions, err := s.instruction(req.Mode, st, len(images))
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	s.logger.Info("analyzing product", "product_id", req.ProductID, "mode", req.Mode, "images", len(blobs), "documents", len(docs))
	analysis, err := s.backend.Analyze(ctx, backend.AnalyzeRequest{
		Images:       blobs,
		Documents:    docs,
		Instructions: instructions,
	})
	if err != nil {
		return Result{}, fmt.Errorf("analyze: %w", err)
	}

	extracted := st.extract(analysis.Text)
	specs := fill(st, extracted, analysis.Text)
	st.bind(specs, images, heroIndex(analysis.Text, len(images)))

	s.logger.Info("prompts built",
		"product_id", req.ProductID,
		"mode", req.Mode,
		"extracted", min(len(extracted), st.count),
		"count", len(specs),
		"dur_ms", time.Since(start).Milliseconds(),
	)

	res := Result{Specs: specs, Usage: analysis.Usage}
	if st.keepAnalysis {
		res.Analysis = analysis.Text
	}
	return res, nil
}

// fill lays extracted prompts onto the mode's slots. Missing slots are built
// from the slot template; extras beyond the slot count are dropped.
func fill(st strategy, extracted map[int]Spec, analysis string) []Spec {
	about := firstParagraph(analysis)
	specs := make([]Spec, st.count)
	for i := range specs {
		if sp, ok := extracted[i]; ok {
			sp.Index = i
			if sp.Name == "" {
				sp.Name = st.slots[i].Title
			}
			specs[i] = sp
			continue
		}
		text := slotPrompt(st.slots[i], about)
		if st.keepAnalysis {
			text = cleanPrompt(text)
		}
		specs[i] = Spec{Index: i, Name: st.slots[i].Title, Text: text}
	}
	return specs
}

func adaptSpecs(images []string) []Spec {
	target := images[0]
	sources := images[1:]
	specs := make([]Spec, len(sources))
	for i, src := range sources {
		stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		specs[i] = Spec{
			Index:           i,
			Name:            "adapt_" + stem,
			Text:            adaptInstruction,
			ReferenceImages: []string{target, src},
			ColorTarget:     src,
		}
	}
	return specs
}

func (s *Stage) instruction(mode Mode, st strategy, images int) (string, error) {
	text := st.instruction
	if s.promptsDir != "" {
		data, err := os.ReadFile(filepath.Join(s.promptsDir, string(mode)+".txt"))
		switch {
		case err == nil:
			text = string(data)
		case errors.Is(err, fs.ErrNotExist):
		default:
			return "", fmt.Errorf("read meta prompt: %w", err)
		}
	}
	if images > 1 {
		text += fmt.Sprintf(heroInstruction, images)
	}
	return text, nil
}

// Render is the text actually sent for spec: the stored prompt wrapped with
// the mode's generation instruction.
func Render(mode Mode, spec Spec) string {
	st, ok := strategies[mode]
	if !ok || st.render == "" {
		return spec.Text
	}
	return fmt.Sprintf(st.render, spec.Text)
}

const heroInstruction = `

%d product images are attached. On the last line write HERO_IMAGE: <n> with the 1-based number of the image that shows the product best.`

const coverInstruction = `You are a creative director for e-commerce product photography.
Study the attached product images and documents. Write one short paragraph describing the product: category, shape, materials, colors and key features.

Then write 10 creative cover-shot concepts. For each concept output one fenced json block with these fields:
shot, subject {item, colors, materials, action, condition}, environment, camera {focal_length, aperture, angle}, lighting, color_grade, style, quality, negatives.

The product must stay recognizable in every concept. Vary the setting, lighting and mood between concepts.`

const previewInstruction = `You are a product photographer preparing realistic preview images for an online store.
Study the attached product images and documents. Write one short paragraph describing the product exactly as it is: shape, details, accessories and colors.

Then write 10 realistic shot plans: front, three-quarter, side, back, top-down, detail, in use, in hand, contents and flat lay. For each output one fenced json block with these fields:
shot, subject {item, colors, materials, action, condition}, environment, camera {focal_length, aperture, angle}, lighting, color_grade, style, quality, negatives.

Never change the product itself. Only camera, light and environment may vary.`

const topInstruction = `You are a visual strategist building the full image deck for an e-commerce detail page.
Study the attached product images and documents. Start with one short paragraph on the product, its buyer and its main selling points.

Then write exactly 11 sections, in this order:
1. Hero Shot
2. Cart Preview
3. Abundance
4. Size Comparison
5. Scenario Comparison
6. Immersive Scenario
7. Pain/Solution
8. USP Visualization
9. Close-up/Texture
10. What You Get
11. How-to

Format each section as:
### N. Name
* **Visual Logic:** why this image sells
* **🍌 Nano Banana Prompt:** one English paragraph describing the image to generate, ending with "square image, 1:1 aspect ratio, centered composition."

Keep real dimensions true to life and render any dimension labels legibly.`

const coverRender = `Generate an image based on this prompt. Use the reference image as the product reference, keep the product category and apply the creative style described.

%s

Keep the product recognizable as the same category. The reference image shows the actual product.`

const previewRender = `Generate a realistic product photo based on this prompt. The product must look exactly like the reference image: same shape, details, accessories and colors.

%s

Only lighting, angle and environment may change. Do not modify the product itself.`

const topRender = `Generate an e-commerce product image based on this prompt. Use the reference images as the product reference.

%s

Rules:
1. Keep the product recognizable with the same category and key features as the reference.
2. For size and dimension shots keep true-to-life proportions and render dimension labels clearly.
3. Apply the styling, lighting and composition described in the prompt.
4. The image is for e-commerce: professional, high quality and conversion focused.
5. Square 1:1 aspect ratio with the subject centered and breathing room on all sides.`

const adaptInstruction = `Create a new image from the two attached images.

Image 1 is the target: copy everything from it. Every object keeps its position, angle, shape and detail. Composition, lighting, perspective, background and decorative elements stay exactly the same.

Image 2 is the product: use it only as a color swatch. Take the dominant color of the product and ignore its angle, lighting, composition and background.

Recolor every element of the target to the product's color family. The result must be the target image in a new color and identical in every other respect. Square image, 1:1 aspect ratio.`

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/SihanChen46/ecom/internal/media"
)

// Imagen generates through the dedicated image models. Those accept a prompt
// only, so reference images are dropped. Analysis runs on the text model.
type Imagen struct {
	model     string
	textModel string
	client    *genai.Client
	logger    *slog.Logger
}

func NewImagen(ctx context.Context, opts Options) (*Imagen, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	textModel := strings.TrimSpace(opts.TextModel)
	if textModel == "" {
		textModel = defaultTextModel
	}

	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimRight(opts.BaseURL, "/"),
			APIVersion: strings.TrimSpace(opts.APIVersion),
		},
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}

	return &Imagen{
		model:     opts.Model.ID,
		textModel: textModel,
		client:    client,
		logger:    logger,
	}, nil
}

func (c *Imagen) Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error) {
	parts := []*genai.Part{genai.NewPartFromText(strings.TrimSpace(req.Instructions))}
	for _, b := range append(append([]media.Blob(nil), req.Documents...), req.Images...) {
		if b.IsText() {
			parts = append(parts, genai.NewPartFromText(fmt.Sprintf("Document %s:\n%s", b.Name, b.Data)))
			continue
		}
		parts = append(parts, genai.NewPartFromBytes(b.Data, b.MIMEType))
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.textModel, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.7),
	})
	if err != nil {
		return Analysis{}, sdkError(ctx, err)
	}

	var usage Usage
	if m := resp.UsageMetadata; m != nil {
		usage = Usage{
			PromptTokens: int(m.PromptTokenCount),
			OutputTokens: int(m.CandidatesTokenCount),
			TotalTokens:  int(m.TotalTokenCount),
		}
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return Analysis{}, &Error{Kind: ErrRejected, Message: "prompt blocked: " + string(fb.BlockReason)}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if len(resp.Candidates) > 0 && blockedFinishReasons[string(resp.Candidates[0].FinishReason)] {
			return Analysis{}, &Error{Kind: ErrRejected, Message: "finish reason " + string(resp.Candidates[0].FinishReason)}
		}
		return Analysis{}, &Error{Kind: ErrEmptyResponse, Message: "no candidates"}
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		text.WriteString(p.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return Analysis{}, &Error{Kind: ErrEmptyResponse, Message: "analysis has no text"}
	}
	return Analysis{Text: text.String(), Usage: priced(c.textModel, usage)}, nil
}

func (c *Imagen) GenerateImage(ctx context.Context, req ImageRequest) (Image, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Image{}, errors.New("prompt is empty")
	}
	if len(req.References) > 0 {
		c.logger.Debug("imagen ignores reference images", "model", c.model, "count", len(req.References))
	}

	resp, err := c.client.Models.GenerateImages(ctx, c.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages:   1,
		AspectRatio:      defaultAspectRatio(req.AspectRatio),
		IncludeRAIReason: true,
	})
	if err != nil {
		return Image{}, sdkError(ctx, err)
	}

	for _, gen := range resp.GeneratedImages {
		if gen == nil {
			continue
		}
		if gen.Image != nil && len(gen.Image.ImageBytes) > 0 {
			mimeType := gen.Image.MIMEType
			if mimeType == "" {
				mimeType = "image/png"
			}
			return Image{
				Data:     gen.Image.ImageBytes,
				MIMEType: mimeType,
				Usage:    priced(c.model, Usage{Images: 1}),
			}, nil
		}
		if gen.RAIFilteredReason != "" {
			return Image{}, &Error{Kind: ErrRejected, Message: gen.RAIFilteredReason}
		}
	}
	return Image{}, &Error{Kind: ErrEmptyResponse, Message: "response has no image"}
}

func sdkError(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		return &Error{Kind: statusKind(apiErr.Code), Status: apiErr.Code, Message: apiErr.Message}
	}
	return transportError(ctx, err)
}

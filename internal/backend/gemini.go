package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/SihanChen46/ecom/internal/media"
)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com"
	defaultAPIVersion = "v1beta"
	defaultTextModel  = "gemini-3-flash-preview"
)

// blockedFinishReasons end a candidate without output because of policy.
var blockedFinishReasons = map[string]bool{
	"SAFETY":                   true,
	"PROHIBITED_CONTENT":       true,
	"IMAGE_SAFETY":             true,
	"IMAGE_PROHIBITED_CONTENT": true,
	"BLOCKLIST":                true,
	"SPII":                     true,
}

// Gemini talks to the generateContent REST endpoint for models that return
// images as inline parts.
type Gemini struct {
	model      string
	textModel  string
	apiKey     string
	baseURL    string
	apiVersion string
	http       *resty.Client
	logger     *slog.Logger
}

func NewGemini(opts Options) *Gemini {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}

	textModel := strings.TrimSpace(opts.TextModel)
	if textModel == "" {
		textModel = defaultTextModel
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Gemini{
		model:      opts.Model.ID,
		textModel:  textModel,
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		http:       resty.NewWithClient(hc),
		logger:     logger,
	}
}

func (c *Gemini) Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error) {
	parts := []part{{Text: strings.TrimSpace(req.Instructions)}}
	parts = append(parts, blobParts(req.Documents)...)
	parts = append(parts, blobParts(req.Images)...)

	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature: 0.7,
		},
	}

	resp, err := c.generateContent(ctx, c.textModel, payload)
	if err != nil {
		return Analysis{}, err
	}
	if strings.TrimSpace(resp.text) == "" {
		return Analysis{}, &Error{Kind: ErrEmptyResponse, Message: "analysis has no text"}
	}
	return Analysis{Text: resp.text, Usage: priced(c.textModel, resp.usage)}, nil
}

func (c *Gemini) GenerateImage(ctx context.Context, req ImageRequest) (Image, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Image{}, errors.New("prompt is empty")
	}

	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: imageParts(prompt, req.References)}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
			ImageConfig:        &imageConfig{AspectRatio: defaultAspectRatio(req.AspectRatio)},
		},
	}

	resp, err := c.generateContent(ctx, c.model, payload)
	if err != nil && isUnknownFieldError(err, "imageConfig") {
		c.logger.Debug("imageConfig not supported, retrying without it", "model", c.model)
		payload.GenerationConfig.ImageConfig = nil
		resp, err = c.generateContent(ctx, c.model, payload)
	}
	if err != nil {
		return Image{}, err
	}

	usage := resp.usage
	if len(resp.images) == 0 {
		c.logger.Debug("no image in response, asking again", "model", c.model, "text_chars", len(resp.text))
		retryPrompt := prompt + "\n\nReturn the result only as an image (inlineData). Do not write text, JSON or code."
		payload.Contents = []content{{Role: "user", Parts: imageParts(retryPrompt, req.References)}}
		retryResp, retryErr := c.generateContent(ctx, c.model, payload)
		if retryErr != nil {
			return Image{}, retryErr
		}
		usage = usage.Add(retryResp.usage)
		resp = retryResp
	}
	if len(resp.images) == 0 {
		return Image{}, &Error{Kind: ErrEmptyResponse, Message: "response has no image"}
	}

	img := resp.images[0]
	usage.Images = 1
	return Image{Data: img.Data, MIMEType: img.MIMEType, Usage: priced(c.model, usage)}, nil
}

// imageParts puts the prompt first, then labels each reference so the model
// can tell the edit target from style sources.
func imageParts(prompt string, refs []media.Blob) []part {
	parts := []part{{Text: prompt}}
	if len(refs) <= 1 {
		return append(parts, blobParts(refs)...)
	}
	for i, ref := range refs {
		parts = append(parts, part{Text: fmt.Sprintf("Image #%d:", i+1)})
		parts = append(parts, blobParts([]media.Blob{ref})...)
	}
	return parts
}

func blobParts(blobs []media.Blob) []part {
	parts := make([]part, 0, len(blobs))
	for _, b := range blobs {
		if b.IsText() {
			parts = append(parts, part{Text: fmt.Sprintf("Document %s:\n%s", b.Name, b.Data)})
			continue
		}
		parts = append(parts, part{InlineData: &blob{
			Data:     base64.StdEncoding.EncodeToString(b.Data),
			MimeType: b.MIMEType,
		}})
	}
	return parts
}

type decodedResponse struct {
	text   string
	images []media.Blob
	usage  Usage
}

func (c *Gemini) generateContent(ctx context.Context, model string, payload generateContentRequest) (decodedResponse, error) {
	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, model)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetHeader("x-goog-api-key", c.apiKey).
		SetBody(payload).
		Post(url)
	if err != nil {
		return decodedResponse{}, transportError(ctx, err)
	}

	if resp.IsError() {
		return decodedResponse{}, &Error{
			Kind:    statusKind(resp.StatusCode()),
			Status:  resp.StatusCode(),
			Message: strings.TrimSpace(string(resp.Body())),
		}
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return decodedResponse{}, &Error{Kind: ErrEmptyResponse, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return decode(decoded)
}

func decode(resp generateContentResponse) (decodedResponse, error) {
	out := decodedResponse{usage: resp.UsageMetadata.usage()}

	if reason := resp.PromptFeedback.BlockReason; reason != "" {
		return out, &Error{Kind: ErrRejected, Message: "prompt blocked: " + reason}
	}
	if len(resp.Candidates) == 0 {
		return out, &Error{Kind: ErrEmptyResponse, Message: "no candidates"}
	}

	first := resp.Candidates[0]
	var text strings.Builder
	for _, p := range first.Content.Parts {
		if p.Thought {
			continue
		}
		if p.Text != "" {
			text.WriteString(p.Text)
		}
		if p.InlineData != nil && p.InlineData.Data != "" && p.InlineData.MimeType != "" {
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				continue
			}
			out.images = append(out.images, media.Blob{MIMEType: p.InlineData.MimeType, Data: data})
		}
	}
	out.text = text.String()

	if out.text == "" && len(out.images) == 0 && blockedFinishReasons[first.FinishReason] {
		return out, &Error{Kind: ErrRejected, Message: "finish reason " + first.FinishReason}
	}
	return out, nil
}

func isUnknownFieldError(err error, field string) bool {
	message := err.Error()
	return strings.Contains(message, "Unknown name") && strings.Contains(message, field)
}

type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature        float64      `json:"temperature,omitempty"`
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	Thought    bool   `json:"thought,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type generateContentResponse struct {
	Candidates     []candidate    `json:"candidates"`
	PromptFeedback promptFeedback `json:"promptFeedback"`
	UsageMetadata  usageMetadata  `json:"usageMetadata"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (u usageMetadata) usage() Usage {
	return Usage{
		PromptTokens: u.PromptTokenCount,
		OutputTokens: u.CandidatesTokenCount,
		TotalTokens:  u.TotalTokenCount,
	}
}

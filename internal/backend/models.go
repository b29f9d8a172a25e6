package backend

import (
	"fmt"
	"strings"
)

type Family string

const (
	FamilyGemini      Family = "gemini"
	FamilyGemini3     Family = "gemini-3"
	FamilyImagen      Family = "imagen"
	FamilyImagenUltra Family = "imagen-ultra"
)

type Model struct {
	Family Family
	ID     string
}

func (m Model) Imagen() bool {
	return m.Family == FamilyImagen || m.Family == FamilyImagenUltra
}

var registry = []Model{
	{Family: FamilyGemini, ID: "gemini-2.0-flash-exp"},
	{Family: FamilyGemini3, ID: "gemini-3-pro-image-preview"},
	{Family: FamilyImagen, ID: "imagen-4.0-generate-001"},
	{Family: FamilyImagenUltra, ID: "imagen-4.0-ultra-generate-001"},
}

func Models() []Model {
	out := make([]Model, len(registry))
	copy(out, registry)
	return out
}

func Lookup(family string) (Model, error) {
	family = strings.ToLower(strings.TrimSpace(family))
	for _, m := range registry {
		if string(m.Family) == family {
			return m, nil
		}
	}
	names := make([]string, 0, len(registry))
	for _, m := range registry {
		names = append(names, string(m.Family))
	}
	return Model{}, fmt.Errorf("unknown model %q (available: %s)", family, strings.Join(names, ", "))
}

// Usage is the token and image accounting of one or more calls.
type Usage struct {
	PromptTokens int     `json:"promptTokens"`
	OutputTokens int     `json:"outputTokens"`
	TotalTokens  int     `json:"totalTokens"`
	Images       int     `json:"images"`
	CostUSD      float64 `json:"costUsd"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens: u.PromptTokens + o.PromptTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
		Images:       u.Images + o.Images,
		CostUSD:      u.CostUSD + o.CostUSD,
	}
}

// price is USD per 1M tokens, plus a flat fee per generated image.
type price struct {
	input    float64
	output   float64
	perImage float64
}

var pricing = map[string]price{
	"gemini-2.0-flash":              {input: 0.10, output: 0.40},
	"gemini-2.0-flash-exp":          {},
	"gemini-3-pro-image-preview":    {input: 0.10, output: 0.40},
	"gemini-3-flash-preview":        {input: 0.10, output: 0.40},
	"imagen-4.0-generate-001":       {perImage: 0.03},
	"imagen-4.0-ultra-generate-001": {perImage: 0.06},
}

var defaultPrice = price{input: 0.10, output: 0.40}

func priceFor(model string) price {
	if p, ok := pricing[model]; ok {
		return p
	}
	best := ""
	for key := range pricing {
		if strings.HasPrefix(model, key) && len(key) > len(best) {
			best = key
		}
	}
	if best != "" {
		return pricing[best]
	}
	return defaultPrice
}

// Cost prices u as if every token and image came from model.
func (u Usage) Cost(model string) float64 {
	p := priceFor(model)
	return float64(u.PromptTokens)/1e6*p.input +
		float64(u.OutputTokens)/1e6*p.output +
		float64(u.Images)*p.perImage
}

// priced fills CostUSD for a single call made against model.
func priced(model string, u Usage) Usage {
	u.CostUSD = u.Cost(model)
	return u
}

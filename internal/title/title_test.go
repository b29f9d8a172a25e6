package title

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SihanChen46/ecom/internal/backend"
	"github.com/SihanChen46/ecom/internal/backend/backendtest"
	"github.com/SihanChen46/ecom/internal/catalog"
)

func productFiles(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "catalog", "P1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	paths := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("data-"+n), 0o644))
		paths = append(paths, p)
	}
	return root, paths
}

func TestParse(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		want   map[string]any
		parsed bool
	}{
		{
			name:   "fenced json",
			text:   "Here you go:\n```json\n{\"short_title\": \"Sage kettle\"}\n```\nthanks",
			want:   map[string]any{"short_title": "Sage kettle"},
			parsed: true,
		},
		{
			name:   "fenced without language",
			text:   "```\n{\"product\": \"kettle\"}\n```",
			want:   map[string]any{"product": "kettle"},
			parsed: true,
		},
		{
			name:   "bare json",
			text:   "  {\"product\": \"kettle\"}\n",
			want:   map[string]any{"product": "kettle"},
			parsed: true,
		},
		{
			name:   "broken fence falls back to raw",
			text:   "```json\n{nope}\n```",
			want:   map[string]any{"raw_response": "```json\n{nope}\n```", "parse_error": true},
			parsed: false,
		},
		{
			name:   "plain text",
			text:   "Sage ceramic kettle",
			want:   map[string]any{"raw_response": "Sage ceramic kettle", "parse_error": true},
			parsed: false,
		},
		{
			name:   "json array is not an object",
			text:   "[1, 2]",
			want:   map[string]any{"raw_response": "[1, 2]", "parse_error": true},
			parsed: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Parse(tc.text)
			assert.Equal(t, tc.parsed, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGenerateSendsFirstImageAndDocuments(t *testing.T) {
	root, paths := productFiles(t, "front.jpg", "side.jpg", "notes.txt", "readme.zip")

	var got backend.AnalyzeRequest
	fake := &backendtest.Fake{AnalyzeFunc: func(_ context.Context, req backend.AnalyzeRequest) (backend.Analysis, error) {
		got = req
		return backend.Analysis{
			Text:  "```json\n{\"short_title\": \"Sage kettle\", \"keywords\": [\"kettle\"]}\n```",
			Usage: backend.Usage{TotalTokens: 42},
		}, nil
	}}
	g := New(Options{Backend: fake, OutputDir: filepath.Join(root, "outputs")})

	res, err := g.Generate(context.Background(), Request{Paths: paths})
	require.NoError(t, err)
	assert.Equal(t, "P1", res.ProductID)
	assert.False(t, res.ParseError)
	assert.Equal(t, "Sage kettle", res.Titles["short_title"])
	assert.Equal(t, 42, res.Usage.TotalTokens)

	require.Len(t, got.Images, 1)
	assert.Equal(t, "front.jpg", got.Images[0].Name)
	require.Len(t, got.Documents, 1)
	assert.Equal(t, "notes.txt", got.Documents[0].Name)
	assert.Equal(t, defaultInstruction, got.Instructions)

	assert.Equal(t, filepath.Join(root, "outputs", "P1", "title.json"), res.Path)
	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	var saved map[string]any
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "Sage kettle", saved["short_title"])
}

func TestGenerateKeepsRawReply(t *testing.T) {
	root, paths := productFiles(t, "front.jpg")
	fake := &backendtest.Fake{AnalysisText: "Sage Ceramic Kettle 1.2L"}
	g := New(Options{Backend: fake, OutputDir: filepath.Join(root, "outputs")})

	res, err := g.Generate(context.Background(), Request{Paths: paths, ProductID: "K-7"})
	require.NoError(t, err)
	assert.Equal(t, "K-7", res.ProductID)
	assert.True(t, res.ParseError)
	assert.Equal(t, "Sage Ceramic Kettle 1.2L", res.Raw)
	assert.Equal(t, true, res.Titles["parse_error"])

	data, err := os.ReadFile(filepath.Join(root, "outputs", "K-7", "title.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "raw_response")
}

func TestGenerateUsesPromptOverride(t *testing.T) {
	root, paths := productFiles(t, "front.jpg")
	promptsDir := filepath.Join(root, "prompts")
	require.NoError(t, os.MkdirAll(promptsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(promptsDir, "title.txt"), []byte("three titles please"), 0o644))

	var instructions string
	fake := &backendtest.Fake{AnalyzeFunc: func(_ context.Context, req backend.AnalyzeRequest) (backend.Analysis, error) {
		instructions = req.Instructions
		return backend.Analysis{Text: "{}"}, nil
	}}
	g := New(Options{Backend: fake, PromptsDir: promptsDir})

	res, err := g.Generate(context.Background(), Request{Paths: paths})
	require.NoError(t, err)
	assert.Equal(t, "three titles please", instructions)
	assert.Empty(t, res.Path)
}

func TestGenerateErrors(t *testing.T) {
	_, paths := productFiles(t, "front.jpg", "notes.txt")

	g := New(Options{Backend: &backendtest.Fake{}})
	_, err := g.Generate(context.Background(), Request{Paths: paths[1:]})
	assert.ErrorIs(t, err, ErrNoImage)

	_, err = g.Generate(context.Background(), Request{Paths: []string{filepath.Join(t.TempDir(), "loose.jpg")}})
	assert.ErrorIs(t, err, catalog.ErrMissingProductID)

	boom := errors.New("boom")
	g = New(Options{Backend: &backendtest.Fake{AnalyzeFunc: func(context.Context, backend.AnalyzeRequest) (backend.Analysis, error) {
		return backend.Analysis{}, boom
	}}})
	_, err = g.Generate(context.Background(), Request{Paths: paths})
	assert.ErrorIs(t, err, boom)

	_, err = New(Options{}).Generate(context.Background(), Request{Paths: paths})
	assert.Error(t, err)
}

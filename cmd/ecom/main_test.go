package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SihanChen46/ecom/internal/app"
	"github.com/SihanChen46/ecom/internal/backend"
	"github.com/SihanChen46/ecom/internal/backend/backendtest"
	"github.com/SihanChen46/ecom/internal/pipeline"
	"github.com/SihanChen46/ecom/internal/prompt"
)

func TestModelsCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"models"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, len(backend.Models())+1)
	assert.Contains(t, lines[0], "FAMILY")
	assert.Contains(t, out.String(), "gemini-3-pro-image-preview")
	assert.Contains(t, out.String(), "imagen-ultra")
}

func TestRunRequiresFiles(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"run"})
	assert.Error(t, cmd.Execute())
}

func TestRunRejectsUnknownMode(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")
	err := runCommand(context.Background(), &bytes.Buffer{}, &bytes.Buffer{}, runFlags{mode: "poster"}, []string{"catalog/P1/a.jpg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poster")
}

func TestExpectedImages(t *testing.T) {
	paths := []string{"catalog/P1/a.jpg", "catalog/P1/b.png", "catalog/P1/spec.pdf", "catalog/P1/c.webp"}
	assert.Equal(t, 10, expectedImages(prompt.ModeCover, paths, 0))
	assert.Equal(t, 11, expectedImages(prompt.ModeTop, paths, 0))
	assert.Equal(t, 3, expectedImages(prompt.ModeTop, paths, 3))
	assert.Equal(t, 2, expectedImages(prompt.ModeAdapt, paths, 0))
	assert.Equal(t, -1, expectedImages(prompt.ModeAdapt, paths[:1], 0))
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printReport(&out, pipeline.Report{
		TaskID:    "20260101_120000_abcd1234",
		ProductID: "P1",
		Mode:      prompt.ModeCover,
		State:     pipeline.StateDone,
		Prompts:   10,
		Succeeded: 7,
		Failed:    3,
		Dir:       "outputs/P1/cover/20260101_120000_abcd1234",
		Usage:     backend.Usage{Images: 7, CostUSD: 0.21},
	}))

	s := out.String()
	assert.Contains(t, s, "succeeded  7")
	assert.Contains(t, s, "failed     3")
	assert.Contains(t, s, "$0.2100 (7 images")
	assert.NotContains(t, s, "target")
	assert.NotContains(t, s, "error")
}

func TestTitleCommandPrintsAndSaves(t *testing.T) {
	root := t.TempDir()
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("ECOM_OUTPUT_DIR", filepath.Join(root, "outputs"))
	t.Setenv("ECOM_PROMPTS_DIR", filepath.Join(root, "prompts"))

	dir := filepath.Join(root, "catalog", "P1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	img := filepath.Join(dir, "front.png")
	require.NoError(t, os.WriteFile(img, backendtest.PNG, 0o644))

	fake := &backendtest.Fake{AnalysisText: "```json\n{\"short_title\": \"Sage kettle\"}\n```"}
	var stdout, stderr bytes.Buffer
	err := titleCommand(context.Background(), &stdout, &stderr, titleFlags{}, []string{img}, &app.Options{Backend: fake})
	require.NoError(t, err)

	assert.Contains(t, stdout.String(), `"short_title": "Sage kettle"`)
	saved := filepath.Join(root, "outputs", "P1", "title.json")
	assert.FileExists(t, saved)
	assert.Contains(t, stderr.String(), "saved "+saved)
}

func TestTitleRequiresFiles(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"title"})
	assert.Error(t, cmd.Execute())
}

package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var ErrConversionUnavailable = errors.New("document conversion unavailable")

// Converter renders an office document to PDF bytes.
type Converter interface {
	Convert(ctx context.Context, path string) ([]byte, error)
}

// SofficeConverter shells out to a headless LibreOffice.
type SofficeConverter struct {
	// Binary overrides the lookup of soffice/libreoffice on PATH.
	Binary string
}

func (c SofficeConverter) Convert(ctx context.Context, path string) ([]byte, error) {
	bin, err := c.binary()
	if err != nil {
		return nil, err
	}

	outDir, err := os.MkdirTemp("", "ecom-convert-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(outDir)

	cmd := exec.CommandContext(ctx, bin, "--headless", "--convert-to", "pdf", "--outdir", outDir, path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(bin), err, strings.TrimSpace(string(out)))
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return os.ReadFile(filepath.Join(outDir, stem+".pdf"))
}

func (c SofficeConverter) binary() (string, error) {
	if c.Binary != "" {
		return c.Binary, nil
	}
	for _, name := range []string{"soffice", "libreoffice"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", ErrConversionUnavailable
}

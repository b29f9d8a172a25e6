package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/SihanChen46/ecom/internal/fsutil"
)

var ErrCacheCorrupt = errors.New("prompt cache corrupt")

const (
	promptsFile  = "prompts.json"
	analysisFile = "analysis.txt"
)

// Spec is one image-generation prompt. ReferenceImages are paths, in the
// order they are sent to the backend.
type Spec struct {
	Index           int      `json:"index"`
	Name            string   `json:"name"`
	Text            string   `json:"text"`
	ReferenceImages []string `json:"referenceImages"`
	ColorTarget     string   `json:"colorTarget,omitempty"`
}

// Store keeps prompt sequences keyed by (product id, mode) under
// {root}/{productId}/{mode}/prompts.json.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) dir(productID string, mode Mode) (string, error) {
	if err := fsutil.ValidName(productID); err != nil {
		return "", fmt.Errorf("product id: %w", err)
	}
	return filepath.Join(s.root, productID, string(mode)), nil
}

// Path is where the sequence for (productID, mode) lives.
func (s *Store) Path(productID string, mode Mode) string {
	return filepath.Join(s.root, productID, string(mode), promptsFile)
}

// Load returns the cached sequence. A missing file yields an error matching
// fs.ErrNotExist; a file that does not decode to a well-formed sequence
// yields ErrCacheCorrupt.
func (s *Store) Load(productID string, mode Mode) ([]Spec, error) {
	dir, err := s.dir(productID, mode)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, promptsFile))
	if err != nil {
		return nil, err
	}

	var specs []Spec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	if err := checkSequence(specs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	return specs, nil
}

func checkSequence(specs []Spec) error {
	if len(specs) == 0 {
		return errors.New("empty sequence")
	}
	for i, sp := range specs {
		if sp.Index != i {
			return fmt.Errorf("entry %d has index %d", i, sp.Index)
		}
		if strings.TrimSpace(sp.Text) == "" {
			return fmt.Errorf("entry %d has no text", i)
		}
	}
	return nil
}

// Save replaces the cached sequence atomically.
func (s *Store) Save(productID string, mode Mode, specs []Spec) error {
	dir, err := s.dir(productID, mode)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.MarshalIndent(specs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal prompts: %w", err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, promptsFile), data, 0o644)
}

func (s *Store) SaveAnalysis(productID string, mode Mode, text string) error {
	dir, err := s.dir(productID, mode)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, analysisFile), []byte(text), 0o644)
}

// LoadAnalysis returns "" when no analysis was kept.
func (s *Store) LoadAnalysis(productID string, mode Mode) string {
	dir, err := s.dir(productID, mode)
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, analysisFile))
	if err != nil {
		return ""
	}
	return string(data)
}

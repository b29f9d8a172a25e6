// Package output lays a finished run out on disk and copies it to target
// folders.
package output

import (
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

	"github.com/SihanChen46/ecom/internal/backend"
	"github.com/SihanChen46/ecom/internal/fsutil"
	"github.com/SihanChen46/ecom/internal/generate"
	"github.com/SihanChen46/ecom/internal/prompt"
)

var ErrTargetCollision = errors.New("target already holds a different task")

const resultsFile = "results.json"

var unsafeNameRe = regexp.MustCompile(`[^\p{L}\p{N}_-]`)

var extByMIME = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

type Options struct {
	// Root holds {productId}/{mode}/{taskId} directories.
	Root string
	// TargetRoot holds {target}/{taskId} copies.
	TargetRoot string
	Logger     *slog.Logger
}

type Manager struct {
	root       string
	targetRoot string
	logger     *slog.Logger
}

func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{root: opts.Root, targetRoot: opts.TargetRoot, logger: logger}
}

type Request struct {
	TaskID    string
	ProductID string
	Mode      prompt.Mode
	Model     string
	Specs     []prompt.Spec
	Results   []generate.Result
	// References are copied into the task directory as reference files.
	References []string
	// Analysis is written to analysis.txt when not empty.
	Analysis string
	Usage    backend.Usage
}

// Task is a materialized run directory.
type Task struct {
	ID        string
	ProductID string
	Mode      prompt.Mode
	Dir       string
	// Images are the written image paths, in prompt order.
	Images    []string
	Succeeded int
	Failed    int
	Complete  bool
}

type resultEntry struct {
	Index    int             `json:"index"`
	Status   generate.Status `json:"status"`
	Filename string          `json:"filename,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type summary struct {
	TaskID    string        `json:"taskId"`
	ProductID string        `json:"productId"`
	Mode      prompt.Mode   `json:"mode"`
	Model     string        `json:"model,omitempty"`
	Prompts   []prompt.Spec `json:"prompts"`
	Results   []resultEntry `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	// Complete is false when the run was cut short and some prompts have no
	// entry in Results.
	Complete bool          `json:"complete"`
	Usage    backend.Usage `json:"usage"`
}

// TaskDir is where Materialize puts the task.
func (m *Manager) TaskDir(productID string, mode prompt.Mode, taskID string) string {
	return filepath.Join(m.root, productID, string(mode), taskID)
}

// Materialize writes the prompts snapshot, optional analysis, reference
// copies and successful images, then results.json last. Results must be
// sorted by index.
func (m *Manager) Materialize(req Request) (Task, error) {
	for _, name := range []string{req.ProductID, req.TaskID} {
		if err := fsutil.ValidName(name); err != nil {
			return Task{}, err
		}
	}

	dir := m.TaskDir(req.ProductID, req.Mode, req.TaskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Task{}, fmt.Errorf("create task dir: %w", err)
	}

	snapshot, err := json.MarshalIndent(req.Specs, "", "  ")
	if err != nil {
		return Task{}, fmt.Errorf("marshal prompts: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "prompts.json"), snapshot, 0o644); err != nil {
		return Task{}, fmt.Errorf("write prompts: %w", err)
	}

	if req.Analysis != "" {
		if err := os.WriteFile(filepath.Join(dir, "analysis.txt"), []byte(req.Analysis), 0o644); err != nil {
			return Task{}, fmt.Errorf("write analysis: %w", err)
		}
	}

	if err := m.copyReferences(dir, req.References); err != nil {
		return Task{}, err
	}

	task := Task{ID: req.TaskID, ProductID: req.ProductID, Mode: req.Mode, Dir: dir}
	entries := make([]resultEntry, 0, len(req.Results))
	for _, r := range req.Results {
		entry := resultEntry{Index: r.Index, Status: r.Status}
		if r.Status == generate.StatusSuccess {
			name := imageName(r.Index, specName(req.Specs, r.Index), req.Mode, r.Image.MIMEType)
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, r.Image.Data, 0o644); err != nil {
				return Task{}, fmt.Errorf("write image %d: %w", r.Index, err)
			}
			entry.Filename = name
			task.Images = append(task.Images, path)
			task.Succeeded++
		} else {
			if r.Err != nil {
				entry.Error = r.Err.Error()
			}
			task.Failed++
		}
		entries = append(entries, entry)
	}
	task.Complete = len(entries) == len(req.Specs)

	data, err := json.MarshalIndent(summary{
		TaskID:    req.TaskID,
		ProductID: req.ProductID,
		Mode:      req.Mode,
		Model:     req.Model,
		Prompts:   req.Specs,
		Results:   entries,
		Succeeded: task.Succeeded,
		Failed:    task.Failed,
		Complete:  task.Complete,
		Usage:     req.Usage,
	}, "", "  ")
	if err != nil {
		return Task{}, fmt.Errorf("marshal results: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, resultsFile), data, 0o644); err != nil {
		return Task{}, fmt.Errorf("write results: %w", err)
	}

	m.logger.Info("task materialized",
		"task_id", req.TaskID,
		"product_id", req.ProductID,
		"mode", req.Mode,
		"succeeded", task.Succeeded,
		"failed", task.Failed,
		"complete", task.Complete,
	)
	return task, nil
}

func (m *Manager) copyReferences(dir string, refs []string) error {
	for i, ref := range refs {
		data, err := os.ReadFile(ref)
		if err != nil {
			return fmt.Errorf("read reference: %w", err)
		}
		ext := strings.ToLower(filepath.Ext(ref))
		name := "reference" + ext
		if len(refs) > 1 {
			name = fmt.Sprintf("reference_%d%s", i+1, ext)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write reference: %w", err)
		}
	}
	return nil
}

func specName(specs []prompt.Spec, index int) string {
	if index >= 0 && index < len(specs) {
		return specs[index].Name
	}
	return ""
}

// imageName is {NN}_{name}{ext} with NN counted from 1.
func imageName(index int, name string, mode prompt.Mode, mimeType string) string {
	safe := unsafeNameRe.ReplaceAllString(name, "_")
	if r := []rune(safe); len(r) > 30 {
		safe = string(r[:30])
	}
	if strings.Trim(safe, "_") == "" {
		safe = string(mode)
	}
	ext, ok := extByMIME[mimeType]
	if !ok {
		ext = ".png"
	}
	return fmt.Sprintf("%02d_%s%s", index+1, safe, ext)
}

// CopyToTarget deep-copies the task into {TargetRoot}/{target}/{taskId}.
// Repeating the copy of an unchanged task is a no-op; a different directory
// already at the destination is ErrTargetCollision.
func (m *Manager) CopyToTarget(task Task, target string) (string, error) {
	if err := fsutil.ValidName(target); err != nil {
		return "", fmt.Errorf("target: %w", err)
	}
	if err := fsutil.ValidName(task.ID); err != nil {
		return "", err
	}

	dst := filepath.Join(m.targetRoot, target, task.ID)
	_, err := os.Stat(dst)
	switch {
	case err == nil:
		same, err := fsutil.SameTree(task.Dir, dst)
		if err != nil {
			return "", fmt.Errorf("compare target: %w", err)
		}
		if !same {
			return "", fmt.Errorf("%w: %s", ErrTargetCollision, dst)
		}
		m.logger.Info("target already up to date", "task_id", task.ID, "target", target)
		return dst, nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", err
	}

	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create target dir: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, "."+task.ID+".tmp.*")
	if err != nil {
		return "", err
	}
	staged := filepath.Join(tmp, "task")
	if err := fsutil.CopyDir(task.Dir, staged); err != nil {
		_ = os.RemoveAll(tmp)
		return "", fmt.Errorf("copy task: %w", err)
	}
	if err := os.Rename(staged, dst); err != nil {
		_ = os.RemoveAll(tmp)
		return "", fmt.Errorf("place copy: %w", err)
	}
	_ = os.RemoveAll(tmp)

	m.logger.Info("task copied", "task_id", task.ID, "target", target, "dir", dst)
	return dst, nil
}

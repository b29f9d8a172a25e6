// Package pipeline runs one invocation end to end: classify inputs, resolve
// the product, load or build prompts, generate, write the task directory and
// optionally copy it to a target.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SihanChen46/ecom/internal/backend"
	"github.com/SihanChen46/ecom/internal/catalog"
	"github.com/SihanChen46/ecom/internal/fsutil"
	"github.com/SihanChen46/ecom/internal/generate"
	"github.com/SihanChen46/ecom/internal/media"
	"github.com/SihanChen46/ecom/internal/output"
	"github.com/SihanChen46/ecom/internal/prompt"
)

type State string

const (
	StateClassify           State = "classify"
	StateResolveProductID   State = "resolve_product_id"
	StateLoadOrBuildPrompts State = "load_or_build_prompts"
	StateGenerate           State = "generate"
	StateMaterialize        State = "materialize"
	StateCopy               State = "copy"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

var (
	ErrNoImages  = errors.New("no images in input")
	ErrAllFailed = errors.New("no image was generated")
)

// StageError names the state a run failed in.
type StageError struct {
	State State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Publisher receives finished runs that produced at least one image.
type Publisher interface {
	Publish(ctx context.Context, caption string, images []string) error
}

type Options struct {
	Classifier *catalog.Classifier
	Prompts    *prompt.Stage
	Generator  *generate.Stage
	Output     *output.Manager
	Loader     *media.Loader
	// Model is recorded in results.json.
	Model     string
	Publisher Publisher
	Logger    *slog.Logger
}

type Pipeline struct {
	classifier *catalog.Classifier
	prompts    *prompt.Stage
	generator  *generate.Stage
	output     *output.Manager
	loader     *media.Loader
	model      string
	publisher  Publisher
	logger     *slog.Logger
}

func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	loader := opts.Loader
	if loader == nil {
		loader = media.NewLoader(media.Options{Logger: logger})
	}
	return &Pipeline{
		classifier: opts.Classifier,
		prompts:    opts.Prompts,
		generator:  opts.Generator,
		output:     opts.Output,
		loader:     loader,
		model:      opts.Model,
		publisher:  opts.Publisher,
		logger:     logger,
	}
}

type Request struct {
	Paths     []string
	ProductID string
	Mode      prompt.Mode
	// Target, when set, copies the finished task to the manual output root.
	Target string
	// Limit keeps only the first Limit prompts; zero keeps all.
	Limit int
}

type Report struct {
	TaskID    string        `json:"taskId"`
	ProductID string        `json:"productId,omitempty"`
	Mode      prompt.Mode   `json:"mode"`
	Dir       string        `json:"dir,omitempty"`
	TargetDir string        `json:"targetDir,omitempty"`
	CacheHit  bool          `json:"cacheHit"`
	Prompts   int           `json:"prompts"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   []string      `json:"skipped,omitempty"`
	State     State         `json:"state"`
	Error     string        `json:"error,omitempty"`
	Usage     backend.Usage `json:"usage"`
}

// NewTaskID is a sortable timestamp plus a random suffix.
func NewTaskID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return time.Now().Format("20060102_150405") + "_" + suffix
}

// Run executes req. The returned report is filled as far as the run got, also
// when an error is returned.
func (p *Pipeline) Run(ctx context.Context, req Request) (Report, error) {
	start := time.Now()
	rep := Report{TaskID: NewTaskID(), Mode: req.Mode, State: StateClassify}
	logger := p.logger.With("task_id", rep.TaskID, "mode", req.Mode)

	fail := func(state State, err error) (Report, error) {
		rep.State = StateFailed
		rep.Error = err.Error()
		logger.Error("run failed", "state", state, "err", err)
		return rep, &StageError{State: state, Err: err}
	}
	enter := func(state State) {
		rep.State = state
		logger.Debug("state", "state", state)
	}

	if _, err := prompt.ParseMode(string(req.Mode)); err != nil {
		return fail(StateClassify, err)
	}

	inputs := p.classifier.Classify(req.Paths)
	for _, s := range inputs.Skipped {
		rep.Skipped = append(rep.Skipped, s.Path)
	}
	if len(inputs.Images()) == 0 {
		return fail(StateClassify, ErrNoImages)
	}

	enter(StateResolveProductID)
	productID, err := p.classifier.ResolveProductID(req.ProductID, req.Paths)
	if err != nil {
		return fail(StateResolveProductID, err)
	}
	if err := fsutil.ValidName(productID); err != nil {
		return fail(StateResolveProductID, err)
	}
	rep.ProductID = productID
	logger = logger.With("product_id", productID)

	enter(StateLoadOrBuildPrompts)
	built, err := p.prompts.Build(ctx, prompt.Request{ProductID: productID, Mode: req.Mode, Inputs: inputs})
	if err != nil {
		return fail(StateLoadOrBuildPrompts, err)
	}
	specs := built.Specs
	if req.Limit > 0 && req.Limit < len(specs) {
		specs = specs[:req.Limit]
	}
	rep.CacheHit = built.CacheHit
	rep.Prompts = len(specs)
	rep.Usage = built.Usage

	enter(StateGenerate)
	jobs, err := p.jobs(req.Mode, specs)
	if err != nil {
		return fail(StateGenerate, err)
	}
	results, runErr := p.generator.Run(ctx, jobs)
	for _, r := range results {
		rep.Usage = rep.Usage.Add(r.Image.Usage)
	}

	enter(StateMaterialize)
	task, err := p.output.Materialize(output.Request{
		TaskID:     rep.TaskID,
		ProductID:  productID,
		Mode:       req.Mode,
		Model:      p.model,
		Specs:      specs,
		Results:    results,
		References: references(specs),
		Analysis:   built.Analysis,
		Usage:      rep.Usage,
	})
	if err != nil {
		return fail(StateMaterialize, err)
	}
	rep.Dir = task.Dir
	rep.Succeeded = task.Succeeded
	rep.Failed = task.Failed

	if runErr != nil {
		return fail(StateGenerate, runErr)
	}
	if task.Succeeded == 0 {
		return fail(StateGenerate, ErrAllFailed)
	}

	if req.Target != "" {
		enter(StateCopy)
		dst, err := p.output.CopyToTarget(task, req.Target)
		if err != nil {
			return fail(StateCopy, err)
		}
		rep.TargetDir = dst
	}

	p.publish(ctx, logger, rep, task.Images)

	rep.State = StateDone
	logger.Info("run finished",
		"succeeded", rep.Succeeded,
		"failed", rep.Failed,
		"cache_hit", rep.CacheHit,
		"cost_usd", rep.Usage.CostUSD,
		"dur_ms", time.Since(start).Milliseconds(),
	)
	return rep, nil
}

func (p *Pipeline) jobs(mode prompt.Mode, specs []prompt.Spec) ([]generate.Job, error) {
	jobs := make([]generate.Job, 0, len(specs))
	for _, sp := range specs {
		refs, err := p.loader.Images(sp.ReferenceImages)
		if err != nil {
			return nil, fmt.Errorf("prompt %d references: %w", sp.Index, err)
		}
		jobs = append(jobs, generate.Job{
			Index:      sp.Index,
			Prompt:     prompt.Render(mode, sp),
			References: refs,
		})
	}
	return jobs, nil
}

// references lists every bound image once, in first-use order.
func references(specs []prompt.Spec) []string {
	seen := make(map[string]bool)
	var out []string
	for _, sp := range specs {
		for _, ref := range sp.ReferenceImages {
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}
	return out
}

func (p *Pipeline) publish(ctx context.Context, logger *slog.Logger, rep Report, images []string) {
	if p.publisher == nil {
		return
	}
	caption := fmt.Sprintf("%s · %s · %d/%d images · task %s", rep.ProductID, rep.Mode, rep.Succeeded, rep.Prompts, rep.TaskID)
	if err := p.publisher.Publish(ctx, caption, images); err != nil {
		logger.Warn("publish failed", "err", err)
	}
}

// Package generate fans image prompts out to the backend through a bounded
// worker pool and collects one result per prompt.
package generate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/SihanChen46/ecom/internal/backend"
	"github.com/SihanChen46/ecom/internal/media"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

type Job struct {
	Index      int
	Prompt     string
	References []media.Blob
}

type Result struct {
	Index    int
	Status   Status
	Image    backend.Image
	Err      error
	Attempts int
}

type Options struct {
	// Workers caps concurrent backend calls. The pool is never larger than
	// the number of jobs.
	Workers    int
	Retries    int
	RetryDelay time.Duration
	// Interval spaces call starts; zero leaves calls unpaced.
	Interval time.Duration
	Logger   *slog.Logger
	// OnResult is called once per finished job from worker goroutines.
	OnResult func(Result)
}

type Stage struct {
	client     backend.Client
	workers    int
	retries    int
	retryDelay time.Duration
	interval   time.Duration
	logger     *slog.Logger
	onResult   func(Result)
}

func New(client backend.Client, opts Options) *Stage {
	workers := opts.Workers
	if workers < 1 {
		workers = 5
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Stage{
		client:     client,
		workers:    workers,
		retries:    retries,
		retryDelay: opts.RetryDelay,
		interval:   opts.Interval,
		logger:     logger,
		onResult:   opts.OnResult,
	}
}

// Run issues one backend call per job and returns the collected results
// sorted by index. A failing job never stops the others. When ctx ends,
// jobs that did not finish are left out and ctx's error is returned with
// whatever was collected.
func (s *Stage) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	if len(jobs) == 0 {
		return nil, ctx.Err()
	}

	var limiter *rate.Limiter
	if s.interval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.interval), 1)
	}

	slots := make([]*Result, len(jobs))
	g := new(errgroup.Group)
	g.SetLimit(min(s.workers, len(jobs)))

	start := time.Now()
	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, ok := s.runJob(ctx, limiter, job)
			if !ok {
				return nil
			}
			slots[i] = &res
			if s.onResult != nil {
				s.onResult(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	results := make([]Result, 0, len(jobs))
	failed := 0
	for _, r := range slots {
		if r == nil {
			continue
		}
		if r.Status == StatusFailure {
			failed++
		}
		results = append(results, *r)
	}
	sort.Slice(results, func(a, b int) bool { return results[a].Index < results[b].Index })

	s.logger.Info("generation finished",
		"jobs", len(jobs),
		"collected", len(results),
		"failed", failed,
		"dur_ms", time.Since(start).Milliseconds(),
	)
	return results, ctx.Err()
}

// runJob reports ok=false when the job was cut short by ctx and has no
// result worth recording.
func (s *Stage) runJob(ctx context.Context, limiter *rate.Limiter, job Job) (Result, bool) {
	res := Result{Index: job.Index}
	for attempt := 0; ; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return res, false
			}
		}
		if ctx.Err() != nil {
			return res, false
		}

		res.Attempts = attempt + 1
		img, err := s.client.GenerateImage(ctx, backend.ImageRequest{
			Prompt:     job.Prompt,
			References: job.References,
		})
		if err == nil {
			res.Status = StatusSuccess
			res.Image = img
			s.logger.Debug("image generated", "index", job.Index, "attempt", res.Attempts, "bytes", len(img.Data))
			return res, true
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return res, false
		}

		if !backend.Retryable(err) || attempt >= s.retries {
			res.Status = StatusFailure
			res.Err = err
			s.logger.Warn("image failed", "index", job.Index, "attempt", res.Attempts, "err", err)
			return res, true
		}

		delay := s.retryDelay * time.Duration(attempt+1)
		s.logger.Info("retrying image", "index", job.Index, "attempt", res.Attempts, "delay_ms", delay.Milliseconds(), "err", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return res, false
		}
	}
}

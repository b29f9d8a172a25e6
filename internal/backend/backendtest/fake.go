// Package backendtest provides an in-memory backend.Client for tests.
package backendtest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SihanChen46/ecom/internal/backend"
)

// Fake answers from scripted funcs. Zero-value behaviour: Analyze returns
// AnalysisText and GenerateImage returns a tiny PNG payload.
type Fake struct {
	AnalysisText string
	AnalyzeFunc  func(ctx context.Context, req backend.AnalyzeRequest) (backend.Analysis, error)
	ImageFunc    func(ctx context.Context, call int, req backend.ImageRequest) (backend.Image, error)
	// Delay holds each GenerateImage call open so concurrency can be observed.
	Delay time.Duration

	analyzeCalls atomic.Int32
	imageCalls   atomic.Int32
	inFlight     atomic.Int32
	maxInFlight  atomic.Int32

	mu       sync.Mutex
	requests []backend.ImageRequest
}

func (f *Fake) Analyze(ctx context.Context, req backend.AnalyzeRequest) (backend.Analysis, error) {
	f.analyzeCalls.Add(1)
	if f.AnalyzeFunc != nil {
		return f.AnalyzeFunc(ctx, req)
	}
	return backend.Analysis{Text: f.AnalysisText, Usage: backend.Usage{PromptTokens: 10, OutputTokens: 20, TotalTokens: 30}}, nil
}

func (f *Fake) GenerateImage(ctx context.Context, req backend.ImageRequest) (backend.Image, error) {
	call := int(f.imageCalls.Add(1))
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return backend.Image{}, ctx.Err()
		}
	}

	if f.ImageFunc != nil {
		return f.ImageFunc(ctx, call, req)
	}
	return backend.Image{Data: PNG, MIMEType: "image/png", Usage: backend.Usage{Images: 1}}, nil
}

func (f *Fake) AnalyzeCalls() int {
	return int(f.analyzeCalls.Load())
}

func (f *Fake) ImageCalls() int {
	return int(f.imageCalls.Load())
}

// MaxInFlight is the highest number of concurrent GenerateImage calls seen.
func (f *Fake) MaxInFlight() int {
	return int(f.maxInFlight.Load())
}

// Requests returns the image requests received, in arrival order.
func (f *Fake) Requests() []backend.ImageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]backend.ImageRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// PNG is the payload returned by default.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

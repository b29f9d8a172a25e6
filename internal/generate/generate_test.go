package generate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SihanChen46/ecom/internal/backend"
	"github.com/SihanChen46/ecom/internal/backend/backendtest"
)

func jobs(n int) []Job {
	out := make([]Job, n)
	for i := range out {
		out[i] = Job{Index: i, Prompt: fmt.Sprintf("prompt-%d", i)}
	}
	return out
}

func promptIndex(req backend.ImageRequest) int {
	var i int
	_, _ = fmt.Sscanf(req.Prompt, "prompt-%d", &i)
	return i
}

func TestRunReturnsIndexOrder(t *testing.T) {
	fake := &backendtest.Fake{ImageFunc: func(ctx context.Context, call int, req backend.ImageRequest) (backend.Image, error) {
		// later jobs finish first
		time.Sleep(time.Duration(10-promptIndex(req)) * time.Millisecond)
		return backend.Image{Data: []byte(req.Prompt), MIMEType: "image/png"}, nil
	}}

	results, err := New(fake, Options{Workers: 5}).Run(context.Background(), jobs(10))
	require.NoError(t, err)
	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, StatusSuccess, r.Status)
		assert.Equal(t, fmt.Sprintf("prompt-%d", i), string(r.Image.Data))
	}
}

func TestRunPartialFailure(t *testing.T) {
	rejected := map[int]bool{2: true, 5: true, 7: true}
	fake := &backendtest.Fake{ImageFunc: func(ctx context.Context, call int, req backend.ImageRequest) (backend.Image, error) {
		if rejected[promptIndex(req)] {
			return backend.Image{}, &backend.Error{Kind: backend.ErrRejected, Message: "policy"}
		}
		return backend.Image{Data: backendtest.PNG, MIMEType: "image/png"}, nil
	}}

	results, err := New(fake, Options{Workers: 5, Retries: 2}).Run(context.Background(), jobs(10))
	require.NoError(t, err)
	require.Len(t, results, 10)

	var ok, failed int
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			ok++
		case StatusFailure:
			failed++
			assert.True(t, rejected[r.Index])
			assert.ErrorIs(t, r.Err, backend.ErrRejected)
			assert.Equal(t, 1, r.Attempts, "rejections are not retried")
		}
	}
	assert.Equal(t, 7, ok)
	assert.Equal(t, 3, failed)
	assert.Equal(t, 10, fake.ImageCalls())
}

func TestRunRetriesUnavailable(t *testing.T) {
	var mu sync.Mutex
	attempts := map[int]int{}
	fake := &backendtest.Fake{ImageFunc: func(ctx context.Context, call int, req backend.ImageRequest) (backend.Image, error) {
		idx := promptIndex(req)
		mu.Lock()
		attempts[idx]++
		n := attempts[idx]
		mu.Unlock()

		switch {
		case idx == 0 && n <= 2:
			return backend.Image{}, &backend.Error{Kind: backend.ErrUnavailable, Status: 503}
		case idx == 1:
			return backend.Image{}, &backend.Error{Kind: backend.ErrUnavailable, Status: 500}
		case idx == 2:
			return backend.Image{}, &backend.Error{Kind: backend.ErrEmptyResponse}
		}
		return backend.Image{Data: backendtest.PNG, MIMEType: "image/png"}, nil
	}}

	results, err := New(fake, Options{Workers: 3, Retries: 2, RetryDelay: time.Millisecond}).Run(context.Background(), jobs(3))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, StatusSuccess, results[0].Status)
	assert.Equal(t, 3, results[0].Attempts)

	assert.Equal(t, StatusFailure, results[1].Status)
	assert.Equal(t, 3, results[1].Attempts)
	assert.ErrorIs(t, results[1].Err, backend.ErrUnavailable)

	assert.Equal(t, StatusFailure, results[2].Status)
	assert.Equal(t, 1, results[2].Attempts)
}

func TestRunBoundsConcurrency(t *testing.T) {
	fake := &backendtest.Fake{Delay: 20 * time.Millisecond}

	results, err := New(fake, Options{Workers: 3}).Run(context.Background(), jobs(10))
	require.NoError(t, err)
	assert.Len(t, results, 10)
	assert.LessOrEqual(t, fake.MaxInFlight(), 3)
	assert.GreaterOrEqual(t, fake.MaxInFlight(), 1)
}

func TestRunCancelKeepsOnlyCollected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &backendtest.Fake{ImageFunc: func(ctx context.Context, call int, req backend.ImageRequest) (backend.Image, error) {
		if call == 2 {
			cancel()
			return backend.Image{}, ctx.Err()
		}
		return backend.Image{Data: backendtest.PNG, MIMEType: "image/png"}, nil
	}}

	results, err := New(fake, Options{Workers: 1, Retries: 2}).Run(ctx, jobs(5))
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, 2, fake.ImageCalls())
}

func TestRunReportsEachResult(t *testing.T) {
	var seen atomic.Int32
	fake := &backendtest.Fake{}
	stage := New(fake, Options{Workers: 4, OnResult: func(Result) { seen.Add(1) }})

	_, err := stage.Run(context.Background(), jobs(6))
	require.NoError(t, err)
	assert.Equal(t, int32(6), seen.Load())
}

func TestRunPacesCalls(t *testing.T) {
	fake := &backendtest.Fake{}
	start := time.Now()

	_, err := New(fake, Options{Workers: 3, Interval: 15 * time.Millisecond}).Run(context.Background(), jobs(3))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRunEmpty(t *testing.T) {
	results, err := New(&backendtest.Fake{}, Options{}).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

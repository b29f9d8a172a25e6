// Package backend hides the remote generation service behind one capability
// interface. Adapters exist per model family and are picked by configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SihanChen46/ecom/internal/media"
)

var (
	// ErrUnavailable covers network and auth failures. It is the only kind
	// worth retrying.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrRejected covers content-policy blocks and quota refusals.
	ErrRejected = errors.New("backend rejected request")
	// ErrEmptyResponse means the call succeeded but carried no usable output.
	ErrEmptyResponse = errors.New("backend returned no output")
)

// Error carries transport detail for one failed call and unwraps to its kind.
type Error struct {
	Kind    error
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%v: status %d: %s", e.Kind, e.Status, e.Message)
	}
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Retryable reports whether err is transient.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func statusKind(code int) error {
	switch {
	case code == http.StatusRequestTimeout, code >= 500:
		return ErrUnavailable
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}

// transportError classifies a failure that produced no HTTP status. Errors
// caused by the caller's own context are passed through untouched.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return &Error{Kind: ErrUnavailable, Message: err.Error()}
}

type AnalyzeRequest struct {
	Images       []media.Blob
	Documents    []media.Blob
	Instructions string
}

type Analysis struct {
	Text  string
	Usage Usage
}

type ImageRequest struct {
	Prompt     string
	References []media.Blob
	// AspectRatio defaults to 1:1.
	AspectRatio string
}

type Image struct {
	Data     []byte
	MIMEType string
	Usage    Usage
}

type Client interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error)
	GenerateImage(ctx context.Context, req ImageRequest) (Image, error)
}

type Options struct {
	Model      Model
	TextModel  string
	APIKey     string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New returns the adapter for opts.Model's family.
func New(ctx context.Context, opts Options) (Client, error) {
	if opts.Model.ID == "" {
		return nil, errors.New("backend model is not set")
	}
	if opts.Model.Imagen() {
		return NewImagen(ctx, opts)
	}
	return NewGemini(opts), nil
}

func defaultAspectRatio(v string) string {
	if v == "" {
		return "1:1"
	}
	return v
}

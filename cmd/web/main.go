package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/schema"
	"github.com/joho/godotenv"

	"github.com/SihanChen46/ecom/internal/app"
	"github.com/SihanChen46/ecom/internal/backend"
	"github.com/SihanChen46/ecom/internal/catalog"
	"github.com/SihanChen46/ecom/internal/config"
	"github.com/SihanChen46/ecom/internal/fsutil"
	"github.com/SihanChen46/ecom/internal/output"
	"github.com/SihanChen46/ecom/internal/pipeline"
	"github.com/SihanChen46/ecom/internal/prompt"
)

const maxUploadBytes = 200 << 20

type runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Report, error)
}

type server struct {
	runner     runner
	catalogDir string
	outputDir  string
	timeout    time.Duration
	logger     *slog.Logger
}

type runForm struct {
	ProductID string `schema:"product_id"`
	Mode      string `schema:"mode"`
	Target    string `schema:"target"`
	Limit     int    `schema:"limit"`
}

var formDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

type apiError struct {
	Error string `json:"error"`
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := app.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := app.NewPipeline(ctx, app.Options{Config: cfg, Logger: logger})
	if err != nil {
		logger.Error("pipeline init failed", "err", err)
		os.Exit(1)
	}

	s := &server{
		runner:     p,
		catalogDir: cfg.CatalogDir,
		outputDir:  cfg.OutputDir,
		timeout:    cfg.RequestTimeout,
		logger:     logger,
	}

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           withLogging(s.routes(), logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      cfg.RequestTimeout + time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("web started", "addr", cfg.WebAddr, "model", cfg.Model)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

type modelInfo struct {
	Family backend.Family `json:"family"`
	ID     string         `json:"id"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", s.handleRun)
		r.Get("/models", s.handleModels)
	})
	r.Get("/outputs/*", http.StripPrefix("/outputs/", http.FileServer(http.Dir(s.outputDir))).ServeHTTP)
	return r
}

func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	models := backend.Models()
	out := make([]modelInfo, len(models))
	for i, m := range models {
		out[i] = modelInfo{Family: m.Family, ID: m.ID}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	var form runForm
	if err := formDecoder.Decode(&form, r.MultipartForm.Value); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid form: " + err.Error()})
		return
	}

	productID := strings.TrimSpace(form.ProductID)
	if err := fsutil.ValidName(productID); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "product_id: " + err.Error()})
		return
	}

	if strings.TrimSpace(form.Mode) == "" {
		form.Mode = string(prompt.ModeCover)
	}
	mode, err := prompt.ParseMode(form.Mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	if form.Limit < 0 {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid limit"})
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "missing files"})
		return
	}

	uploadDir := filepath.Join(s.catalogDir, productID, "uploads", uuid.NewString())
	paths, err := saveUploads(uploadDir, files)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	rep, err := s.runner.Run(ctx, pipeline.Request{
		Paths:     paths,
		ProductID: productID,
		Mode:      mode,
		Target:    strings.TrimSpace(form.Target),
		Limit:     form.Limit,
	})
	if err != nil {
		s.logger.Warn("run failed", "task_id", rep.TaskID, "product_id", productID, "err", err)
		writeJSON(w, statusFor(err), rep)
		return
	}

	writeJSON(w, http.StatusOK, rep)
}

// saveUploads writes files into dir in form order. Repeated file names get a
// _2, _3 ... suffix so every upload keeps its own path.
func saveUploads(dir string, files []*multipart.FileHeader) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	seen := make(map[string]int, len(files))
	paths := make([]string, 0, len(files))
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		if err := fsutil.ValidName(name); err != nil {
			return nil, fmt.Errorf("file %q: %w", fh.Filename, err)
		}
		name = uniqueName(seen, name)

		src, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload: %w", err)
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}

		path := filepath.Join(dir, name)
		if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("save upload: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func uniqueName(seen map[string]int, name string) string {
	key := strings.ToLower(name)
	seen[key]++
	n := seen[key]
	if n == 1 {
		return name
	}
	ext := filepath.Ext(name)
	candidate := fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
	if seen[strings.ToLower(candidate)] > 0 {
		return uniqueName(seen, candidate)
	}
	seen[strings.ToLower(candidate)]++
	return candidate
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNoImages),
		errors.Is(err, catalog.ErrMissingProductID),
		errors.Is(err, prompt.ErrNotEnoughImages),
		errors.Is(err, fsutil.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, output.ErrTargetCollision):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("http", "method", r.Method, "path", r.URL.Path, "dur_ms", time.Since(start).Milliseconds())
	})
}

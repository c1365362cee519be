// Package server exposes the reference analyze and generate services over
// HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	"github.com/mrsinham/dicomcraft/internal/api"
	"github.com/mrsinham/dicomcraft/internal/config"
	"github.com/mrsinham/dicomcraft/internal/dicom"
	"github.com/mrsinham/dicomcraft/internal/logging"
)

// HealthMessage is the body of GET {base}/health.
const HealthMessage = "DICOM Craft API is running"

const (
	maxUploadMemory  = 32 << 20
	maxGenerateBytes = 512 << 20
)

// Server serves the analyze, generate and health endpoints under a base path.
type Server struct {
	cfg       config.ServerConfig
	analyzer  *dicom.Analyzer
	generator *dicom.Generator
	handler   http.Handler
}

// New returns a Server configured by cfg.
func New(cfg config.ServerConfig) *Server {
	s := &Server{
		cfg: cfg,
		analyzer: &dicom.Analyzer{
			MaxInlinePixelBytes: cfg.MaxInlinePixelBytes,
			ConvertImage:        cfg.ConvertImage,
		},
		generator: dicom.NewGenerator(),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the HTTP handler with CORS and, if enabled, gzip applied.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	base := strings.TrimSuffix(s.cfg.BasePath, "/")
	if base == "" {
		base = api.DefaultBasePath
	}

	mux := web.New()
	mux.Use(middleware.RequestID)
	mux.Use(logRequests)
	mux.Use(middleware.Recoverer)
	mux.Get(base+"/health", s.health)
	mux.Post(base+"/analyze", s.analyze)
	mux.Post(base+"/generate", s.generate)

	var h http.Handler = mux
	if s.cfg.Gzip {
		h = gzhttp.GzipHandler(h)
	}
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(h)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Infof("Web server listening at %s ...", s.cfg.Address)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logging.Infof("Shutting down web server at %s", s.cfg.Address)
		return srv.Shutdown(shutdownCtx)
	}
}

// logRequests logs each request with its goji request id and duration.
func logRequests(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		tl := logging.NewTimeLog()
		h.ServeHTTP(w, r)
		tl.Debugf("[%s] %s %s", middleware.GetReqID(*c), r.Method, r.URL.Path)
	}
	return http.HandlerFunc(fn)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, HealthMessage)
}

func (s *Server) analyze(c web.C, w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, api.AnalysisResponse{
			AnalysisStatus: api.StatusError,
			ErrorMessage:   fmt.Sprintf("invalid multipart upload: %v", err),
		})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, api.AnalysisResponse{
			AnalysisStatus: api.StatusError,
			ErrorMessage:   "missing multipart field \"file\"",
		})
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size == 0 {
		writeJSON(w, http.StatusBadRequest, api.AnalysisResponse{
			FileName:       header.Filename,
			AnalysisStatus: api.StatusError,
			ErrorMessage:   "uploaded file is empty",
		})
		return
	}
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".dcm", ".dicom":
	default:
		logging.Warningf("[%s] unexpected extension on %q, analyzing anyway", middleware.GetReqID(c), header.Filename)
	}

	resp := s.analyzer.Analyze(file, header.Size, header.Filename)
	if resp.AnalysisStatus != api.StatusSuccess {
		logging.Errorf("[%s] analysis of %q failed: %s", middleware.GetReqID(c), header.Filename, resp.ErrorMessage)
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	logging.Infof("[%s] analyzed %q: %d tags", middleware.GetReqID(c), header.Filename, len(resp.Tags))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) generate(c web.C, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxGenerateBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, generationError(fmt.Errorf("reading request: %w", err)))
		return
	}
	req, err := api.DecodeGenerationRequest(body)
	if err != nil {
		logging.Warningf("[%s] rejected generate request: %v", middleware.GetReqID(c), err)
		writeJSON(w, http.StatusBadRequest, generationError(err))
		return
	}

	resp := s.generator.Generate(req)
	if resp.GenerationStatus != api.StatusSuccess {
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	logging.Infof("[%s] generated %s (%d bytes)", middleware.GetReqID(c), resp.FileName, resp.FileSize)
	writeJSON(w, http.StatusOK, resp)
}

func generationError(err error) api.GenerationResponse {
	return api.GenerationResponse{
		FileName:         api.DefaultFileName,
		GenerationStatus: api.StatusError,
		ErrorMessage:     err.Error(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Errorf("writing response: %v", err)
	}
}

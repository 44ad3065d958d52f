package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/docutag/brandscan"
	"github.com/docutag/brandscan/db"
	"github.com/docutag/brandscan/metrics"
	"github.com/docutag/brandscan/models"
	"github.com/docutag/brandscan/slug"
	"github.com/docutag/brandscan/storage"
)

// Extractor runs brand extractions
type Extractor interface {
	Extract(ctx context.Context, rawURL string, opts brandscan.PipelineOptions) (*brandscan.Result, error)
}

// Assistant answers questions in a brand's voice
type Assistant interface {
	Reply(ctx context.Context, record models.BrandRecord, message string) (string, error)
}

// Store persists extraction history
type Store interface {
	SaveExtraction(ctx context.Context, e *models.Extraction) error
	GetByID(ctx context.Context, id string) (*models.Extraction, error)
	GetByURL(ctx context.Context, url string) (*models.Extraction, error)
	List(ctx context.Context, limit, offset int) ([]*models.Extraction, error)
	Count(ctx context.Context) (int, error)
	DeleteByID(ctx context.Context, id string) error
}

// Cache holds recent extractions by URL
type Cache interface {
	Get(ctx context.Context, url string) (*models.Extraction, bool, error)
	Set(ctx context.Context, e *models.Extraction) error
	Delete(ctx context.Context, url string) error
}

// Config contains server configuration
type Config struct {
	Addr           string
	CORSEnabled    bool
	RequestTimeout time.Duration // Upper bound for one extraction request
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		CORSEnabled:    true,
		RequestTimeout: 3 * time.Minute,
	}
}

// Deps are the server's collaborators. Only Extractor is required.
type Deps struct {
	Extractor Extractor
	Assistant Assistant
	Store     Store
	Cache     Cache
	Blobs     storage.Store
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

// Server represents the API server
type Server struct {
	config    Config
	extractor Extractor
	assistant Assistant
	store     Store
	cache     Cache
	blobs     storage.Store
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	validate  *validator.Validate
	server    *http.Server
	mux       *http.ServeMux
}

// NewServer creates a new API server
func NewServer(config Config, deps Deps) (*Server, error) {
	if deps.Extractor == nil {
		return nil, errors.New("an extractor is required")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:    config,
		extractor: deps.Extractor,
		assistant: deps.Assistant,
		store:     deps.Store,
		cache:     deps.Cache,
		blobs:     deps.Blobs,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
		logger:    logger,
		validate:  newValidator(),
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.middleware(s.mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: config.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/extract", s.metrics.Middleware("/api/extract", s.handleExtract))
	s.mux.HandleFunc("/api/extractions", s.metrics.Middleware("/api/extractions", s.handleList))
	s.mux.HandleFunc("/api/extractions/", s.metrics.Middleware("/api/extractions/{id}", s.handleExtraction)) // {id}, {id}/content, {id}/logo
	s.mux.HandleFunc("/api/assistant", s.metrics.Middleware("/api/assistant", s.handleAssistant))
	if s.gatherer != nil {
		s.mux.Handle("/metrics", metrics.Handler(s.gatherer))
	}
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.config.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// middleware applies CORS and request logging
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.CORSEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		// Health checks and metrics scrapes are not logged
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request completed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	}
	if s.store != nil {
		count, err := s.store.Count(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to get count")
			return
		}
		body["count"] = count
	}
	respondJSON(w, http.StatusOK, body)
}

// handleExtract runs or reuses an extraction for a URL
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	targetURL, err := brandscan.NormalizeURL(req.URL)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Only default-shaped requests are served from and written to history,
	// so a stored record always reflects the default options.
	reusable := !req.IncludeImages &&
		(req.MaxLinks == 0 || req.MaxLinks == brandscan.DefaultMaxLinks) &&
		(req.PreferProvider == nil || *req.PreferProvider)

	if reusable && !req.Force {
		if existing := s.lookup(r.Context(), targetURL); existing != nil {
			existing.Cached = true
			respondJSON(w, http.StatusOK, existing)
			return
		}
	}

	opts := brandscan.DefaultOptions()
	if req.PreferProvider != nil {
		opts.PreferProvider = *req.PreferProvider
	}
	if req.MaxLinks > 0 {
		opts.MaxLinks = req.MaxLinks
	}
	opts.IncludeImages = req.IncludeImages

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	result, err := s.extractor.Extract(ctx, targetURL, opts)
	if err != nil {
		respondExtractError(w, err)
		return
	}

	extraction := &models.Extraction{
		ID:             uuid.New().String(),
		URL:            targetURL,
		Record:         result.Record,
		CreatedAt:      time.Now().UTC(),
		ProcessingTime: result.Duration.Seconds(),
		Warnings:       result.Warnings,
		FetchPath:      result.FetchPath,
	}

	if reusable {
		s.persist(r.Context(), extraction, result)
	}

	respondJSON(w, http.StatusOK, extraction)
}

// lookup checks the cache, then stored history. Errors are logged and treated as misses.
func (s *Server) lookup(ctx context.Context, url string) *models.Extraction {
	if s.cache != nil {
		e, ok, err := s.cache.Get(ctx, url)
		if err != nil {
			s.logger.Warn("cache lookup failed", "url", url, "error", err)
		}
		s.metrics.RecordCache(ok)
		if ok {
			return e
		}
	}

	if s.store != nil {
		e, err := s.store.GetByURL(ctx, url)
		if err != nil {
			s.logger.Warn("history lookup failed", "url", url, "error", err)
			return nil
		}
		if e != nil && s.cache != nil {
			if err := s.cache.Set(ctx, e); err != nil {
				s.logger.Warn("failed to cache extraction", "url", url, "error", err)
			}
		}
		return e
	}
	return nil
}

// persist saves snapshots, history and cache. Failures are logged; the
// extraction is still returned to the caller.
func (s *Server) persist(ctx context.Context, e *models.Extraction, result *brandscan.Result) {
	if s.blobs != nil {
		name := slug.FromURL(e.URL)
		if key, err := s.blobs.SaveContent(ctx, result.Content, name); err != nil {
			s.logger.Warn("failed to save content snapshot", "url", e.URL, "error", err)
		} else {
			e.ContentPath = key
		}
		if result.Logo != nil {
			if key, err := s.blobs.SaveLogo(ctx, result.Logo.Data, name, result.Logo.ContentType); err != nil {
				s.logger.Warn("failed to save logo", "url", e.URL, "error", err)
			} else {
				e.LogoPath = key
				e.LogoType = result.Logo.ContentType
			}
		}
	}

	if s.store != nil {
		if err := s.store.SaveExtraction(ctx, e); err != nil {
			s.logger.Error("failed to save extraction", "url", e.URL, "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, e); err != nil {
			s.logger.Warn("failed to cache extraction", "url", e.URL, "error", err)
		}
	}
}

// handleList lists stored extractions with pagination
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "extraction history is not configured")
		return
	}

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	items, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	for _, item := range items {
		item.Cached = true
	}

	total, err := s.store.Count(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"extractions": items,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

// handleExtraction routes /api/extractions/{id}[/content|/logo]
func (s *Server) handleExtraction(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/extractions/"), "/")
	if path == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "extraction history is not configured")
		return
	}

	id, sub, _ := strings.Cut(path, "/")
	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.handleGetByID(w, r, id)
	case sub == "" && r.Method == http.MethodDelete:
		s.handleDeleteByID(w, r, id)
	case sub == "content" && r.Method == http.MethodGet:
		s.handleServeContent(w, r, id)
	case sub == "logo" && r.Method == http.MethodGet:
		s.handleServeLogo(w, r, id)
	case sub != "" && sub != "content" && sub != "logo":
		respondError(w, http.StatusNotFound, "not found")
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleGetByID(w http.ResponseWriter, r *http.Request, id string) {
	e, ok := s.findExtraction(w, r, id)
	if !ok {
		return
	}
	e.Cached = true
	respondJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteByID(w http.ResponseWriter, r *http.Request, id string) {
	e, ok := s.findExtraction(w, r, id)
	if !ok {
		return
	}

	if err := s.store.DeleteByID(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "extraction not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete extraction")
		return
	}

	if s.cache != nil {
		if err := s.cache.Delete(r.Context(), e.URL); err != nil {
			s.logger.Warn("failed to evict cache entry", "url", e.URL, "error", err)
		}
	}
	if s.blobs != nil {
		for _, key := range []string{e.ContentPath, e.LogoPath} {
			if key == "" {
				continue
			}
			if err := s.blobs.Delete(r.Context(), key); err != nil {
				s.logger.Warn("failed to delete stored file", "key", key, "error", err)
			}
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "extraction deleted successfully",
	})
}

// handleServeContent serves the reduced content that was sent to the model
func (s *Server) handleServeContent(w http.ResponseWriter, r *http.Request, id string) {
	e, ok := s.findExtraction(w, r, id)
	if !ok {
		return
	}
	if s.blobs == nil || e.ContentPath == "" {
		respondError(w, http.StatusNotFound, "content snapshot not available")
		return
	}

	content, err := s.blobs.ReadContent(r.Context(), e.ContentPath)
	if err != nil {
		s.respondStorageError(w, e.ContentPath, err)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content))
}

// handleServeLogo serves the verified logo downloaded during extraction
func (s *Server) handleServeLogo(w http.ResponseWriter, r *http.Request, id string) {
	e, ok := s.findExtraction(w, r, id)
	if !ok {
		return
	}
	if s.blobs == nil || e.LogoPath == "" {
		respondError(w, http.StatusNotFound, "logo not available")
		return
	}

	data, err := s.blobs.ReadLogo(r.Context(), e.LogoPath)
	if err != nil {
		s.respondStorageError(w, e.LogoPath, err)
		return
	}

	contentType := e.LogoType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// findExtraction loads an extraction by ID, writing the error response when it fails
func (s *Server) findExtraction(w http.ResponseWriter, r *http.Request, id string) (*models.Extraction, bool) {
	e, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return nil, false
	}
	if e == nil {
		respondError(w, http.StatusNotFound, "extraction not found")
		return nil, false
	}
	return e, true
}

func (s *Server) respondStorageError(w http.ResponseWriter, key string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "stored file not found")
		return
	}
	s.logger.Error("failed to read stored file", "key", key, "error", err)
	respondError(w, http.StatusInternalServerError, "storage error")
}

// handleAssistant answers a customer question in the voice of a brand
func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.assistant == nil {
		respondError(w, http.StatusServiceUnavailable, "assistant is not configured")
		return
	}

	var req models.AssistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	reply, err := s.assistant.Reply(ctx, req.Record, req.Message)
	if err != nil {
		respondExtractError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models.AssistantResponse{Reply: reply})
}

// StatusFor maps a pipeline error to an HTTP status
func StatusFor(err error) int {
	var fe *brandscan.FetchError
	switch {
	case errors.Is(err, brandscan.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &fe):
		if fe.Status >= 400 && fe.Status < 500 {
			return fe.Status
		}
		return http.StatusBadGateway
	case errors.Is(err, brandscan.ErrParseFailed), errors.Is(err, brandscan.ErrInvalidSchema):
		return http.StatusBadGateway
	case errors.Is(err, brandscan.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondExtractError writes err with its mapped status. Parse failures carry
// the raw model output.
func respondExtractError(w http.ResponseWriter, err error) {
	status := StatusFor(err)

	var pe *brandscan.ParseError
	switch {
	case errors.As(err, &pe):
		respondJSON(w, status, map[string]string{
			"error": pe.Error(),
			"raw":   pe.Raw,
		})
	case errors.Is(err, brandscan.ErrInvalidSchema):
		respondError(w, status, brandscan.ErrInvalidSchema.Error())
	default:
		respondError(w, status, err.Error())
	}
}

// validationMessage turns validator errors into a short client message
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

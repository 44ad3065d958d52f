// Package brandscan turns a website URL into a normalized brand record.
//
// The pipeline fetches the page (scraping provider first, direct GET as
// fallback), reduces it to compact text, classifies its links and asks a
// language model for the brand identity concurrently, then reconciles both
// with page metadata and fixed defaults.
package brandscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/docutag/brandscan/firecrawl"
	"github.com/docutag/brandscan/llm"
	"github.com/docutag/brandscan/metrics"
	"github.com/docutag/brandscan/models"
)

// Config contains pipeline configuration
type Config struct {
	HTTPTimeout       time.Duration `validate:"gt=0"` // Direct fetch timeout
	ModelTimeout      time.Duration `validate:"gt=0"` // Timeout of one model call
	Temperature       float64       `validate:"gte=0.3,lte=0.7"`
	MaxTokens         int           `validate:"gt=0"`
	MaxContentChars   int           `validate:"gt=0"`
	MaxConcurrentLLM  int           `validate:"min=1"`
	OnlyMainContent   bool          // Ask the provider to strip navigation and footers
	ProbeLogos        bool          // Download logo candidates and reject tiny images
	MaxImageSizeBytes int64         `validate:"gt=0"`
	ImageTimeout      time.Duration `validate:"gt=0"`
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:       10 * time.Second,
		ModelTimeout:      60 * time.Second,
		Temperature:       0.4,
		MaxTokens:         1000,
		MaxContentChars:   DefaultMaxContentChars,
		MaxConcurrentLLM:  3,
		OnlyMainContent:   false,
		ProbeLogos:        false,
		MaxImageSizeBytes: 5 * 1024 * 1024,
		ImageTimeout:      10 * time.Second,
	}
}

// PipelineOptions tune a single extraction
type PipelineOptions struct {
	PreferProvider bool
	MaxLinks       int
	IncludeImages  bool
}

// DefaultOptions returns the options used when a caller sets none
func DefaultOptions() PipelineOptions {
	return PipelineOptions{PreferProvider: true, MaxLinks: DefaultMaxLinks}
}

func (o PipelineOptions) maxLinks() int {
	if o.MaxLinks <= 0 {
		return DefaultMaxLinks
	}
	return o.MaxLinks
}

// Result is the outcome of one extraction
type Result struct {
	Record    models.BrandRecord
	Warnings  []string
	FetchPath string
	Content   string     // Reduced content that was sent to the model
	Logo      *LogoAsset // Set when logo probing accepted a candidate
	Duration  time.Duration
}

// Pipeline runs brand extractions
type Pipeline struct {
	config     Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	httpClient *http.Client
	provider   *firecrawl.Client
	model      llm.Client
	slots      chan struct{} // Limits concurrent model requests across extractions
	extractor  *Extractor
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithHTTPClient replaces the client used for direct fetches and logo downloads
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) { p.httpClient = c }
}

var validate = validator.New()

// New creates a Pipeline. provider may be nil, in which case every
// extraction uses the direct fetch.
func New(config Config, model llm.Client, provider *firecrawl.Client, opts ...Option) (*Pipeline, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if model == nil {
		return nil, errors.New("a language model client is required")
	}

	p := &Pipeline{
		config:   config,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/docutag/brandscan"),
		provider: provider,
		model:    model,
		slots:    make(chan struct{}, config.MaxConcurrentLLM),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.httpClient == nil {
		p.httpClient = newHTTPClient(otelhttp.NewTransport(http.DefaultTransport), config.HTTPTimeout+config.ImageTimeout)
	}

	p.extractor = &Extractor{
		client:      model,
		slots:       p.slots,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		timeout:     config.ModelTimeout,
		logger:      p.logger,
		metrics:     p.metrics,
	}
	return p, nil
}

// Extract runs the full pipeline for rawURL
func (p *Pipeline) Extract(ctx context.Context, rawURL string, opts PipelineOptions) (*Result, error) {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "brandscan.Extract")
	defer span.End()

	result, err := p.extract(ctx, rawURL, opts)
	p.metrics.RecordExtraction(ErrorKind(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("brand extraction failed", "url", rawURL, "error", err, "duration", time.Since(start))
		return nil, err
	}

	result.Duration = time.Since(start)
	p.logger.Info("brand extracted",
		"url", result.Record.SourceURL,
		"name", result.Record.Name,
		"fetch_path", result.FetchPath,
		"links", len(result.Record.Links),
		"warnings", len(result.Warnings),
		"duration", result.Duration,
	)
	return result, nil
}

func (p *Pipeline) extract(ctx context.Context, rawURL string, opts PipelineOptions) (*Result, error) {
	targetURL, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("brandscan.url", targetURL))

	fetched, err := p.stageFetch(ctx, targetURL, opts.PreferProvider)
	if err != nil {
		return nil, err
	}
	warnings := fetched.Warnings

	reduceStart := time.Now()
	reduced := Reduce(fetched.Content, fetched.Format, p.config.MaxContentChars)
	p.metrics.ObserveStage("reduce", time.Since(reduceStart))

	var (
		links    []models.ClassifiedLink
		identity *models.RawIdentity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		classifyStart := time.Now()
		links = Classify(pageAnchors(fetched), targetURL)
		p.metrics.ObserveStage("classify", time.Since(classifyStart))
		return nil
	})
	g.Go(func() error {
		var err error
		identity, err = p.stageExtract(gctx, reduced, targetURL, fetched.Metadata)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var logoCandidates []string
	var logo *LogoAsset
	if p.config.ProbeLogos {
		logoStart := time.Now()
		candidates := LogoCandidates(identity, fetched.Metadata, targetURL)
		logoCandidates, logo = p.verifyLogo(ctx, candidates)
		p.metrics.ObserveStage("logo", time.Since(logoStart))
		if logoCandidates == nil && len(candidates) > 0 {
			warnings = append(warnings, "logo candidates could not be downloaded, using unverified logo")
		}
	}

	record := Reconcile(ReconcileInput{
		SourceURL:      targetURL,
		Identity:       identity,
		Metadata:       fetched.Metadata,
		Links:          links,
		LogoCandidates: logoCandidates,
		Options:        opts,
	})

	return &Result{
		Record:    record,
		Warnings:  warnings,
		FetchPath: fetched.Path,
		Content:   reduced,
		Logo:      logo,
	}, nil
}

func (p *Pipeline) stageFetch(ctx context.Context, targetURL string, preferProvider bool) (*FetchResult, error) {
	ctx, span := p.tracer.Start(ctx, "brandscan.Fetch")
	defer span.End()

	start := time.Now()
	fetched, err := p.Fetch(ctx, targetURL, preferProvider)
	p.metrics.ObserveStage("fetch", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("brandscan.fetch_path", fetched.Path))
	p.metrics.RecordFetchPath(fetched.Path)
	return fetched, nil
}

func (p *Pipeline) stageExtract(ctx context.Context, reduced, targetURL string, meta models.PageMetadata) (*models.RawIdentity, error) {
	ctx, span := p.tracer.Start(ctx, "brandscan.ExtractIdentity",
		trace.WithAttributes(attribute.String("brandscan.model_backend", p.model.Name())))
	defer span.End()

	start := time.Now()
	identity, err := p.extractor.Extract(ctx, reduced, targetURL, Hints{
		Title:       meta.Title,
		Description: meta.Description,
		SiteName:    meta.SiteName,
	})
	p.metrics.ObserveStage("extract", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return identity, nil
}

// pageAnchors prefers HTML anchors and falls back to markdown links
func pageAnchors(f *FetchResult) []Anchor {
	if f.HTML != "" {
		if anchors := AnchorsFromHTML(f.HTML); len(anchors) > 0 {
			return anchors
		}
	}
	if f.Format == FormatMarkdown {
		return AnchorsFromMarkdown(f.Content)
	}
	return nil
}

// ErrorKind maps an extraction error to a short label for metrics and logs
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrFetchFailed):
		return "fetch_failed"
	case errors.Is(err, ErrParseFailed):
		return "parse_failed"
	case errors.Is(err, ErrInvalidSchema):
		return "invalid_schema"
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

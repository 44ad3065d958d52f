package brandscan

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/docutag/brandscan/metrics"
	"github.com/docutag/brandscan/models"
)

const glowModelReply = "Sure! Here is the brand identity:\n```json\n" + `{
	"business_name": "Glow Studio",
	"bio": "Facials and peels for every skin type in Austin.",
	"industry": "Esthetics",
	"vibe": "Warm",
	"theme_color": "#d4a5a5",
	"secondary_color": "#2f2f2f",
	"logo_url": "/img/glow-logo.svg",
	"links": [{"label": "Gift Cards", "url": "https://glowstudio.com/gift-cards", "category": "shop"}]
}` + "\n```\nLet me know if you need anything else."

func newGlowSite(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(glowPage))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestExtractEndToEnd(t *testing.T) {
	site, _ := newGlowSite(t)
	model := &fakeModel{reply: glowModelReply}
	p := testPipeline(model, nil)

	result, err := p.Extract(context.Background(), site.URL, DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record := result.Record
	if record.Name != "Glow Studio" || record.Handle != "glow-studio" {
		t.Errorf("name/handle = %q/%q", record.Name, record.Handle)
	}
	if record.Industry != "Esthetics" || record.Vibe != "warm" {
		t.Errorf("industry/vibe = %q/%q", record.Industry, record.Vibe)
	}
	wantColors := models.BrandColors{Primary: "#D4A5A5", Secondary: "#2F2F2F", Background: DefaultBackgroundColor}
	if record.Colors != wantColors {
		t.Errorf("colors = %+v, want %+v", record.Colors, wantColors)
	}
	if record.LogoURL == nil || *record.LogoURL != site.URL+"/img/glow-logo.svg" {
		t.Errorf("logo = %v", record.LogoURL)
	}
	if record.SourceURL != site.URL {
		t.Errorf("source url = %q", record.SourceURL)
	}

	wantLinks := []models.ClassifiedLink{
		{URL: "https://instagram.com/glowstudio", Label: "Instagram", Category: models.CategoryInstagram},
		{URL: "https://glowstudio.glossgenius.com", Label: "Book a facial", Category: models.CategoryBooking},
		{URL: "https://glowstudio.com/gift-cards", Label: "Gift Cards", Category: models.CategoryShop},
	}
	if !reflect.DeepEqual(record.Links, wantLinks) {
		t.Errorf("links =\n%+v\nwant\n%+v", record.Links, wantLinks)
	}

	if result.FetchPath != PathDirect {
		t.Errorf("fetch path = %q", result.FetchPath)
	}
	if strings.Contains(result.Content, "<html") || !strings.Contains(result.Content, "Facials and peels") {
		t.Errorf("content was not reduced: %q", result.Content)
	}
	if req := model.lastRequest(); !strings.Contains(req.Prompt, "Facials and peels") || strings.Contains(req.Prompt, "<script") {
		t.Errorf("model prompt should carry reduced content: %s", req.Prompt)
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	site, _ := newGlowSite(t)
	p := testPipeline(&fakeModel{reply: glowModelReply}, nil)
	opts := PipelineOptions{MaxLinks: 4, IncludeImages: true}

	first, err := p.Extract(context.Background(), site.URL, opts)
	if err != nil {
		t.Fatalf("first extraction failed: %v", err)
	}
	second, err := p.Extract(context.Background(), site.URL, opts)
	if err != nil {
		t.Fatalf("second extraction failed: %v", err)
	}
	if !reflect.DeepEqual(first.Record, second.Record) {
		t.Errorf("records differ:\n%+v\n%+v", first.Record, second.Record)
	}
	if len(first.Record.Images) == 0 {
		t.Error("expected images when requested")
	}
}

func TestExtractInvalidURLDoesNoIO(t *testing.T) {
	model := &fakeModel{reply: glowModelReply}
	p := testPipeline(model, nil)

	for _, raw := range []string{"", "   ", "ftp://example.com", "https://"} {
		_, err := p.Extract(context.Background(), raw, DefaultOptions())
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Extract(%q) error = %v, want ErrInvalidInput", raw, err)
		}
	}
	if len(model.requests) != 0 {
		t.Errorf("model was called %d times for invalid input", len(model.requests))
	}
}

func TestExtractModelFailures(t *testing.T) {
	tests := []struct {
		name    string
		model   *fakeModel
		wantErr error
	}{
		{name: "prose only", model: &fakeModel{reply: "I could not find a brand on this page."}, wantErr: ErrParseFailed},
		{name: "missing name", model: &fakeModel{reply: `{"bio": "no name"}`}, wantErr: ErrInvalidSchema},
		{name: "backend down", model: &fakeModel{err: errors.New("connection refused")}, wantErr: ErrModelUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site, _ := newGlowSite(t)
			p := testPipeline(tt.model, nil)
			_, err := p.Extract(context.Background(), site.URL, DefaultOptions())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExtractFetchFailureSkipsModel(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer site.Close()

	model := &fakeModel{reply: glowModelReply}
	p := testPipeline(model, nil)

	_, err := p.Extract(context.Background(), site.URL, DefaultOptions())
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected FetchError with 503, got %v", err)
	}
	if len(model.requests) != 0 {
		t.Error("model should not be called when the fetch fails")
	}
}

func TestExtractProbeLogos(t *testing.T) {
	logo := pngOfSize(t, 200, 80)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Acme</title>
			<meta property="og:image" content="/og-tiny.png"></head>
			<body><header><img src="/acme-logo.png" alt="Acme logo"></header></body></html>`))
	})
	mux.HandleFunc("/og-tiny.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngOfSize(t, 8, 8))
	})
	mux.HandleFunc("/acme-logo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(logo)
	})
	site := httptest.NewServer(mux)
	defer site.Close()

	p := testPipeline(&fakeModel{reply: `{"business_name": "Acme"}`}, func(c *Config) { c.ProbeLogos = true })
	result, err := p.Extract(context.Background(), site.URL, DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Record.LogoURL == nil || *result.Record.LogoURL != site.URL+"/acme-logo.png" {
		t.Errorf("logo = %v, want the verified header logo", result.Record.LogoURL)
	}
	if result.Logo == nil || result.Logo.Width != 200 {
		t.Errorf("unexpected logo asset %+v", result.Logo)
	}
}

func TestExtractRecordsMetrics(t *testing.T) {
	site, _ := newGlowSite(t)
	reg := prometheus.NewRegistry()
	m := metrics.New("brandscan_test", reg)

	cfg := DefaultConfig()
	p, err := New(cfg, &fakeModel{reply: glowModelReply}, nil, WithMetrics(m))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := p.Extract(context.Background(), site.URL, DefaultOptions()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Extract(context.Background(), "", DefaultOptions())

	if got := testutil.ToFloat64(m.Extractions.WithLabelValues("success")); got != 1 {
		t.Errorf("success extractions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Extractions.WithLabelValues("invalid_input")); got != 1 {
		t.Errorf("invalid_input extractions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FetchPaths.WithLabelValues(PathDirect)); got != 1 {
		t.Errorf("direct fetches = %v, want 1", got)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "temperature too high", mutate: func(c *Config) { c.Temperature = 0.9 }},
		{name: "temperature too low", mutate: func(c *Config) { c.Temperature = 0.1 }},
		{name: "no concurrency", mutate: func(c *Config) { c.MaxConcurrentLLM = 0 }},
		{name: "no timeout", mutate: func(c *Config) { c.HTTPTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg, &fakeModel{}, nil); err == nil {
				t.Error("expected a config error")
			}
		})
	}

	if _, err := New(DefaultConfig(), nil, nil); err == nil {
		t.Error("expected an error without a model client")
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{ErrInvalidInput, "invalid_input"},
		{&FetchError{URL: "u", Status: 404}, "fetch_failed"},
		{&ParseError{Raw: "x"}, "parse_failed"},
		{ErrInvalidSchema, "invalid_schema"},
		{&ModelError{Backend: "ollama", Err: errors.New("down")}, "model_unavailable"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

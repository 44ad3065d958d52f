package brandscan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain json", input: `  {"a":1}  `, want: `{"a":1}`},
		{name: "json fence", input: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", input: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "prose around fence", input: "Here is the brand:\n```json\n{\"a\":{\"b\":2}}\n```\nHope it helps!", want: `{"a":{"b":2}}`},
		{name: "two fences", input: "First:\n```json\n{\"a\":{\"b\":1}}\n```\nAlternative:\n```json\n{\"a\":2}\n```", want: `{"a":{"b":1}}`},
		{name: "no fence no json", input: "sorry, I can't", want: "sorry, I can't"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFence(tt.input); got != tt.want {
				t.Errorf("StripCodeFence(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStripCodeFenceRoundTrip(t *testing.T) {
	objects := []string{
		`{}`,
		`{"business_name":"Acme"}`,
		"{\n  \"business_name\": \"Acme\",\n  \"links\": [{\"url\": \"https://x.com/acme\"}]\n}",
	}
	for _, obj := range objects {
		if got := StripCodeFence("```json\n" + obj + "\n```"); got != obj {
			t.Errorf("round trip of %q gave %q", obj, got)
		}
	}
}

func TestParseIdentity(t *testing.T) {
	raw := "```json\n" + `{
		"name": "  Glow Studio ",
		"bio": "Skin care in Austin",
		"industry": "Esthetics",
		"vibe": "Calm",
		"theme_color": "#abc",
		"colors": {"secondary": "112233", "background": "not-a-color"},
		"logo": "/img/logo.svg",
		"links": [
			{"title": "Instagram", "href": "https://instagram.com/glow", "type": "Instagram"},
			"https://calendly.com/glow",
			{"label": "Bad", "url": "ftp://files.example.com"},
			{"label": "Relative", "url": "/shop"},
			{"label": "Three", "url": "https://a.example/3"},
			{"label": "Four", "url": "https://a.example/4"},
			{"label": "Five", "url": "https://a.example/5"}
		]
	}` + "\n```"

	id, err := ParseIdentity(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Name != "Glow Studio" {
		t.Errorf("name = %q", id.Name)
	}
	if id.ThemeColor != "#AABBCC" {
		t.Errorf("theme color = %q, want #AABBCC", id.ThemeColor)
	}
	if id.SecondaryColor != "#112233" {
		t.Errorf("secondary color = %q, want #112233", id.SecondaryColor)
	}
	if id.BackgroundColor != "" {
		t.Errorf("background color = %q, want empty", id.BackgroundColor)
	}
	if id.LogoURL != "/img/logo.svg" {
		t.Errorf("logo = %q", id.LogoURL)
	}
	if len(id.Links) != MaxSuggestedLinks {
		t.Fatalf("expected %d links, got %d: %+v", MaxSuggestedLinks, len(id.Links), id.Links)
	}
	if id.Links[0].Label != "Instagram" || id.Links[0].Category != "instagram" {
		t.Errorf("unexpected first link %+v", id.Links[0])
	}
	if id.Links[1].URL != "https://calendly.com/glow" {
		t.Errorf("unexpected second link %+v", id.Links[1])
	}
	if id.Links[3].URL != "https://a.example/4" {
		t.Errorf("unexpected fourth link %+v", id.Links[3])
	}
}

func TestParseIdentityUsesFirstFence(t *testing.T) {
	raw := "Here you go:\n```json\n{\"business_name\": \"Acme\"}\n```\nOr, shorter:\n```json\n{\"business_name\": \"A\"}\n```"
	id, err := ParseIdentity(raw)
	if err != nil {
		t.Fatalf("ParseIdentity() error = %v", err)
	}
	if id.Name != "Acme" {
		t.Errorf("name = %q, want Acme", id.Name)
	}
}

func TestParseIdentityErrors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "not json", raw: "The brand is Acme.", wantErr: ErrParseFailed},
		{name: "truncated json", raw: `{"business_name": "Acme"`, wantErr: ErrParseFailed},
		{name: "empty", raw: "", wantErr: ErrParseFailed},
		{name: "missing name", raw: `{"bio": "x"}`, wantErr: ErrInvalidSchema},
		{name: "blank name", raw: `{"business_name": "   "}`, wantErr: ErrInvalidSchema},
		{name: "array", raw: `[{"business_name": "Acme"}]`, wantErr: ErrInvalidSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseIdentity(tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	_, err := ParseIdentity("nope")
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Raw != "nope" {
		t.Errorf("expected ParseError carrying raw text, got %v", err)
	}
}

func TestNormalizeHexColor(t *testing.T) {
	tests := map[string]string{
		"#3b82f6":    "#3B82F6",
		"3B82F6":     "#3B82F6",
		"#fff":       "#FFFFFF",
		" #0a0 ":     "#00AA00",
		"#12345":     "",
		"blue":       "",
		"rgb(0,0,0)": "",
		"":           "",
	}
	for in, want := range tests {
		if got := NormalizeHexColor(in); got != want {
			t.Errorf("NormalizeHexColor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractorExtract(t *testing.T) {
	model := &fakeModel{reply: `{"business_name": "Acme"}`}
	p := testPipeline(model, nil)

	id, err := p.extractor.Extract(context.Background(), "Acme makes anvils", "https://acme.example", Hints{Title: "Acme | Home"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Name != "Acme" {
		t.Errorf("name = %q", id.Name)
	}

	req := model.lastRequest()
	if req.Temperature != 0.4 || req.MaxTokens != 1000 || !req.JSON {
		t.Errorf("unexpected request settings %+v", req)
	}
	if !strings.Contains(req.Prompt, "Acme makes anvils") || !strings.Contains(req.Prompt, "Page title: Acme | Home") {
		t.Errorf("prompt missing content or hints: %s", req.Prompt)
	}
}

func TestExtractorModelErrors(t *testing.T) {
	t.Run("backend error", func(t *testing.T) {
		p := testPipeline(&fakeModel{err: errors.New("connection refused")}, nil)
		_, err := p.extractor.Extract(context.Background(), "x", "https://acme.example", Hints{})
		if !errors.Is(err, ErrModelUnavailable) {
			t.Fatalf("expected ErrModelUnavailable, got %v", err)
		}
		var me *ModelError
		if !errors.As(err, &me) || me.Backend != "fake" {
			t.Errorf("expected ModelError from fake backend, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		p := testPipeline(&fakeModel{reply: `{"business_name":"x"}`, delay: time.Second}, func(c *Config) {
			c.ModelTimeout = 20 * time.Millisecond
		})
		_, err := p.extractor.Extract(context.Background(), "x", "https://acme.example", Hints{})
		if !errors.Is(err, ErrModelUnavailable) {
			t.Fatalf("expected ErrModelUnavailable, got %v", err)
		}
		if !strings.Contains(err.Error(), "timed out") {
			t.Errorf("expected timeout in message, got %v", err)
		}
	})
}

func TestExtractorLimitsConcurrency(t *testing.T) {
	model := &fakeModel{reply: `{"business_name":"x"}`, delay: 30 * time.Millisecond}
	p := testPipeline(model, func(c *Config) { c.MaxConcurrentLLM = 2 })

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.extractor.Extract(context.Background(), "x", "https://acme.example", Hints{}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := model.maxInFlight.Load(); got > 2 {
		t.Errorf("max in-flight model calls = %d, want <= 2", got)
	}
}

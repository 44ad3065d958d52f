package brandscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/docutag/brandscan/llm"
	"github.com/docutag/brandscan/metrics"
	"github.com/docutag/brandscan/models"
	"github.com/tidwall/gjson"
)

// MaxSuggestedLinks caps the links taken from model output
const MaxSuggestedLinks = 4

const extractorSystemPrompt = `You are a brand identity analyst. You read website content and describe the business behind it.
You respond with a single JSON object and nothing else. No markdown, no commentary.`

const extractorPromptTemplate = `Analyze the website content below and return the brand identity as JSON with exactly these fields:

{
  "business_name": "the business or creator name, without taglines",
  "bio": "one or two sentence description, at most 160 characters",
  "industry": "a specific industry such as 'Hair Salon' or 'Coffee Roaster', never 'Business'",
  "vibe": "one word describing the brand tone",
  "theme_color": "primary brand color as #RRGGBB",
  "secondary_color": "secondary brand color as #RRGGBB",
  "background_color": "background color as #RRGGBB",
  "logo_url": "absolute URL of the logo image, or empty",
  "links": [{"label": "button text", "url": "absolute URL", "category": "instagram|facebook|tiktok|twitter|youtube|linkedin|booking|shop|generic"}]
}

Include at most 4 links, only ones that appear in the content.

Website: %s
%s
Content:
%s`

// Matches the first fenced object only
var codeFence = regexp.MustCompile("```(?:json|JSON)?\\s*(\\{[\\s\\S]*?\\})\\s*```")

// Hints carries page metadata that helps the model
type Hints struct {
	Title       string
	Description string
	SiteName    string
}

// Extractor asks a language model for a brand identity
type Extractor struct {
	client      llm.Client
	slots       chan struct{}
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// acquireSlot acquires a slot in the model semaphore or returns error if context is cancelled
func (e *Extractor) acquireSlot(ctx context.Context) error {
	select {
	case e.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// releaseSlot releases a slot in the model semaphore
func (e *Extractor) releaseSlot() {
	<-e.slots
}

// Extract calls the model and coerces its reply into a RawIdentity
func (e *Extractor) Extract(ctx context.Context, reduced, sourceURL string, hints Hints) (*models.RawIdentity, error) {
	waitStart := time.Now()
	if err := e.acquireSlot(ctx); err != nil {
		return nil, &ModelError{Backend: e.client.Name(), Err: fmt.Errorf("waiting for model slot: %w", err)}
	}
	defer e.releaseSlot()
	e.metrics.ObserveModelWait(time.Since(waitStart))

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	raw, err := e.client.Complete(callCtx, llm.Request{
		System:      extractorSystemPrompt,
		Prompt:      BuildExtractionPrompt(reduced, sourceURL, hints),
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
		JSON:        true,
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", e.timeout, err)
		}
		return nil, &ModelError{Backend: e.client.Name(), Err: err}
	}

	e.logger.Debug("model replied",
		"backend", e.client.Name(),
		"url", sourceURL,
		"duration", time.Since(start),
		"chars", len(raw),
	)

	return ParseIdentity(raw)
}

// BuildExtractionPrompt renders the user prompt
func BuildExtractionPrompt(reduced, sourceURL string, hints Hints) string {
	var meta strings.Builder
	if hints.Title != "" {
		fmt.Fprintf(&meta, "Page title: %s\n", hints.Title)
	}
	if hints.SiteName != "" {
		fmt.Fprintf(&meta, "Site name: %s\n", hints.SiteName)
	}
	if hints.Description != "" {
		fmt.Fprintf(&meta, "Meta description: %s\n", hints.Description)
	}
	return fmt.Sprintf(extractorPromptTemplate, sourceURL, meta.String(), reduced)
}

// StripCodeFence returns the JSON object inside a ```json fence when one is
// present, otherwise the trimmed input
func StripCodeFence(s string) string {
	if m := codeFence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

// ParseIdentity validates and coerces raw model text
func ParseIdentity(raw string) (*models.RawIdentity, error) {
	cleaned := StripCodeFence(raw)
	if !gjson.Valid(cleaned) {
		return nil, &ParseError{Raw: raw}
	}

	doc := gjson.Parse(cleaned)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidSchema)
	}

	identity := &models.RawIdentity{
		Name:            firstString(doc, "business_name", "businessName", "name", "brand_name"),
		Bio:             firstString(doc, "bio", "description", "tagline"),
		Industry:        firstString(doc, "industry", "category"),
		Vibe:            firstString(doc, "vibe", "tone"),
		ThemeColor:      NormalizeHexColor(firstString(doc, "theme_color", "primary_color", "themeColor", "colors.primary")),
		SecondaryColor:  NormalizeHexColor(firstString(doc, "secondary_color", "secondaryColor", "colors.secondary")),
		BackgroundColor: NormalizeHexColor(firstString(doc, "background_color", "backgroundColor", "colors.background")),
		LogoURL:         firstString(doc, "logo_url", "logoUrl", "logo"),
		Links:           parseLinks(doc.Get("links")),
	}

	if identity.Name == "" {
		return nil, fmt.Errorf("%w: missing business_name", ErrInvalidSchema)
	}
	return identity, nil
}

func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		v := doc.Get(p)
		if v.Type != gjson.String && v.Type != gjson.Number {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}

func parseLinks(arr gjson.Result) []models.RawLink {
	if !arr.IsArray() {
		return nil
	}

	var links []models.RawLink
	arr.ForEach(func(_, item gjson.Result) bool {
		var link models.RawLink
		switch {
		case item.IsObject():
			link = models.RawLink{
				Label:    firstString(item, "label", "title", "text"),
				URL:      httpURLOrEmpty(firstString(item, "url", "href")),
				Category: strings.ToLower(firstString(item, "category", "type")),
			}
		case item.Type == gjson.String:
			link = models.RawLink{URL: httpURLOrEmpty(item.String())}
		}
		if link.URL != "" {
			links = append(links, link)
		}
		return len(links) < MaxSuggestedLinks
	})
	return links
}

func httpURLOrEmpty(s string) string {
	u, ok := resolveHTTP(nil, strings.TrimSpace(s))
	if !ok {
		return ""
	}
	return u.String()
}

var hexColor = regexp.MustCompile(`^#?([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// NormalizeHexColor returns s as uppercase #RRGGBB, or "" when it is not a
// 3 or 6 digit hex color
func NormalizeHexColor(s string) string {
	m := hexColor.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ""
	}
	hex := strings.ToUpper(m[1])
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	return "#" + hex
}

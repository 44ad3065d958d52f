package brandscan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/docutag/brandscan/firecrawl"
	"github.com/docutag/brandscan/models"
)

// Fetch paths reported in FetchResult.Path
const (
	PathProvider = "provider"
	PathDirect   = "direct"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxPageBytes     = 5 * 1024 * 1024
)

// FetchResult is the content of a fetched page
type FetchResult struct {
	URL      string
	Content  string
	Format   ContentFormat
	HTML     string // Raw HTML when available, used for anchors and metadata
	Metadata models.PageMetadata
	Path     string
	Warnings []string
}

// NormalizeURL trims raw and prefixes https:// when no scheme is present.
// Only http and https URLs with a host are accepted.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidInput)
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: URL must be http or https", ErrInvalidInput)
	}
	if u.Hostname() == "" || strings.ContainsAny(u.Host, " \t") {
		return "", fmt.Errorf("%w: URL has no host", ErrInvalidInput)
	}
	u.Host = strings.ToLower(u.Host)
	return u.String(), nil
}

// Fetch retrieves targetURL, trying the scraping provider first when it is
// configured and preferProvider is set, then a direct GET.
// Provider failures are recorded as warnings.
func (p *Pipeline) Fetch(ctx context.Context, targetURL string, preferProvider bool) (*FetchResult, error) {
	var warnings []string
	var providerErr error

	if preferProvider && p.provider.Enabled() {
		result, err := p.fetchProvider(ctx, targetURL)
		if err == nil {
			return result, nil
		}
		providerErr = err
		p.logger.Warn("scraping provider failed, falling back to direct fetch", "url", targetURL, "error", err)
		warnings = append(warnings, "scraping provider unavailable, fetched page directly")
	}

	result, err := p.fetchDirect(ctx, targetURL)
	if err != nil {
		return nil, fetchFailure(targetURL, providerErr, err)
	}
	result.Warnings = append(warnings, result.Warnings...)
	return result, nil
}

func (p *Pipeline) fetchProvider(ctx context.Context, targetURL string) (*FetchResult, error) {
	doc, err := p.provider.Scrape(ctx, targetURL, p.config.OnlyMainContent)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.Markdown) == "" {
		return nil, errors.New("provider returned empty markdown")
	}

	base, _ := url.Parse(targetURL)
	meta := models.PageMetadata{
		Title:       doc.Metadata.Title,
		Description: doc.Metadata.Description,
		OGImage:     doc.Metadata.OGImage,
		SiteName:    doc.Metadata.OGSiteName,
		Favicon:     doc.Metadata.Favicon,
		ThemeColor:  doc.Metadata.ThemeColor,
	}
	if doc.HTML != "" {
		meta = mergeMetadata(meta, ParseMetadata(doc.HTML, base))
	} else {
		logos, images := rankImages(markdownImages(doc.Markdown, base))
		meta.LogoImages, meta.Images = logos, images
	}

	return &FetchResult{
		URL:      targetURL,
		Content:  doc.Markdown,
		Format:   FormatMarkdown,
		HTML:     doc.HTML,
		Metadata: meta,
		Path:     PathProvider,
	}, nil
}

func (p *Pipeline) fetchDirect(ctx context.Context, targetURL string) (*FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: targetURL, Status: resp.StatusCode, Message: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	// Relative links resolve against the final URL after redirects
	base := resp.Request.URL
	page := string(body)

	return &FetchResult{
		URL:      targetURL,
		Content:  page,
		Format:   FormatHTML,
		HTML:     page,
		Metadata: ParseMetadata(page, base),
		Path:     PathDirect,
	}, nil
}

// fetchFailure builds the error returned when every path failed.
// The direct attempt's status wins, then the provider's.
func fetchFailure(targetURL string, providerErr, directErr error) error {
	fe := &FetchError{URL: targetURL, Message: directErr.Error()}

	var direct *FetchError
	if errors.As(directErr, &direct) {
		fe.Status = direct.Status
		fe.Message = direct.Message
	}
	var provider *firecrawl.Error
	if fe.Status == 0 && errors.As(providerErr, &provider) {
		fe.Status = provider.Status
		fe.Message = fmt.Sprintf("%s (provider: %s)", fe.Message, provider.Message)
	}
	if errors.Is(directErr, context.DeadlineExceeded) && fe.Status == 0 {
		fe.Message = "timed out"
	}
	return fe
}

// ParseMetadata reads title, description, og:image, site name, theme-color,
// favicon and image candidates from an HTML document
func ParseMetadata(src string, base *url.URL) models.PageMetadata {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return models.PageMetadata{}
	}

	var meta models.PageMetadata
	var ogTitle, twitterTitle, twitterImage string

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name := strings.ToLower(s.AttrOr("name", ""))
		property := strings.ToLower(s.AttrOr("property", ""))
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}

		switch {
		case name == "description" || property == "og:description":
			if meta.Description == "" {
				meta.Description = content
			}
		case property == "og:image" || property == "og:image:url" || property == "og:image:secure_url":
			if meta.OGImage == "" {
				meta.OGImage = content
			}
		case property == "og:site_name":
			if meta.SiteName == "" {
				meta.SiteName = content
			}
		case property == "og:title":
			if ogTitle == "" {
				ogTitle = content
			}
		case name == "twitter:title":
			if twitterTitle == "" {
				twitterTitle = content
			}
		case name == "twitter:image" || name == "twitter:image:src":
			if twitterImage == "" {
				twitterImage = content
			}
		case name == "theme-color" || name == "msapplication-tilecolor":
			if meta.ThemeColor == "" {
				meta.ThemeColor = content
			}
		}
	})

	meta.Title = firstNonEmpty(cleanText(doc.Find("title").First().Text()), ogTitle, twitterTitle)
	meta.OGImage = resolveOrEmpty(base, firstNonEmpty(meta.OGImage, twitterImage))
	meta.Favicon = resolveOrEmpty(base, findFavicon(doc))

	logos, images := rankImages(htmlImages(doc, base))
	meta.LogoImages = logos
	meta.Images = images

	return meta
}

// findFavicon prefers the apple touch icon, which is larger than the classic favicon
func findFavicon(doc *goquery.Document) string {
	var touch, icon string
	doc.Find("link[rel][href]").Each(func(_ int, s *goquery.Selection) {
		rel := strings.Fields(strings.ToLower(s.AttrOr("rel", "")))
		href := strings.TrimSpace(s.AttrOr("href", ""))
		for _, r := range rel {
			switch r {
			case "apple-touch-icon", "apple-touch-icon-precomposed":
				if touch == "" {
					touch = href
				}
			case "icon":
				if icon == "" {
					icon = href
				}
			}
		}
	})
	return firstNonEmpty(touch, icon)
}

// mergeMetadata fills gaps in primary from secondary
func mergeMetadata(primary, secondary models.PageMetadata) models.PageMetadata {
	primary.Title = firstNonEmpty(primary.Title, secondary.Title)
	primary.Description = firstNonEmpty(primary.Description, secondary.Description)
	primary.OGImage = firstNonEmpty(primary.OGImage, secondary.OGImage)
	primary.SiteName = firstNonEmpty(primary.SiteName, secondary.SiteName)
	primary.Favicon = firstNonEmpty(primary.Favicon, secondary.Favicon)
	primary.ThemeColor = firstNonEmpty(primary.ThemeColor, secondary.ThemeColor)
	if len(primary.LogoImages) == 0 {
		primary.LogoImages = secondary.LogoImages
	}
	if len(primary.Images) == 0 {
		primary.Images = secondary.Images
	}
	return primary
}

func resolveOrEmpty(base *url.URL, href string) string {
	if strings.TrimSpace(href) == "" {
		return ""
	}
	u, ok := resolveHTTP(base, strings.TrimSpace(href))
	if !ok {
		return ""
	}
	return u.String()
}

// newHTTPClient returns the client used for direct fetches and logo downloads
func newHTTPClient(transport http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		},
	}
}

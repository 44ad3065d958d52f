package brandscan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/docutag/brandscan/imageprobe"
)

// MinLogoSide is the smallest accepted logo edge in pixels when probing
const MinLogoSide = 64

// maxLogoProbes bounds how many candidates are downloaded per extraction
const maxLogoProbes = 4

// heroMinSide is the size above which an image counts as a content image
const heroMinSide = 300

// LogoAsset is a downloaded and verified logo
type LogoAsset struct {
	URL         string
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

type imageCandidate struct {
	url      string
	alt      string
	hints    string // class, id and parent attributes, lowercased
	width    int
	height   int
	inHeader bool
}

// htmlImages collects <img> elements in document order
func htmlImages(doc *goquery.Document, base *url.URL) []imageCandidate {
	var out []imageCandidate
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(firstNonEmpty(s.AttrOr("src", ""), s.AttrOr("data-src", "")))
		if src == "" || strings.HasPrefix(strings.ToLower(src), "data:") {
			return
		}
		u, ok := resolveHTTP(base, src)
		if !ok {
			return
		}

		parent := s.Parent()
		hints := strings.ToLower(strings.Join([]string{
			s.AttrOr("class", ""),
			s.AttrOr("id", ""),
			parent.AttrOr("class", ""),
			parent.AttrOr("id", ""),
			parent.AttrOr("aria-label", ""),
		}, " "))

		out = append(out, imageCandidate{
			url:      u.String(),
			alt:      s.AttrOr("alt", ""),
			hints:    hints,
			width:    atoiOrZero(s.AttrOr("width", "")),
			height:   atoiOrZero(s.AttrOr("height", "")),
			inHeader: s.Closest("header, nav").Length() > 0,
		})
	})
	return out
}

// markdownImages collects ![alt](src) images
func markdownImages(md string, base *url.URL) []imageCandidate {
	var out []imageCandidate
	for _, m := range markdownLink.FindAllStringSubmatch(md, -1) {
		if m[1] != "!" || strings.HasPrefix(strings.ToLower(m[3]), "data:") {
			continue
		}
		u, ok := resolveHTTP(base, m[3])
		if !ok {
			continue
		}
		out = append(out, imageCandidate{url: u.String(), alt: m[2]})
	}
	return out
}

// logoScore rates how likely an image is to be the brand logo. Zero means not a logo.
func logoScore(c imageCandidate) int {
	lowerURL := strings.ToLower(c.url)
	lowerAlt := strings.ToLower(c.alt)
	if IsFaviconLike(lowerURL) {
		return 0
	}

	score := 0
	if strings.Contains(lowerURL, "logo") {
		score += 5
	}
	if strings.Contains(lowerAlt, "logo") {
		score += 4
	}
	if strings.Contains(c.hints, "logo") || strings.Contains(c.hints, "brand") {
		score += 3
	}
	if score == 0 {
		return 0
	}
	if c.inHeader {
		score += 2
	}
	if strings.HasSuffix(strings.SplitN(lowerURL, "?", 2)[0], ".svg") {
		score++
	}
	return score
}

// isJunkImage reports tracking pixels, placeholders, spinners and UI chrome
func isJunkImage(imageURL string) bool {
	lower := strings.ToLower(imageURL)
	junk := []string{
		"placeholder", "spacer", "blank", "transparent", "1x1", "pixel", "tracking",
		"spinner", "loader", "loading", "sprite", "icon", "button", "avatar-default",
		"default-avatar", "badge", "ad-banner", "advertisement",
	}
	for _, kw := range junk {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// rankImages splits candidates into logo-like images, best first, and large
// content images in document order. Images without declared dimensions count
// as content images.
func rankImages(cands []imageCandidate) (logos []string, images []string) {
	type scored struct {
		url   string
		score int
	}
	var logoCands []scored
	seen := make(map[string]bool)

	for _, c := range cands {
		if seen[c.url] {
			continue
		}
		seen[c.url] = true

		if s := logoScore(c); s > 0 {
			logoCands = append(logoCands, scored{url: c.url, score: s})
			continue
		}
		if isJunkImage(c.url) || IsFaviconLike(c.url) {
			continue
		}
		unsized := c.width == 0 && c.height == 0
		if unsized || c.width > heroMinSide || c.height > heroMinSide {
			images = append(images, c.url)
		}
	}

	sort.SliceStable(logoCands, func(i, j int) bool { return logoCands[i].score > logoCands[j].score })
	for _, l := range logoCands {
		logos = append(logos, l.url)
	}
	return logos, images
}

// verifyLogo downloads candidates in order and returns the first one that
// decodes and is at least MinLogoSide on both sides.
// verified is nil when no candidate could be checked at all, so the caller
// falls back to the unverified tiers; it is empty when every checked
// candidate was rejected.
func (p *Pipeline) verifyLogo(ctx context.Context, candidates []string) (verified []string, asset *LogoAsset) {
	checked := 0
	for i, candidate := range candidates {
		if i >= maxLogoProbes {
			break
		}

		data, err := p.downloadImage(ctx, candidate)
		if err != nil {
			p.logger.Debug("logo download failed", "url", candidate, "error", err)
			continue
		}
		checked++

		info, err := imageprobe.Probe(data)
		if err != nil {
			p.logger.Debug("logo rejected", "url", candidate, "error", err)
			continue
		}
		if !info.MinSide(MinLogoSide) {
			p.logger.Debug("logo rejected", "url", candidate, "width", info.Width, "height", info.Height)
			continue
		}

		return []string{candidate}, &LogoAsset{
			URL:         candidate,
			Data:        data,
			ContentType: info.ContentType(),
			Width:       info.Width,
			Height:      info.Height,
		}
	}

	if checked == 0 {
		return nil, nil
	}
	return []string{}, nil
}

// downloadImage downloads an image from a URL with size and timeout limits
func (p *Pipeline) downloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.ImageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	if resp.ContentLength > p.config.MaxImageSizeBytes {
		return nil, fmt.Errorf("image too large: %d bytes (max: %d)", resp.ContentLength, p.config.MaxImageSizeBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxImageSizeBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > p.config.MaxImageSizeBytes {
		return nil, errors.New("image too large")
	}
	return data, nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

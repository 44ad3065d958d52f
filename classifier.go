package brandscan

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/docutag/brandscan/models"
)

// Anchor is a raw link found on the page
type Anchor struct {
	Href string
	Text string
}

type domainRule struct {
	domains  []string
	category models.Category
	label    string
}

// Checked in order. Labels replace the anchor text.
var socialRules = []domainRule{
	{domains: []string{"instagram.com"}, category: models.CategoryInstagram, label: "Instagram"},
	{domains: []string{"facebook.com", "fb.com"}, category: models.CategoryFacebook, label: "Facebook"},
	{domains: []string{"tiktok.com"}, category: models.CategoryTikTok, label: "TikTok"},
	{domains: []string{"linkedin.com"}, category: models.CategoryLinkedIn, label: "LinkedIn"},
	{domains: []string{"twitter.com", "x.com"}, category: models.CategoryTwitter, label: "X"},
	{domains: []string{"youtube.com", "youtu.be"}, category: models.CategoryYouTube, label: "YouTube"},
}

var bookingDomains = []string{
	"squareup.com",
	"square.site",
	"vagaro.com",
	"glossgenius.com",
	"calendly.com",
	"acuityscheduling.com",
	"booksy.com",
	"fresha.com",
}

var shopPathMarkers = []string{"/products/", "/collections/", "/pages/"}

var bookingKeywords = []string{"book", "schedule", "appointment"}

const (
	defaultBookingLabel = "Book Now"
	defaultShopLabel    = "Order Now"
)

var markdownLink = regexp.MustCompile(`(!?)\[([^\]]*)\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"]*")?\s*\)`)

// Classify assigns categories to anchors using ordered rules: social domains,
// booking domains, shop paths, then booking keywords in the anchor text.
// Anchors matching no rule are dropped. Output keeps document order and is
// unique by normalized URL, first occurrence winning.
func Classify(anchors []Anchor, pageURL string) []models.ClassifiedLink {
	base, _ := url.Parse(pageURL)

	links := make([]models.ClassifiedLink, 0)
	seen := make(map[string]bool)
	for _, a := range anchors {
		link, ok := ClassifyAnchor(a, base)
		if !ok {
			continue
		}
		key := NormalizeLinkKey(link.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		links = append(links, link)
	}
	return links
}

// ClassifyAnchor classifies a single anchor. base may be nil, in which case
// relative hrefs are dropped.
func ClassifyAnchor(a Anchor, base *url.URL) (models.ClassifiedLink, bool) {
	href := strings.TrimSpace(a.Href)
	if skipHref(href) {
		return models.ClassifiedLink{}, false
	}

	u, ok := resolveHTTP(base, href)
	if !ok {
		return models.ClassifiedLink{}, false
	}
	text := cleanText(a.Text)

	if link, ok := classifyByURL(u, text); ok {
		return link, true
	}

	lower := strings.ToLower(text)
	for _, kw := range bookingKeywords {
		if strings.Contains(lower, kw) {
			return models.ClassifiedLink{URL: u.String(), Label: text, Category: models.CategoryBooking}, true
		}
	}
	return models.ClassifiedLink{}, false
}

// classifyByURL applies the domain and path rules
func classifyByURL(u *url.URL, text string) (models.ClassifiedLink, bool) {
	host := strings.ToLower(u.Hostname())

	for _, rule := range socialRules {
		if hostMatches(host, rule.domains) {
			return models.ClassifiedLink{URL: u.String(), Label: rule.label, Category: rule.category}, true
		}
	}

	if hostMatches(host, bookingDomains) {
		return models.ClassifiedLink{URL: u.String(), Label: orDefault(text, defaultBookingLabel), Category: models.CategoryBooking}, true
	}

	path := strings.ToLower(u.Path)
	for _, marker := range shopPathMarkers {
		if strings.Contains(path, marker) {
			return models.ClassifiedLink{URL: u.String(), Label: orDefault(text, defaultShopLabel), Category: models.CategoryShop}, true
		}
	}

	return models.ClassifiedLink{}, false
}

// hostMatches reports whether host is one of domains or a subdomain of one
func hostMatches(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	return strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:")
}

// resolveHTTP resolves href against base and keeps only absolute http(s) URLs.
// The fragment is dropped.
func resolveHTTP(base *url.URL, href string) (*url.URL, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, true
}

// NormalizeLinkKey returns the dedupe key for a URL: lowercase scheme and
// host, no fragment, no trailing slash
func NormalizeLinkKey(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return strings.TrimRight(u.String(), "/")
}

// AnchorsFromHTML collects a[href] elements in document order
func AnchorsFromHTML(src string) []Anchor {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil
	}

	var anchors []Anchor
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := s.Text()
		if strings.TrimSpace(text) == "" {
			text, _ = s.Attr("aria-label")
		}
		anchors = append(anchors, Anchor{Href: href, Text: text})
	})
	return anchors
}

// AnchorsFromMarkdown collects [text](url) links. Images are skipped.
func AnchorsFromMarkdown(md string) []Anchor {
	var anchors []Anchor
	for _, m := range markdownLink.FindAllStringSubmatch(md, -1) {
		if m[1] == "!" {
			continue
		}
		anchors = append(anchors, Anchor{Href: m[3], Text: m[2]})
	}
	return anchors
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

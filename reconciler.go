package brandscan

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/docutag/brandscan/models"
	"github.com/docutag/brandscan/slug"
)

// Defaults applied when neither the model nor the page supplies a value
const (
	DefaultBio             = "Welcome to my page"
	DefaultIndustry        = "Brand"
	DefaultPrimaryColor    = "#3B82F6"
	DefaultSecondaryColor  = "#8B5CF6"
	DefaultBackgroundColor = "#FFFFFF"
	DefaultMaxLinks        = 6
	MaxBioChars            = 160
	maxBrandImages         = 8
)

// Industry values treated as "no answer"
var genericIndustries = map[string]bool{
	"business":         true,
	"general business": true,
	"general":          true,
}

var faviconMarkers = []string{"favicon", "site_icon", "android-chrome", "apple-touch-icon"}

// ReconcileInput is everything the reconciler merges
type ReconcileInput struct {
	SourceURL string
	Identity  *models.RawIdentity // nil when the model produced nothing usable
	Metadata  models.PageMetadata
	Links     []models.ClassifiedLink

	// LogoCandidates, when non-nil, replaces the computed candidate list.
	// The pipeline sets it after probing candidates over the network.
	LogoCandidates []string

	Options PipelineOptions
}

// Reconcile merges model output, page metadata and classified links into a
// BrandRecord. Each field takes the model value, then the page value, then a
// fixed default.
func Reconcile(in ReconcileInput) models.BrandRecord {
	id := in.Identity
	if id == nil {
		id = &models.RawIdentity{}
	}
	base, _ := url.Parse(in.SourceURL)

	name := firstNonEmpty(id.Name, CleanTitle(in.Metadata.Title), domainName(base))

	record := models.BrandRecord{
		Name:      name,
		Handle:    slug.Handle(name, in.SourceURL),
		Bio:       truncateBio(firstNonEmpty(cleanText(id.Bio), cleanText(in.Metadata.Description), DefaultBio)),
		Industry:  reconcileIndustry(id.Industry),
		Vibe:      strings.ToLower(cleanText(id.Vibe)),
		SourceURL: in.SourceURL,
		Colors: models.BrandColors{
			Primary:    firstNonEmpty(NormalizeHexColor(id.ThemeColor), NormalizeHexColor(in.Metadata.ThemeColor), DefaultPrimaryColor),
			Secondary:  firstNonEmpty(NormalizeHexColor(id.SecondaryColor), DefaultSecondaryColor),
			Background: firstNonEmpty(NormalizeHexColor(id.BackgroundColor), DefaultBackgroundColor),
		},
		Links: mergeLinks(in.Links, id.Links, base, in.Options.maxLinks()),
	}

	candidates := in.LogoCandidates
	if candidates == nil {
		candidates = LogoCandidates(id, in.Metadata, in.SourceURL)
	}
	if len(candidates) > 0 {
		logo := candidates[0]
		record.LogoURL = &logo
	}

	if in.Options.IncludeImages {
		record.Images = brandImages(in.Metadata, base)
	}

	return record
}

// LogoCandidates lists logo URLs in tier order: model logo (unless it looks
// like a favicon), og:image, logo-like page images, favicon. URLs are
// resolved against sourceURL, non-http URLs are discarded and duplicates removed.
func LogoCandidates(id *models.RawIdentity, meta models.PageMetadata, sourceURL string) []string {
	base, _ := url.Parse(sourceURL)

	var raw []string
	if id != nil && id.LogoURL != "" && !IsFaviconLike(id.LogoURL) {
		raw = append(raw, id.LogoURL)
	}
	raw = append(raw, meta.OGImage)
	raw = append(raw, meta.LogoImages...)
	raw = append(raw, meta.Favicon)

	candidates := make([]string, 0, len(raw))
	seen := make(map[string]bool)
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		u, ok := resolveHTTP(base, r)
		if !ok {
			continue
		}
		s := u.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		candidates = append(candidates, s)
	}
	return candidates
}

// IsFaviconLike reports whether a URL names a favicon or touch icon
func IsFaviconLike(u string) bool {
	lower := strings.ToLower(u)
	for _, m := range faviconMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return strings.HasSuffix(lower, ".ico")
}

// CleanTitle keeps the part of a page title before the first "|" and then
// before the first " - "
func CleanTitle(title string) string {
	title = cleanText(title)
	if i := strings.Index(title, "|"); i >= 0 {
		title = title[:i]
	}
	for _, sep := range []string{" - ", " – ", " — "} {
		if i := strings.Index(title, sep); i >= 0 {
			title = title[:i]
		}
	}
	return strings.TrimSpace(title)
}

func domainName(base *url.URL) string {
	if base == nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(base.Hostname()), "www.")
}

func reconcileIndustry(industry string) string {
	industry = cleanText(industry)
	if industry == "" || genericIndustries[strings.ToLower(industry)] {
		return DefaultIndustry
	}
	return industry
}

func truncateBio(bio string) string {
	if utf8.RuneCountInString(bio) <= MaxBioChars {
		return bio
	}
	return strings.TrimSpace(truncateRunes(bio, MaxBioChars))
}

// mergeLinks appends model suggestions after the classified links.
// Suggestions are re-classified by the domain and path rules; a category hint
// is honored only for booking and shop, since social categories require a
// domain match. Confirmed suggestions fill the cap before generic ones.
func mergeLinks(classified []models.ClassifiedLink, suggested []models.RawLink, base *url.URL, maxLinks int) []models.ClassifiedLink {
	links := make([]models.ClassifiedLink, 0, maxLinks)
	seen := make(map[string]bool)

	add := func(l models.ClassifiedLink) {
		if len(links) >= maxLinks {
			return
		}
		key := NormalizeLinkKey(l.URL)
		if seen[key] {
			return
		}
		seen[key] = true
		links = append(links, l)
	}

	for _, l := range classified {
		add(l)
	}

	var confirmed, generic []models.ClassifiedLink
	for _, s := range suggested {
		link, ok := suggestedLink(s, base)
		if !ok {
			continue
		}
		if link.Category.IsConfirmed() {
			confirmed = append(confirmed, link)
		} else {
			generic = append(generic, link)
		}
	}
	for _, l := range confirmed {
		add(l)
	}
	for _, l := range generic {
		add(l)
	}

	return links
}

// suggestedLink classifies one model suggestion
func suggestedLink(s models.RawLink, base *url.URL) (models.ClassifiedLink, bool) {
	u, ok := resolveHTTP(base, s.URL)
	if !ok {
		return models.ClassifiedLink{}, false
	}
	label := cleanText(s.Label)
	if link, ok := classifyByURL(u, label); ok {
		return link, true
	}

	category := models.ParseCategory(strings.ToLower(strings.TrimSpace(s.Category)))
	if category != models.CategoryBooking && category != models.CategoryShop {
		category = models.CategoryGeneric
	}
	switch {
	case label != "":
	case category == models.CategoryBooking:
		label = defaultBookingLabel
	case category == models.CategoryShop:
		label = defaultShopLabel
	default:
		label = strings.TrimPrefix(u.Hostname(), "www.")
	}
	return models.ClassifiedLink{URL: u.String(), Label: label, Category: category}, true
}

func brandImages(meta models.PageMetadata, base *url.URL) []string {
	images := make([]string, 0, maxBrandImages)
	seen := make(map[string]bool)
	for _, raw := range append([]string{meta.OGImage}, meta.Images...) {
		if len(images) >= maxBrandImages {
			break
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		u, ok := resolveHTTP(base, raw)
		if !ok || seen[u.String()] {
			continue
		}
		seen[u.String()] = true
		images = append(images, u.String())
	}
	return images
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

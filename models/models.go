package models

import "time"

// Category is the semantic class assigned to a brand link
type Category string

const (
	CategoryInstagram Category = "instagram"
	CategoryFacebook  Category = "facebook"
	CategoryTikTok    Category = "tiktok"
	CategoryTwitter   Category = "twitter"
	CategoryYouTube   Category = "youtube"
	CategoryLinkedIn  Category = "linkedin"
	CategoryBooking   Category = "booking"
	CategoryShop      Category = "shop"
	CategoryGeneric   Category = "generic"
)

// ParseCategory maps a free-text category hint onto the enum.
// Unknown hints map to CategoryGeneric.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryInstagram, CategoryFacebook, CategoryTikTok, CategoryTwitter,
		CategoryYouTube, CategoryLinkedIn, CategoryBooking, CategoryShop:
		return Category(s)
	case "x":
		return CategoryTwitter
	}
	return CategoryGeneric
}

// IsConfirmed reports whether the category comes from a positive rule match
// rather than a generic guess
func (c Category) IsConfirmed() bool {
	return c != CategoryGeneric && c != ""
}

// BrandRecord is the normalized output of one brand extraction
type BrandRecord struct {
	Name      string           `json:"name"`
	Handle    string           `json:"handle"`
	Bio       string           `json:"bio"`
	Industry  string           `json:"industry"`
	Vibe      string           `json:"vibe,omitempty"`
	Colors    BrandColors      `json:"colors"`
	LogoURL   *string          `json:"logo_url"`
	Links     []ClassifiedLink `json:"links"`
	Images    []string         `json:"images,omitempty"`
	SourceURL string           `json:"source_url"`
}

// BrandColors holds #RRGGBB colors
type BrandColors struct {
	Primary    string `json:"primary"`
	Secondary  string `json:"secondary,omitempty"`
	Background string `json:"background,omitempty"`
}

// ClassifiedLink is a link with a semantic category
type ClassifiedLink struct {
	URL      string   `json:"url"`
	Label    string   `json:"label"`
	Category Category `json:"category"`
}

// RawIdentity is the coerced language model output.
// Only Name is guaranteed to be non-empty.
type RawIdentity struct {
	Name            string    `json:"business_name"`
	Bio             string    `json:"bio,omitempty"`
	Industry        string    `json:"industry,omitempty"`
	Vibe            string    `json:"vibe,omitempty"`
	ThemeColor      string    `json:"theme_color,omitempty"`
	SecondaryColor  string    `json:"secondary_color,omitempty"`
	BackgroundColor string    `json:"background_color,omitempty"`
	LogoURL         string    `json:"logo_url,omitempty"`
	Links           []RawLink `json:"links,omitempty"`
}

// RawLink is a link suggested by the language model
type RawLink struct {
	Label    string `json:"label"`
	URL      string `json:"url"`
	Category string `json:"category,omitempty"`
}

// PageMetadata contains metadata scraped from the page head or the scraping provider
type PageMetadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	OGImage     string   `json:"og_image,omitempty"`
	SiteName    string   `json:"site_name,omitempty"`
	Favicon     string   `json:"favicon,omitempty"`
	ThemeColor  string   `json:"theme_color,omitempty"`
	LogoImages  []string `json:"logo_images,omitempty"` // Images that look like logos, ranked best first
	Images      []string `json:"images,omitempty"`      // Large content images, ranked best first
}

// Extraction wraps a record with service bookkeeping.
// Everything outside Record varies between runs.
type Extraction struct {
	ID             string      `json:"id"`
	URL            string      `json:"url"`
	Record         BrandRecord `json:"record"`
	CreatedAt      time.Time   `json:"created_at"`
	ProcessingTime float64     `json:"processing_time_seconds"`
	Cached         bool        `json:"cached"`
	Warnings       []string    `json:"warnings,omitempty"`
	FetchPath      string      `json:"fetch_path,omitempty"`   // "provider" or "direct"
	ContentPath    string      `json:"content_path,omitempty"` // Storage key of the reduced content snapshot
	LogoPath       string      `json:"logo_path,omitempty"`    // Storage key of the downloaded logo
	LogoType       string      `json:"logo_content_type,omitempty"`
}

// OllamaRequest represents a request to the Ollama API
type OllamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options *OllamaOptions `json:"options,omitempty"`
}

// OllamaOptions carries sampling parameters
type OllamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// OllamaResponse represents a response from the Ollama API
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

// ExtractRequest represents a brand extraction request
type ExtractRequest struct {
	URL            string `json:"url" validate:"required,max=2048"`
	Force          bool   `json:"force"` // Bypass cache and stored extractions
	PreferProvider *bool  `json:"prefer_provider,omitempty"`
	MaxLinks       int    `json:"max_links,omitempty" validate:"omitempty,min=1,max=20"`
	IncludeImages  bool   `json:"include_images"`
}

// AssistantRequest asks the voice assistant a question about a brand
type AssistantRequest struct {
	Message string      `json:"message" validate:"required,max=2000"`
	Record  BrandRecord `json:"record"`
}

// AssistantResponse carries the assistant's reply
type AssistantResponse struct {
	Reply string `json:"reply"`
}

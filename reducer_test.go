package brandscan

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestReduceHTML(t *testing.T) {
	src := `<html><head><title>Glow</title><style>body{color:red}</style>
		<script>var tracking = "secret";</script></head>
		<body>
			<noscript>Enable JS</noscript>
			<h1>Glow   Studio</h1>
			<svg><path d="M0 0"/><text>icon text</text></svg>
			<iframe src="https://ads.example"></iframe>
			<p>Facials and   peels.</p>
			<img src="data:image/png;base64,iVBORw0KGgo=">
		</body></html>`

	got := Reduce(src, FormatHTML, 0)

	for _, banned := range []string{"color:red", "tracking", "Enable JS", "icon text", "base64"} {
		if strings.Contains(got, banned) {
			t.Errorf("reduced content still contains %q:\n%s", banned, got)
		}
	}
	for _, want := range []string{"Glow Studio", "Facials and peels."} {
		if !strings.Contains(got, want) {
			t.Errorf("reduced content missing %q:\n%s", want, got)
		}
	}
}

func TestReduceMarkdown(t *testing.T) {
	md := "# Glow\n\n\n\n![hero](data:image/png;base64,AAAABBBBCCCC)\nWe   do facials.\n\n\n\nInline data:image/jpeg;base64,/9j/4AAQSkZJRg== here\n![logo](https://glow.com/logo.png)"

	got := Reduce(md, FormatMarkdown, 0)

	if strings.Contains(got, "base64") {
		t.Errorf("base64 data not removed:\n%s", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank line runs not collapsed:\n%q", got)
	}
	if !strings.Contains(got, "We do facials.") {
		t.Errorf("whitespace not collapsed:\n%s", got)
	}
	if !strings.Contains(got, "![logo](https://glow.com/logo.png)") {
		t.Errorf("regular image link should be kept:\n%s", got)
	}
}

func TestReduceTruncatesRuneSafe(t *testing.T) {
	content := strings.Repeat("é", 50)
	got := Reduce(content, FormatMarkdown, 10)
	if utf8.RuneCountInString(got) != 10 {
		t.Errorf("expected 10 runes, got %d", utf8.RuneCountInString(got))
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a rune")
	}
	if !strings.HasPrefix(content, got) {
		t.Error("truncation must keep a prefix")
	}
}

func TestReduceDefaultLimit(t *testing.T) {
	content := strings.Repeat("a", DefaultMaxContentChars+500)
	if got := Reduce(content, FormatMarkdown, 0); len(got) != DefaultMaxContentChars {
		t.Errorf("expected %d chars, got %d", DefaultMaxContentChars, len(got))
	}
}

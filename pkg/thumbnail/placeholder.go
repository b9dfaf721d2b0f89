package thumbnail

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// defaultPlaceholderBackground is used when no design background is known.
const defaultPlaceholderBackground = "#f3f4f6"

// backgroundPatterns locate the page's design background: a --background
// custom property wins over the first plain background declaration.
var backgroundPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)--background(?:-color)?\s*:\s*([^;}{"']+)`),
	regexp.MustCompile(`(?i)\bbackground(?:-color)?\s*:\s*([^;}{"']+)`),
}

// colorToken accepts hex, rgb()/hsl() and named colours; anything else
// (gradients, url() images) is not usable as an SVG fill.
var colorToken = regexp.MustCompile(`(?i)^(#[0-9a-f]{3,8}|rgba?\([^)]*\)|hsla?\([^)]*\)|[a-z]+)$`)

// BackgroundColor extracts the design background colour from a page's
// markup. Returns "" when none is declared or the value is not a plain
// colour token.
func BackgroundColor(html string) string {
	for _, p := range backgroundPatterns {
		m := p.FindStringSubmatch(html)
		if m == nil {
			continue
		}
		v := strings.TrimSpace(m[1])
		// Composite shorthands keep only their leading token.
		if i := strings.IndexByte(v, ' '); i > 0 && !strings.Contains(v[:i], "(") {
			v = v[:i]
		}
		if colorToken.MatchString(v) {
			return v
		}
	}
	return ""
}

// PlaceholderSVG renders the fallback image served when a capture exhausts
// its retry budget: the page title centered on the background colour.
func PlaceholderSVG(title string, width, height int, background string) []byte {
	if background == "" {
		background = defaultPlaceholderBackground
	}
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
  <rect width="100%%" height="100%%" fill="%s"/>
  <text x="50%%" y="50%%" text-anchor="middle" dominant-baseline="middle" font-family="sans-serif" font-size="%d" fill="#6b7280">%s</text>
</svg>
`, width, height, width, height, background, height/12, html.EscapeString(title))
	return []byte(svg)
}

package validator

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/TheSmartAz/zaoya/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHTML_CleanInput(t *testing.T) {
	res := ValidateHTML(`<div class="hero"><h1>Welcome</h1><a href="/about">About</a></div>`, "pages/home.html")
	assert.True(t, res.OK)
	assert.Empty(t, res.ErrorDetails)
	assert.Contains(t, res.NormalizedHTML, "<h1>Welcome</h1>")
}

func TestValidateHTML_Rules(t *testing.T) {
	tests := []struct {
		name   string
		html   string
		ruleID string
	}{
		{"script tag", `<div><script>alert(1)</script></div>`, "html-no-script-tag"},
		{"script tag uppercase", `<SCRIPT src="x.js"></SCRIPT>`, "html-no-script-tag"},
		{"iframe", `<iframe src="https://evil.test"></iframe>`, "html-no-iframe"},
		{"object", `<object data="x.swf"></object>`, "html-no-object"},
		{"embed", `<embed src="x.swf">`, "html-no-embed"},
		{"javascript url", `<a href="javascript:alert(1)">x</a>`, "html-no-javascript-url"},
		{"inline handler", `<button onclick="doit()">x</button>`, "html-no-inline-handler"},
		{"tailwind cdn", `<link href="https://cdn.tailwindcss.com"/>`, "html-no-tailwind-cdn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateHTML(tt.html, "pages/home.html")
			require.False(t, res.OK)
			require.Len(t, res.ErrorDetails, 1)
			d := res.ErrorDetails[0]
			assert.Equal(t, tt.ruleID, d.RuleID)
			assert.Equal(t, models.SeverityCritical, d.Severity)
			assert.Equal(t, "pages/home.html", d.Path)
			assert.NotEmpty(t, d.Message)
			assert.LessOrEqual(t, len(d.Excerpt), 200)
		})
	}
}

func TestValidateHTML_DiagnosticLine(t *testing.T) {
	html := "<div>\n<p>fine</p>\n<script>boom()</script>\n</div>"
	res := ValidateHTML(html, "")
	require.Len(t, res.ErrorDetails, 1)
	assert.Equal(t, 3, res.ErrorDetails[0].Line)
	assert.Equal(t, "<script>boom()</script>", res.ErrorDetails[0].Excerpt)
}

func TestValidateHTML_ExcerptKeepsRunesWhole(t *testing.T) {
	// The 200-byte cap lands mid-rune; the excerpt must back up to a rune
	// boundary instead of emitting a broken sequence.
	line := "<script>" + strings.Repeat("a", 190) + "日本語"
	res := ValidateHTML(line, "pages/home.html")
	require.False(t, res.OK)
	require.NotEmpty(t, res.ErrorDetails)

	excerpt := res.ErrorDetails[0].Excerpt
	assert.LessOrEqual(t, len(excerpt), 200)
	assert.True(t, utf8.ValidString(excerpt))
}

func TestValidateJS_Rules(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		ruleID string
	}{
		{"eval call", `eval("x")`, "js-no-eval"},
		{"bare eval reference", `const f = eval;`, "js-no-eval"},
		{"function constructor", `const f = Function("return 1");`, "js-no-function-constructor"},
		{"new function", `const f = new Function();`, "js-no-function-constructor"},
		{"fetch", `fetch("/api")`, "js-no-fetch"},
		{"bare fetch reference", `const f = fetch;`, "js-no-fetch"},
		{"xhr", `new XMLHttpRequest()`, "js-no-xhr"},
		{"websocket", `new WebSocket("wss://x")`, "js-no-websocket"},
		{"localstorage", `localStorage.setItem("a", "b")`, "js-no-localstorage"},
		{"sessionstorage", `sessionStorage.clear()`, "js-no-sessionstorage"},
		{"cookie", `document.cookie = "a=b"`, "js-no-cookie"},
		{"window top", `window.top.location = "/"`, "js-no-window-escape"},
		{"window opener", `window.opener.postMessage("x")`, "js-no-window-escape"},
		{"string setTimeout", `setTimeout("boom()", 100)`, "js-no-string-timer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateJS(tt.code, "pages/home.js")
			require.False(t, res.OK, "expected %q to fail", tt.code)
			found := false
			for _, d := range res.ErrorDetails {
				if d.RuleID == tt.ruleID {
					found = true
				}
			}
			assert.True(t, found, "expected rule %s, got %+v", tt.ruleID, res.ErrorDetails)
		})
	}
}

func TestValidateJS_CleanInput(t *testing.T) {
	code := `document.querySelectorAll(".tab").forEach(el => {
		el.addEventListener("click", () => el.classList.toggle("open"));
	});
	setTimeout(() => console.log("ready"), 100);`
	res := ValidateJS(code, "")
	assert.True(t, res.OK)
	assert.Empty(t, res.ErrorDetails)
}

func TestNormalize_WrapsFragment(t *testing.T) {
	out := Normalize(`<div><h1>Hi</h1></div>`)
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, `<meta charset="utf-8"/>`)
	assert.Contains(t, out, "viewport")
	assert.Contains(t, out, "<title>Untitled Page</title>")
	assert.Contains(t, out, "<div><h1>Hi</h1></div>")
}

func TestNormalize_KeepsTitle(t *testing.T) {
	out := Normalize(`<html><head><title>My Site</title></head><body><p>x</p></body></html>`)
	assert.Contains(t, out, "<title>My Site</title>")
}

func TestNormalize_StripsActiveContent(t *testing.T) {
	out := Normalize(`<div><script>alert(1)</script><iframe src="x"></iframe><p>keep</p></div>`)
	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "iframe")
	assert.Contains(t, out, "<p>keep</p>")
}

func TestNormalize_FiltersAttributes(t *testing.T) {
	out := Normalize(`<a href="/about" onclick="x()" data-nav="1" class="link" hidden>About</a>`)
	assert.Contains(t, out, `href="/about"`)
	assert.Contains(t, out, `data-nav="1"`)
	assert.Contains(t, out, `class="link"`)
	assert.NotContains(t, out, "onclick")
	assert.NotContains(t, out, "hidden")
}

func TestNormalize_DropsJavascriptHref(t *testing.T) {
	out := Normalize(`<a href="javascript:alert(1)">x</a>`)
	assert.NotContains(t, out, "javascript:")
}

func TestNormalize_UnwrapsUnknownTags(t *testing.T) {
	out := Normalize(`<marquee><p>still here</p></marquee>`)
	assert.NotContains(t, out, "marquee")
	assert.Contains(t, out, "<p>still here</p>")
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		`<div class="hero"><h1>Hello</h1><a href="/about">About</a></div>`,
		`<html><head><title>T</title></head><body><section><style>p{color:red}</style><p>x</p></section></body></html>`,
		`plain text only`,
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		assert.Equal(t, once, twice)
	}
}

package validator

import (
	"strings"
	"unicode/utf8"

	"github.com/TheSmartAz/zaoya/pkg/models"
)

// maxExcerptLen caps diagnostic excerpts.
const maxExcerptLen = 200

// HTMLResult is the outcome of ValidateHTML.
type HTMLResult struct {
	OK             bool
	Errors         []string
	Warnings       []string
	NormalizedHTML string
	ErrorDetails   []models.Diagnostic
}

// JSResult is the outcome of ValidateJS.
type JSResult struct {
	OK           bool
	Errors       []string
	ErrorDetails []models.Diagnostic
}

// ValidateHTML scans html against the HTML ruleset and returns structured
// diagnostics plus a normalized, sanitized rendering of the input. path is
// attached to diagnostics for display; it may be empty.
func ValidateHTML(html, path string) HTMLResult {
	details := scan(html, path, htmlRules)
	res := HTMLResult{
		OK:           len(details) == 0,
		ErrorDetails: details,
	}
	for _, d := range details {
		res.Errors = append(res.Errors, d.Message)
	}
	res.NormalizedHTML = Normalize(html)
	return res
}

// ValidateJS scans code against the JS ruleset.
func ValidateJS(code, path string) JSResult {
	details := scan(code, path, jsRules)
	res := JSResult{
		OK:           len(details) == 0,
		ErrorDetails: details,
	}
	for _, d := range details {
		res.Errors = append(res.Errors, d.Message)
	}
	return res
}

// scan runs every rule against the input and returns one diagnostic per
// rule hit (first match only; one finding per rule is enough to fail and
// keeps reports readable).
func scan(input, path string, rules []rule) []models.Diagnostic {
	var details []models.Diagnostic
	for _, r := range rules {
		loc := r.pattern.FindStringIndex(input)
		if loc == nil {
			continue
		}
		line, excerpt := locate(input, loc[0])
		details = append(details, models.Diagnostic{
			RuleID:       r.id,
			RuleCategory: r.category,
			Path:         path,
			Line:         line,
			Excerpt:      excerpt,
			Message:      r.message,
			SuggestedFix: r.fix,
			Severity:     r.severity,
		})
	}
	return details
}

// locate maps a byte offset to a 1-based line number and returns the
// surrounding line, trimmed and capped at maxExcerptLen.
func locate(input string, offset int) (int, string) {
	line := 1 + strings.Count(input[:offset], "\n")
	start := strings.LastIndexByte(input[:offset], '\n') + 1
	end := strings.IndexByte(input[offset:], '\n')
	if end < 0 {
		end = len(input)
	} else {
		end += offset
	}
	excerpt := strings.TrimSpace(input[start:end])
	if len(excerpt) > maxExcerptLen {
		// Back up to a rune start so the cap never splits a UTF-8 sequence.
		cut := maxExcerptLen
		for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
			cut--
		}
		excerpt = excerpt[:cut]
	}
	return line, excerpt
}

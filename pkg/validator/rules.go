// Package validator scans generated HTML/JS against a fixed security
// ruleset and normalizes HTML into a sanitized standalone document. All
// entry points are pure and synchronous.
package validator

import (
	"regexp"

	"github.com/TheSmartAz/zaoya/pkg/models"
)

// rule is one regex-backed scan. Rule ids are stable: clients key retry and
// display behavior on them.
type rule struct {
	id       string
	category string
	pattern  *regexp.Regexp
	message  string
	fix      string
	severity models.Severity
}

// htmlRules forbid active content and external styling in generated HTML.
// All are critical: a single hit fails the page.
var htmlRules = []rule{
	{
		id:       "html-no-script-tag",
		category: "security",
		pattern:  regexp.MustCompile(`(?i)<script\b`),
		message:  "script tags are not allowed in generated HTML",
		fix:      "move behavior into the page's JS block",
		severity: models.SeverityCritical,
	},
	{
		id:       "html-no-iframe",
		category: "security",
		pattern:  regexp.MustCompile(`(?i)<iframe\b`),
		message:  "iframe embeds are not allowed",
		fix:      "remove the iframe",
		severity: models.SeverityCritical,
	},
	{
		id:       "html-no-object",
		category: "security",
		pattern:  regexp.MustCompile(`(?i)<object\b`),
		message:  "object embeds are not allowed",
		fix:      "remove the object element",
		severity: models.SeverityCritical,
	},
	{
		id:       "html-no-embed",
		category: "security",
		pattern:  regexp.MustCompile(`(?i)<embed\b`),
		message:  "embed elements are not allowed",
		fix:      "remove the embed element",
		severity: models.SeverityCritical,
	},
	{
		id:       "html-no-javascript-url",
		category: "security",
		pattern:  regexp.MustCompile(`(?i)javascript\s*:`),
		message:  "javascript: URLs are not allowed",
		fix:      "use a plain href and attach behavior in JS",
		severity: models.SeverityCritical,
	},
	{
		id:       "html-no-inline-handler",
		category: "security",
		pattern:  regexp.MustCompile(`(?i)\son\w+\s*=`),
		message:  "inline event handlers are not allowed",
		fix:      "attach listeners with addEventListener in the JS block",
		severity: models.SeverityCritical,
	},
	{
		id:       "html-no-tailwind-cdn",
		category: "style",
		pattern:  regexp.MustCompile(`(?i)cdn\.tailwindcss\.com`),
		message:  "external CSS is forbidden; styles must be inlined",
		fix:      "inline the needed styles instead of loading the Tailwind CDN",
		severity: models.SeverityCritical,
	},
}

// jsRules forbid escape hatches out of the page sandbox. Word-boundary
// patterns catch both calls and bare references to the blocked globals.
var jsRules = []rule{
	{
		id:       "js-no-eval",
		category: "security",
		pattern:  regexp.MustCompile(`\beval\b`),
		message:  "eval is not allowed",
		fix:      "replace dynamic evaluation with static code",
		severity: models.SeverityCritical,
	},
	{
		id:       "js-no-function-constructor",
		category: "security",
		pattern:  regexp.MustCompile(`\bFunction\s*\(|\bnew\s+Function\b`),
		message:  "the Function constructor is not allowed",
		fix:      "define functions statically",
		severity: models.SeverityCritical,
	},
	{
		id:       "js-no-fetch",
		category: "security",
		pattern:  regexp.MustCompile(`\bfetch\b`),
		message:  "network access via fetch is not allowed",
		fix:      "generated pages must not make network requests",
		severity: models.SeverityCritical,
	},
	{
		id:       "js-no-xhr",
		category: "security",
		pattern:  regexp.MustCompile(`\bXMLHttpRequest\b`),
		message:  "network access via XMLHttpRequest is not allowed",
		fix:      "generated pages must not make network requests",
		severity: models.SeverityCritical,
	},
	{
		id:       "js-no-websocket",
		category: "security",
		pattern:  regexp.MustCompile(`\bWebSocket\b`),
		message:  "WebSocket connections are not allowed",
		fix:      "generated pages must not open sockets",
		severity: models.SeverityCritical,
	},
	{
		id:       "js-no-localstorage",
		category: "security",
		pattern:  regexp.MustCompile(`\blocalStorage\b`),
		message:  "localStorage access is not allowed",
		fix:      "keep page state in memory",
		severity: models.SeverityCritical,
	},
	{
		id:       "js-no-sessionstorage",
		category: "security",
		pattern:  regexp.MustCompile(`\bsessionStorage\b`),
		message:  "sessionStorage access is not allowed",
		fix:      "keep page state in memory",
		severity: models.SeverityCritical,
	},
	{
		id:       "js-no-cookie",
		category: "security",
		pattern:  regexp.MustCompile(`\bdocument\s*\.\s*cookie\b`),
		message:  "cookie access is not allowed",
		fix:      "remove document.cookie usage",
		severity: models.SeverityCritical,
	},
	{
		id:       "js-no-window-escape",
		category: "security",
		pattern:  regexp.MustCompile(`\bwindow\s*\.\s*(top|parent|opener)\b`),
		message:  "window.top/parent/opener access is not allowed",
		fix:      "remove frame-escape references",
		severity: models.SeverityCritical,
	},
	{
		id:       "js-no-string-timer",
		category: "security",
		pattern:  regexp.MustCompile(`\b(setTimeout|setInterval)\s*\(\s*['"]`),
		message:  "string-form setTimeout/setInterval is not allowed",
		fix:      "pass a function instead of a string",
		severity: models.SeverityCritical,
	},
}

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/TheSmartAz/zaoya/pkg/config"
	"github.com/TheSmartAz/zaoya/pkg/llm"
	"github.com/TheSmartAz/zaoya/pkg/models"
)

const pageWriterSystemPrompt = `You are the page writer for a website generator.
Produce the complete HTML for one page of a multi-page site, with all CSS
inlined. Never use script tags, iframes, external stylesheets, or inline
event handlers. Link to every other page of the site using its exact path
in an href attribute. Return the page as a fenced html code block, followed
by an optional fenced js code block for page behavior.`

// PageWriterInput describes one page-generation request.
type PageWriterInput struct {
	Page       models.PageSpec
	ProductDoc string
	// DesignRequirements carries design-system notes passed through from
	// the interview.
	DesignRequirements string
	// GeneratedPages lists names of pages already produced this session.
	GeneratedPages []string
	// Navigation is the full site navigation: every page name and path.
	Navigation []models.PageSpec
}

// PageOutput is the parsed result of a page-generation call.
type PageOutput struct {
	HTML string
	JS   string
}

// PageWriter generates whole pages. Unlike the JSON agents it speaks
// fenced code blocks: one html block, one optional js block.
type PageWriter struct {
	transport llm.Transport
	modelCfg  *config.ModelConfig
}

// NewPageWriter creates the page writer.
func NewPageWriter(transport llm.Transport, modelCfg *config.ModelConfig) *PageWriter {
	return &PageWriter{transport: transport, modelCfg: modelCfg}
}

// Generate produces one page. Empty HTML output is an error: the caller
// fails the page rather than storing a blank document.
func (w *PageWriter) Generate(ctx context.Context, in PageWriterInput) (*PageOutput, *CallMeta, error) {
	var sb strings.Builder
	section(&sb, "Page", mustJSON(in.Page))
	section(&sb, "Product document", in.ProductDoc)
	section(&sb, "Design requirements", in.DesignRequirements)
	if len(in.GeneratedPages) > 0 {
		section(&sb, "Already generated pages", strings.Join(in.GeneratedPages, ", "))
	}
	var nav strings.Builder
	for _, p := range in.Navigation {
		fmt.Fprintf(&nav, "- %s: %s\n", p.Name, p.Path)
	}
	section(&sb, "Site navigation (link to every page)", nav.String())

	model := w.modelCfg.Resolve(config.RolePageWriter)
	resp, err := w.transport.ChatComplete(ctx, model, []llm.Message{
		{Role: llm.RoleSystem, Content: pageWriterSystemPrompt},
		{Role: llm.RoleUser, Content: sb.String()},
	}, DefaultTemperature)
	if err != nil {
		return nil, nil, fmt.Errorf("page writer transport: %w", err)
	}

	meta := &CallMeta{
		RawResponse: resp.Content,
		Model:       resp.Model,
		TokenUsage: models.TokenUsage{
			Prompt:     resp.Usage.Prompt,
			Completion: resp.Usage.Completion,
			Total:      resp.Usage.Total,
		},
	}

	out := &PageOutput{
		HTML: extractFencedBlock(resp.Content, "html"),
		JS:   extractFencedBlock(resp.Content, "js"),
	}
	if out.HTML == "" {
		// Some models skip the language tag; fall back to the first fenced
		// block if it looks like markup.
		if block := extractFencedBlock(resp.Content, ""); strings.Contains(block, "<") {
			out.HTML = block
		}
	}
	if strings.TrimSpace(out.HTML) == "" {
		return nil, meta, fmt.Errorf("page writer returned no HTML block for page %s", in.Page.ID)
	}
	return out, meta, nil
}

// extractFencedBlock returns the contents of the first ```lang fenced block,
// or "" when absent. An empty lang matches a bare ``` fence.
func extractFencedBlock(s, lang string) string {
	marker := "```" + lang
	for start := 0; ; {
		idx := strings.Index(s[start:], marker)
		if idx < 0 {
			return ""
		}
		idx += start
		rest := s[idx+len(marker):]
		if lang == "" {
			// A bare fence must not be a tagged one.
			if nl := strings.IndexByte(rest, '\n'); nl > 0 && strings.TrimSpace(rest[:nl]) != "" {
				start = idx + len(marker)
				continue
			}
		}
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
}

package tools

import (
	"fmt"
	"strings"
)

// ApplyResult reports the outcome of ApplyPatch. Applied is true only when
// every hunk of every file applied cleanly and all writes succeeded.
type ApplyResult struct {
	Applied bool     `json:"applied"`
	Touched []string `json:"touched"`
	Errors  []string `json:"errors,omitempty"`
}

// filePatch is one file's worth of a unified diff.
type filePatch struct {
	path  string
	isNew bool
	hunks []hunk
}

// hunk is one @@ block. lines keep their leading marker (' ', '-', '+').
type hunk struct {
	oldStart int
	oldCount int
	newStart int
	newCount int
	lines    []string
}

// ApplyPatch parses a unified diff and applies it to the project root.
// Nothing is written unless every hunk of every file applies: context lines
// must match, hunks must not overlap, and no path may escape the root.
func (r *RepoTools) ApplyPatch(diff string) ApplyResult {
	patches, err := parseUnifiedDiff(diff)
	if err != nil {
		return ApplyResult{Errors: []string{err.Error()}}
	}
	if len(patches) == 0 {
		return ApplyResult{Errors: []string{"diff contains no file patches"}}
	}

	// First pass: apply everything in memory.
	updated := make(map[string]string, len(patches))
	touched := make([]string, 0, len(patches))
	for _, fp := range patches {
		current, exists, err := r.ReadFile(fp.path)
		if err != nil {
			return ApplyResult{Errors: []string{err.Error()}}
		}
		if fp.isNew && exists {
			return ApplyResult{Errors: []string{fmt.Sprintf("%s: patch creates a file that already exists", fp.path)}}
		}
		next, err := applyHunks(current, fp.hunks)
		if err != nil {
			return ApplyResult{Errors: []string{fmt.Sprintf("%s: %v", fp.path, err)}}
		}
		updated[fp.path] = next
		touched = append(touched, fp.path)
	}

	// Second pass: write.
	for _, path := range touched {
		if err := r.writeFile(path, updated[path]); err != nil {
			return ApplyResult{Touched: touched, Errors: []string{err.Error()}}
		}
	}
	return ApplyResult{Applied: true, Touched: touched}
}

// parseUnifiedDiff splits a unified diff into per-file patches.
func parseUnifiedDiff(diff string) ([]filePatch, error) {
	lines := strings.Split(diff, "\n")
	var patches []filePatch
	var cur *filePatch
	var curHunk *hunk

	flushHunk := func() error {
		if curHunk == nil {
			return nil
		}
		if err := checkHunkCounts(curHunk); err != nil {
			return err
		}
		cur.hunks = append(cur.hunks, *curHunk)
		curHunk = nil
		return nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "--- "):
			if err := flushHunk(); err != nil {
				return nil, err
			}
			if cur != nil {
				patches = append(patches, *cur)
			}
			oldPath := strings.TrimSpace(strings.TrimPrefix(line, "--- "))
			if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
				return nil, fmt.Errorf("line %d: --- header without +++ header", i+1)
			}
			newPath := strings.TrimSpace(strings.TrimPrefix(lines[i+1], "+++ "))
			i++
			path := stripDiffPrefix(newPath)
			if path == "" || path == "/dev/null" {
				return nil, fmt.Errorf("line %d: invalid target path %q", i+1, newPath)
			}
			cur = &filePatch{path: path, isNew: oldPath == "/dev/null"}

		case strings.HasPrefix(line, "@@ "):
			if cur == nil {
				return nil, fmt.Errorf("line %d: hunk header before file header", i+1)
			}
			if err := flushHunk(); err != nil {
				return nil, err
			}
			h, err := parseHunkHeader(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			curHunk = &h

		case curHunk != nil && len(line) > 0 && (line[0] == ' ' || line[0] == '-' || line[0] == '+'):
			curHunk.lines = append(curHunk.lines, line)

		case curHunk != nil && line == "":
			// Blank context line inside a hunk (some generators drop the
			// leading space). Treat as context if the hunk still expects
			// lines, otherwise it ends the hunk.
			if hunkNeedsMore(curHunk) {
				curHunk.lines = append(curHunk.lines, " ")
			}

		case strings.HasPrefix(line, "\\ No newline"):
			// Marker only; nothing to record.

		default:
			// diff headers ("diff --git", "index ...") and trailing junk.
		}
	}
	if err := flushHunk(); err != nil {
		return nil, err
	}
	if cur != nil {
		patches = append(patches, *cur)
	}
	return patches, nil
}

func stripDiffPrefix(p string) string {
	if p == "/dev/null" {
		return p
	}
	for _, prefix := range []string{"a/", "b/"} {
		if strings.HasPrefix(p, prefix) {
			return p[len(prefix):]
		}
	}
	return p
}

// parseHunkHeader parses "@@ -l[,c] +l[,c] @@".
func parseHunkHeader(line string) (hunk, error) {
	var h hunk
	body := strings.TrimPrefix(line, "@@ ")
	end := strings.Index(body, " @@")
	if end < 0 {
		return h, fmt.Errorf("malformed hunk header %q", line)
	}
	var oldPart, newPart string
	if _, err := fmt.Sscanf(body[:end], "-%s +%s", &oldPart, &newPart); err != nil {
		return h, fmt.Errorf("malformed hunk header %q", line)
	}
	var err error
	h.oldStart, h.oldCount, err = parseRange(oldPart)
	if err != nil {
		return h, err
	}
	h.newStart, h.newCount, err = parseRange(newPart)
	return h, err
}

func parseRange(s string) (start, count int, err error) {
	count = 1
	if idx := strings.IndexByte(s, ','); idx >= 0 {
		if _, err = fmt.Sscanf(s, "%d,%d", &start, &count); err != nil {
			return 0, 0, fmt.Errorf("malformed hunk range %q", s)
		}
		return start, count, nil
	}
	if _, err = fmt.Sscanf(s, "%d", &start); err != nil {
		return 0, 0, fmt.Errorf("malformed hunk range %q", s)
	}
	return start, count, nil
}

// checkHunkCounts verifies the recorded line counts match the header.
func checkHunkCounts(h *hunk) error {
	var olds, news int
	for _, l := range h.lines {
		switch l[0] {
		case ' ':
			olds++
			news++
		case '-':
			olds++
		case '+':
			news++
		}
	}
	if olds != h.oldCount || news != h.newCount {
		return fmt.Errorf("hunk at -%d,+%d: header counts (%d,%d) do not match body (%d,%d)",
			h.oldStart, h.newStart, h.oldCount, h.newCount, olds, news)
	}
	return nil
}

func hunkNeedsMore(h *hunk) bool {
	var olds, news int
	for _, l := range h.lines {
		switch l[0] {
		case ' ':
			olds++
			news++
		case '-':
			olds++
		case '+':
			news++
		}
	}
	return olds < h.oldCount || news < h.newCount
}

// applyHunks applies a file's hunks to content. Hunks must be sorted by
// oldStart and must not overlap; every context and deletion line must match
// the source exactly.
func applyHunks(content string, hunks []hunk) (string, error) {
	if len(hunks) == 0 {
		return "", fmt.Errorf("no hunks")
	}
	src := splitLines(content)

	prevEnd := 0
	for _, h := range hunks {
		start := h.oldStart
		if start > 0 {
			start-- // 1-based → 0-based
		}
		if start < prevEnd {
			return "", fmt.Errorf("overlapping hunks at line %d", h.oldStart)
		}
		prevEnd = start + h.oldCount
	}

	var out []string
	pos := 0
	for _, h := range hunks {
		start := h.oldStart
		if start > 0 {
			start--
		}
		if start > len(src) {
			return "", fmt.Errorf("hunk start %d beyond end of file (%d lines)", h.oldStart, len(src))
		}
		out = append(out, src[pos:start]...)
		pos = start
		for _, l := range h.lines {
			text := l[1:]
			switch l[0] {
			case ' ':
				if pos >= len(src) || src[pos] != text {
					return "", contextMismatch(src, pos, text)
				}
				out = append(out, text)
				pos++
			case '-':
				if pos >= len(src) || src[pos] != text {
					return "", contextMismatch(src, pos, text)
				}
				pos++
			case '+':
				out = append(out, text)
			}
		}
	}
	out = append(out, src[pos:]...)
	return strings.Join(out, "\n") + "\n", nil
}

func contextMismatch(src []string, pos int, want string) error {
	got := "<end of file>"
	if pos < len(src) {
		got = src[pos]
	}
	return fmt.Errorf("context mismatch at line %d: want %q, have %q", pos+1, want, got)
}

// splitLines splits file content into lines without a trailing phantom
// entry for the final newline.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

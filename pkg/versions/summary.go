package versions

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/TheSmartAz/zaoya/pkg/models"
)

// fileMap flattens a snapshot's pages to project-relative files, the unit
// the change summary counts over.
func fileMap(pages []models.PageContent) map[string]string {
	files := make(map[string]string, len(pages)*2)
	for _, p := range pages {
		files[fmt.Sprintf("pages/%s.html", p.Slug)] = p.HTML
		if p.JS != "" {
			files[fmt.Sprintf("pages/%s.js", p.Slug)] = p.JS
		}
	}
	return files
}

// summarize computes the change summary between two snapshots using
// line-level opcodes per file.
func summarize(oldPages, newPages []models.PageContent) models.ChangeSummary {
	oldFiles := fileMap(oldPages)
	newFiles := fileMap(newPages)

	paths := make(map[string]struct{}, len(oldFiles)+len(newFiles))
	for p := range oldFiles {
		paths[p] = struct{}{}
	}
	for p := range newFiles {
		paths[p] = struct{}{}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var sum models.ChangeSummary
	for _, path := range sorted {
		oldContent, hadOld := oldFiles[path]
		newContent, hasNew := newFiles[path]
		if hadOld && hasNew && oldContent == newContent {
			continue
		}
		sum.FilesChanged++

		oldLines := splitLines(oldContent)
		newLines := splitLines(newContent)
		if !hadOld {
			oldLines = nil
		}
		if !hasNew {
			newLines = nil
		}
		matcher := difflib.NewMatcher(oldLines, newLines)
		for _, op := range matcher.GetOpCodes() {
			switch op.Tag {
			case 'r':
				sum.LinesDeleted += op.I2 - op.I1
				sum.LinesAdded += op.J2 - op.J1
			case 'd':
				sum.LinesDeleted += op.I2 - op.I1
			case 'i':
				sum.LinesAdded += op.J2 - op.J1
			}
		}
	}
	return sum
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

package review

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/reviewflow/workflow"
)

func pagesOf(g workflow.Getter) []string {
	pages, _ := workflow.Lookup[[]string](g, FieldPages)
	return pages
}

func fullText(pages []string) string {
	return strings.Join(pages, "\n\n")
}

func firstPages(pages []string, n int) string {
	if n < len(pages) {
		pages = pages[:n]
	}
	return strings.Join(pages, "\n\n")
}

// numberLines prefixes every line with its 1-based number and a bar.
func numberLines(lines []string) string {
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteByte('|')
		b.WriteString(line)
	}
	return b.String()
}

// sliceLines returns lines start..end (1-based, inclusive), clamped to the
// document and trimmed.
func sliceLines(lines []string, start, end int) string {
	lo := start - 1
	if lo < 0 {
		lo = 0
	}
	hi := end
	if hi > len(lines) {
		hi = len(lines)
	}
	if lo >= hi {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[lo:hi], "\n"))
}

// charCount counts characters, not bytes.
func charCount(s string) int {
	return utf8.RuneCountInString(s)
}

func stringOf(g workflow.Getter, field string) string {
	return workflow.LookupOr(g, field, "")
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}

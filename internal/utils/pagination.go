// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// AtoiDefault parses s as a decimal integer, ignoring surrounding
// whitespace. Blank or malformed input yields def.
//
//	utils.AtoiDefault(" 90 ", 0) // 90
//	utils.AtoiDefault("1h", 0)   // 0
func AtoiDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

// PaginateLines packs lines into pages of at most limit runes each,
// starting a new page whenever the next line would not fit. Each page
// starts with header. A line longer than limit on its own is cut and
// suffixed with more.
//
// Example:
//
//	pages := utils.PaginateLines("Courses:\n", lines, 3980, "...")
func PaginateLines(header string, lines []string, limit int, more string) []string {
	if limit <= 0 {
		limit = 1
	}
	var (
		pages []string
		b     strings.Builder
		n     int
	)
	start := func() {
		b.Reset()
		b.WriteString(header)
		n = utf8.RuneCountInString(header)
	}
	start()
	filled := false
	for _, line := range lines {
		ln := utf8.RuneCountInString(line) + 1
		if filled && n+ln > limit {
			pages = append(pages, b.String())
			start()
			filled = false
		}
		if n+ln > limit {
			keep := limit - n - utf8.RuneCountInString(more) - 1
			if keep < 0 {
				keep = 0
			}
			line = string([]rune(line)[:min(keep, utf8.RuneCountInString(line))]) + more
			ln = utf8.RuneCountInString(line) + 1
		}
		b.WriteString(line)
		b.WriteByte('\n')
		n += ln
		filled = true
	}
	if filled || len(pages) == 0 {
		pages = append(pages, b.String())
	}
	return pages
}

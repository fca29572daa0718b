// Package prompt turns ranked matches and a user question into a generation prompt.
package prompt

import (
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/podrag/internal/domain/answer"
	"github.com/kailas-cloud/podrag/internal/domain/match"
)

const separator = " "

const persona = "You are a helpful assistant for a podcast. " +
	"You answer questions about the podcast's episodes using only the episode excerpts in the context below. " +
	"If the context does not contain the answer, say that the episodes do not cover it."

// Assemble joins match titles in ranking order with a single space.
// maxChars bounds the result in runes: whole matches are dropped from the
// lowest-ranked end until the block fits, and a lone top title longer than the
// budget is cut at the budget. maxChars <= 0 means unbounded.
func Assemble(matches []match.Match, maxChars int) string {
	var b strings.Builder
	used := 0

	for i := range matches {
		title := strings.TrimSpace(matches[i].Title())
		if title == "" {
			continue
		}

		n := utf8.RuneCountInString(title)
		if used > 0 {
			n += utf8.RuneCountInString(separator)
		}

		if maxChars > 0 && used+n > maxChars {
			if used == 0 {
				b.WriteString(truncateRunes(title, maxChars))
			}
			break
		}

		if used > 0 {
			b.WriteString(separator)
		}
		b.WriteString(title)
		used += n
	}

	return b.String()
}

// Build renders the fixed prompt template. The template always ends with the
// answer marker so the continuation can be parsed by answer.Extract.
func Build(query, context string) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\nContext: ")
	b.WriteString(context)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\n")
	b.WriteString(answer.Marker)
	return b.String()
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

package query

import (
	"strings"

	"github.com/pomelo-kg/pomelo/pkg/tokens"
)

// contextSection is one named block of a query context. Rows are ordered by
// relevance; each section is truncated independently against its own token
// ceiling before rendering.
type contextSection struct {
	Name string
	Rows []string
}

// truncate applies the token budget to the section's rows, preserving order.
func (s contextSection) truncate(enc tokens.Encoder, ceiling int) contextSection {
	return contextSection{
		Name: s.Name,
		Rows: tokens.TruncateStrings(enc, s.Rows, ceiling),
	}
}

// render joins the non-empty sections into the context text handed to the
// completion service. Returns "" when every section is empty.
func renderSections(sections []contextSection) string {
	var parts []string
	for _, s := range sections {
		if len(s.Rows) == 0 {
			continue
		}
		var b strings.Builder
		b.WriteString(s.Name)
		b.WriteString(":\n")
		b.WriteString(strings.Join(s.Rows, "\n"))
		parts = append(parts, b.String())
	}

	return strings.Join(parts, "\n\n")
}

package database

import (
	"strconv"
	"strings"
)

// Rebind converts '?' placeholders to the numbered '$n' form PostgreSQL
// expects. Queries for other backends are returned unchanged. Placeholders
// inside single-quoted literals are left alone.
func Rebind(t BackendType, query string) string {
	if t != BackendPostgreSQL {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

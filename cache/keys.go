package cache

import (
	"strings"
)

// Key builds a deterministic cache key from a dataset kind and the lookup's
// input parameters. Parts are lowercased and trimmed so incidental formatting
// differences in caller input ("California " vs "california") resolve to the
// same key.
func Key(kind string, parts ...string) string {
	var b strings.Builder

	size := len(kind)
	for _, part := range parts {
		size += len(part) + 1
	}
	b.Grow(size)

	b.WriteString(kind)
	for _, part := range parts {
		b.WriteByte(':')
		b.WriteString(normalizePart(part))
	}

	return b.String()
}

func normalizePart(part string) string {
	part = strings.TrimSpace(part)
	part = strings.ToLower(part)
	return strings.Join(strings.Fields(part), " ")
}

package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect describes the differences between supported SQL engines.
// Queries are written with ? placeholders and rebound when the engine
// expects numbered ones.
type Dialect struct {
	Name string
	// NumberedPlaceholders rewrites ? into $1, $2, ...
	NumberedPlaceholders bool
	// IsUniqueViolation classifies driver errors raised by unique or
	// primary key constraints.
	IsUniqueViolation func(error) bool
}

func (d Dialect) rebind(query string) string {
	if !d.NumberedPlaceholders {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) uniqueViolation(err error) bool {
	if err == nil || d.IsUniqueViolation == nil {
		return false
	}
	return d.IsUniqueViolation(err)
}

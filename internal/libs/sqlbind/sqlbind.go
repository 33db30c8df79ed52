// Package sqlbind rewrites '?' placeholders for drivers that want numbered
// ones, so stores can serve sqlite in tests and Postgres in production from
// one set of queries.
package sqlbind

import (
	"strconv"
	"strings"
)

type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Rebind converts '?' placeholders to '$1..$n' for Postgres. Queries here
// never embed literal question marks, so a plain scan is enough.
func Rebind(d Dialect, query string) string {
	if d != DialectPostgres {
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

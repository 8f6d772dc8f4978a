package policy

import (
	"regexp"
	"strings"
	"sync"
)

// globCache avoids recompiling the same pattern's regexp on every
// evaluation; policy documents are small and loaded once, but the risk
// engine's pattern tables are walked per tool call, so caching matters
// there too.
var (
	globCacheMu sync.RWMutex
	globCache   = map[string]*regexp.Regexp{}
)

// compileGlob translates a glob pattern into an anchored regular
// expression: '*' becomes '.*', '?' becomes '.', and every other regex
// metacharacter is escaped so the pattern only ever matches literally or via
// the two wildcard characters. An empty pattern compiles to an expression
// that matches only the empty string.
func compileGlob(pattern string) *regexp.Regexp {
	globCacheMu.RLock()
	if re, ok := globCache[pattern]; ok {
		globCacheMu.RUnlock()
		return re
	}
	globCacheMu.RUnlock()

	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	re := regexp.MustCompile(b.String())

	globCacheMu.Lock()
	globCache[pattern] = re
	globCacheMu.Unlock()
	return re
}

// GlobMatch reports whether name matches pattern under the glob semantics in
// §4.3: case-sensitive, '*' matches any run of characters (including none),
// '?' matches exactly one character, everything else is literal.
func GlobMatch(pattern, name string) bool {
	return compileGlob(pattern).MatchString(name)
}

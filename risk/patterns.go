package risk

import "regexp"

// BasePattern maps a tool-name glob to a base risk score. Patterns are
// evaluated in table order; the first match wins.
type BasePattern struct {
	Pattern string
	Base    int
}

// DefaultBasePatterns is the built-in tool-name-shape table from §4.4 step 1.
// Custom caller-supplied patterns are always consulted first (see Score),
// then this table, then the 20-point fallback.
var DefaultBasePatterns = []BasePattern{
	{"Delete*", 80},
	{"Remove*", 80},
	{"Rm*", 80},
	{"*Shell*", 75},
	{"*Bash*", 75},
	{"*Execute*", 70},
	{"*Run*", 65},
	{"*Command*", 65},
	{"*Sql*", 60},
	{"*Database*", 55},
	{"Write*", 50},
	{"Update*", 45},
	{"Edit*", 45},
	{"Create*", 40},
	{"*Query*", 40},
	{"*Fetch*", 35},
	{"*Http*", 35},
	{"*Request*", 35},
	{"Read*", 10},
	{"Get*", 10},
	{"Search*", 5},
}

// defaultBaseScore is used when no base pattern (custom or built-in) matches
// the tool name.
const defaultBaseScore = 20

// KeywordBoost is a single argument-scanning rule from §4.4 step 2: a
// case-insensitive, word-bounded regex over the raw arguments JSON, and the
// points added to the score when it matches.
type KeywordBoost struct {
	Name    string
	Pattern *regexp.Regexp
	Boost   int
}

func mustKeyword(name, expr string, boost int) KeywordBoost {
	return KeywordBoost{Name: name, Pattern: regexp.MustCompile(`(?i)` + expr), Boost: boost}
}

// DefaultKeywordBoosts is the built-in argument keyword table from §4.4
// step 2. Boosts stack additively across every keyword that matches.
var DefaultKeywordBoosts = []KeywordBoost{
	mustKeyword("drop", `\bdrop\b`, 25),
	mustKeyword("delete", `\bdelete\b`, 15),
	mustKeyword("truncate", `\btruncate\b`, 25),
	mustKeyword("rm_rf", `rm\s+-rf\b`, 30),
	mustKeyword("format", `\bformat\b`, 20),
	mustKeyword("privilege_escalation", `\b(sudo|chmod|chown)\b`, 20),
	mustKeyword("password", `\bpassword\b`, 15),
	mustKeyword("secret", `\bsecret\b`, 15),
	mustKeyword("token", `\btoken\b`, 10),
	mustKeyword("credentials_file", `(\.env\b|\bcredentials\b)`, 20),
}

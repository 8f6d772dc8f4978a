// Package crypto provides the deterministic serialization and signing
// primitives shared by the ledger and policy components: canonical JSON
// encoding, Ed25519 signing, SHA-256 hashing, and an AEAD-protected keystore
// for the operator's signing key.
package crypto

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Canonical renders v as a deterministic JSON string: object keys are sorted
// in ascending code-point order at every nesting level, and values are
// restricted to the subset that can be serialized unambiguously across
// implementations — ASCII strings, integers representable in int64 (as int,
// int64 or uint64), bool, nil, map[string]interface{}, and []interface{}.
// Other map and slice types are rejected as unsupported. Floating point numbers and
// non-ASCII strings are rejected rather than silently accepted, because a
// signable view that admits them can diverge byte-for-byte between a Go
// encoder and a verifier written in another language.
//
// This is deliberately not RFC 8785: the spec this type implements restricts
// signable values to the subset above, so full JSON-number/Unicode-escaping
// interoperability rules are unnecessary and are not implemented.
func Canonical(v interface{}) (string, error) {
	var b strings.Builder
	if err := writeCanonical(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
		return nil
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return nil
	case string:
		return writeCanonicalString(b, val)
	case int:
		b.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
		return nil
	case uint64:
		if val > math.MaxInt64 {
			return fmt.Errorf("canonical: integer %d exceeds int64 range", val)
		}
		b.WriteString(strconv.FormatUint(val, 10))
		return nil
	case map[string]interface{}:
		return writeCanonicalMap(b, val)
	case []interface{}:
		return writeCanonicalArray(b, val)
	case float64:
		return fmt.Errorf("canonical: floating point values are not signable")
	default:
		return fmt.Errorf("canonical: unsupported value type %T", v)
	}
}

func writeCanonicalMap(b *strings.Builder, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		if !isASCII(k) {
			return fmt.Errorf("canonical: non-ASCII map key %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeCanonicalString(b, k); err != nil {
			return err
		}
		b.WriteByte(':')
		if err := writeCanonical(b, m[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func writeCanonicalArray(b *strings.Builder, a []interface{}) error {
	b.WriteByte('[')
	for i, item := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeCanonical(b, item); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

func writeCanonicalString(b *strings.Builder, s string) error {
	if !isASCII(s) {
		return fmt.Errorf("canonical: non-ASCII string %q is not signable", s)
	}
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 {
				fmt.Fprintf(b, `\u%04x`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}

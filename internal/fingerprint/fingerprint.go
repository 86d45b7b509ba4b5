// Package fingerprint derives stable content hashes for notifications.
//
// Two requests that describe the same logical notification (same recipient,
// same type, same dedup-relevant facts) hash identically even when they differ
// in whitespace, key case, numeric formatting or volatile metadata. String
// values keep their case unless a rule folds the field.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const hashVersion = "v2"

// maxDecimalExponent bounds the exponents canonicalNumber expands. Larger
// literals are hashed as written.
const maxDecimalExponent = 400

var jsonNumberPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// Scope selects which parts of a notification take part in the hash.
type Scope string

const (
	// ScopeContent hashes recipient, type and dedup-relevant payload fields.
	ScopeContent Scope = "content"
	// ScopeRecipient hashes recipient and type only.
	ScopeRecipient Scope = "recipient"
)

func (s Scope) IsValid() bool {
	return s == ScopeContent || s == ScopeRecipient
}

func ParseScope(s string) (Scope, error) {
	scope := Scope(strings.ToLower(strings.TrimSpace(s)))
	if scope == "" {
		return ScopeContent, nil
	}
	if !scope.IsValid() {
		return "", fmt.Errorf("invalid fingerprint scope %q", s)
	}
	return scope, nil
}

// Fingerprinter computes content hashes according to a rule set.
type Fingerprinter struct {
	rules Rules
}

func New(rules Rules) *Fingerprinter {
	return &Fingerprinter{rules: rules.withDefaults()}
}

// Fingerprint returns the hex SHA-256 of the canonical form of a notification.
func (f *Fingerprinter) Fingerprint(recipient, notificationType string, payload map[string]any) string {
	recipient = canonicalName(recipient)
	notificationType = canonicalName(notificationType)

	rule := f.rules.ruleFor(notificationType)

	var body string
	if rule.scope(f.rules.Scope) == ScopeContent {
		body = canonicalPayload(rule.selectFields(payload, f.rules.Exclude), f.rules.foldSet(rule))
	}

	h := sha256.New()
	for _, part := range []string{hashVersion, recipient, notificationType, body} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Window returns the suppression window for a notification type, falling back
// to def when no rule overrides it.
func (f *Fingerprinter) Window(notificationType string, def time.Duration) time.Duration {
	rule := f.rules.ruleFor(canonicalName(notificationType))
	if rule.WindowMinutes > 0 {
		return time.Duration(rule.WindowMinutes) * time.Minute
	}
	return def
}

func canonicalPayload(fields map[string]any, fold map[string]struct{}) string {
	if len(fields) == 0 {
		return ""
	}

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		_, folded := fold[k]
		out[k] = canonicalValue(v, folded)
	}
	// json.Marshal sorts map keys, which gives a field-ordered serialization.
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("%v", out)
	}
	return string(b)
}

func canonicalValue(v any, fold bool) any {
	switch value := v.(type) {
	case nil:
		return nil
	case string:
		return canonicalText(value, fold)
	case bool:
		return strconv.FormatBool(value)
	case json.Number:
		return canonicalNumber(string(value))
	case float64:
		return canonicalFloat(value)
	case float32:
		return canonicalFloat(float64(value))
	case int:
		return strconv.FormatInt(int64(value), 10)
	case int8:
		return strconv.FormatInt(int64(value), 10)
	case int16:
		return strconv.FormatInt(int64(value), 10)
	case int32:
		return strconv.FormatInt(int64(value), 10)
	case int64:
		return strconv.FormatInt(value, 10)
	case uint:
		return strconv.FormatUint(uint64(value), 10)
	case uint8:
		return strconv.FormatUint(uint64(value), 10)
	case uint16:
		return strconv.FormatUint(uint64(value), 10)
	case uint32:
		return strconv.FormatUint(uint64(value), 10)
	case uint64:
		return strconv.FormatUint(value, 10)
	case map[string]any:
		fields := canonicalFields(value)
		out := make(map[string]any, len(fields))
		for k, child := range fields {
			out[k] = canonicalValue(child, fold)
		}
		return out
	case []any:
		out := make([]any, 0, len(value))
		for _, child := range value {
			out = append(out, canonicalValue(child, fold))
		}
		return out
	case []string:
		out := make([]any, 0, len(value))
		for _, child := range value {
			out = append(out, canonicalText(child, fold))
		}
		return out
	default:
		return canonicalText(fmt.Sprintf("%v", value), fold)
	}
}

// canonicalFields re-keys m by canonical key. When several keys normalize to
// the same name the lexically smallest original key wins.
func canonicalFields(m map[string]any) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(m))
	for _, k := range keys {
		key := canonicalKey(k)
		if key == "" {
			continue
		}
		if _, taken := out[key]; taken {
			continue
		}
		out[key] = m[k]
	}
	return out
}

// canonicalText collapses whitespace. Only folded fields lose their case, and
// numeric-looking strings are left alone so "0012" and "12" stay distinct.
func canonicalText(s string, fold bool) string {
	s = strings.Join(strings.Fields(s), " ")
	if fold {
		return strings.ToLower(s)
	}
	return s
}

func canonicalName(s string) string {
	return canonicalText(s, true)
}

// canonicalNumber renders a JSON number literal as an exact plain decimal, so
// 42, 42.0 and 4.2e1 agree while 9007199254740993 keeps every digit. Literals
// outside that grammar are hashed as written.
func canonicalNumber(literal string) string {
	literal = strings.TrimSpace(literal)
	if !jsonNumberPattern.MatchString(literal) {
		return literal
	}
	if i := strings.IndexAny(literal, "eE"); i >= 0 {
		exp, err := strconv.Atoi(literal[i+1:])
		if err != nil || exp > maxDecimalExponent || exp < -maxDecimalExponent {
			return literal
		}
	}

	r, ok := new(big.Rat).SetString(literal)
	if !ok {
		return literal
	}
	if r.IsInt() {
		return r.Num().String()
	}
	digits, ok := fractionDigits(r.Denom(), len(literal)+maxDecimalExponent)
	if !ok {
		return literal
	}
	return r.FloatString(digits)
}

// fractionDigits returns the smallest n with denom dividing 10^n. Decimal
// literals always have one.
func fractionDigits(denom *big.Int, limit int) (int, bool) {
	ten := big.NewInt(10)
	pow := big.NewInt(1)
	rem := new(big.Int)
	for n := 0; n <= limit; n++ {
		if rem.Mod(pow, denom).Sign() == 0 {
			return n, true
		}
		pow.Mul(pow, ten)
	}
	return 0, false
}

func canonicalFloat(f float64) string {
	formatted := strconv.FormatFloat(f, 'g', -1, 64)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return formatted
	}
	return canonicalNumber(formatted)
}

func canonicalKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

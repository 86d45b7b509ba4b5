package fingerprint

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultExclude lists volatile metadata fields that never take part in a
// fingerprint unless a type rule names them explicitly.
var DefaultExclude = []string{
	"timestamp",
	"requested_at",
	"requestedat",
	"sent_at",
	"sentat",
	"created_at",
	"createdat",
	"updated_at",
	"updatedat",
	"request_id",
	"requestid",
	"trace_id",
	"traceid",
}

// TypeRule narrows fingerprinting for one notification type.
type TypeRule struct {
	// Fields is an allow-list of payload fields. Empty means every field not
	// excluded.
	Fields []string `yaml:"fields"`
	// FoldCase names payload fields whose string values compare
	// case-insensitively, in addition to Rules.FoldCase.
	FoldCase      []string `yaml:"fold_case"`
	WindowMinutes int      `yaml:"window_minutes"`
	Scope         Scope    `yaml:"scope"`
}

// Rules is the fingerprint rule set, usually loaded from YAML:
//
//	scope: content
//	exclude: [timestamp, request_id]
//	fold_case: [status]
//	types:
//	  violation_approved:
//	    fields: [violation_id, status, unit]
//	    fold_case: [unit]
//	    window_minutes: 1440
//	  password_reset:
//	    scope: recipient
//	    window_minutes: 5
type Rules struct {
	Scope    Scope               `yaml:"scope"`
	Exclude  []string            `yaml:"exclude"`
	FoldCase []string            `yaml:"fold_case"`
	Types    map[string]TypeRule `yaml:"types"`
}

// LoadRules reads a YAML rule file. An empty path yields the default rules.
func LoadRules(path string) (Rules, error) {
	if strings.TrimSpace(path) == "" {
		return Rules{}, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read fingerprint rules: %w", err)
	}
	return ParseRules(b)
}

func ParseRules(data []byte) (Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse fingerprint rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (r Rules) Validate() error {
	if r.Scope != "" && !r.Scope.IsValid() {
		return fmt.Errorf("invalid fingerprint scope %q", r.Scope)
	}
	for name, rule := range r.Types {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("fingerprint rule with empty type name")
		}
		if rule.Scope != "" && !rule.Scope.IsValid() {
			return fmt.Errorf("invalid fingerprint scope %q for type %q", rule.Scope, name)
		}
		if rule.WindowMinutes < 0 {
			return fmt.Errorf("window_minutes must be >= 0 for type %q", name)
		}
	}
	return nil
}

func (r Rules) withDefaults() Rules {
	out := Rules{
		Scope: r.Scope,
		Types: make(map[string]TypeRule, len(r.Types)),
	}
	if !out.Scope.IsValid() {
		out.Scope = ScopeContent
	}

	exclude := r.Exclude
	if exclude == nil {
		exclude = DefaultExclude
	}
	out.Exclude = normalizeKeys(exclude)
	out.FoldCase = normalizeKeys(r.FoldCase)

	for name, rule := range r.Types {
		rule.Fields = normalizeKeys(rule.Fields)
		rule.FoldCase = normalizeKeys(rule.FoldCase)
		out.Types[canonicalName(name)] = rule
	}
	return out
}

func (r Rules) ruleFor(notificationType string) TypeRule {
	return r.Types[notificationType]
}

func (r Rules) foldSet(rule TypeRule) map[string]struct{} {
	fold := make(map[string]struct{}, len(r.FoldCase)+len(rule.FoldCase))
	for _, field := range r.FoldCase {
		fold[field] = struct{}{}
	}
	for _, field := range rule.FoldCase {
		fold[field] = struct{}{}
	}
	return fold
}

func (t TypeRule) scope(fallback Scope) Scope {
	if t.Scope.IsValid() {
		return t.Scope
	}
	return fallback
}

func (t TypeRule) selectFields(payload map[string]any, exclude []string) map[string]any {
	if len(payload) == 0 {
		return nil
	}

	canonical := canonicalFields(payload)

	selected := make(map[string]any, len(canonical))
	if len(t.Fields) > 0 {
		for _, field := range t.Fields {
			if v, ok := canonical[field]; ok {
				selected[field] = v
			}
		}
		return selected
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, field := range exclude {
		excluded[field] = struct{}{}
	}
	for k, v := range canonical {
		if _, skip := excluded[k]; skip {
			continue
		}
		selected[k] = v
	}
	return selected
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if key := canonicalKey(k); key != "" {
			seen[key] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

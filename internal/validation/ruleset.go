package validation

import (
	"errors"
	"sort"
	"strings"
)

// Wildcard is the role key used when the caller's role has no entry of its own.
const Wildcard = "*"

const ruleSeparator = "|"

// ErrNoRoleContract is returned when a role-keyed rule set defines neither the
// caller's role nor the wildcard. It is an authorization failure, not a
// validation failure.
var ErrNoRoleContract = errors.New("validation: no rule contract for role")

// FieldRules maps a field name to a rule string such as "required|string|max:255".
type FieldRules map[string]string

// Fields returns the field names in sorted order.
func (r FieldRules) Fields() []string {
	out := make([]string, 0, len(r))
	for f := range r {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// RuleSet is an action-specific rule layer. It is either uniform for every
// caller or keyed by role slug with an optional wildcard fallback.
type RuleSet struct {
	uniform FieldRules
	perRole map[string]FieldRules
}

// Uniform returns a rule set applied regardless of role.
func Uniform(rules FieldRules) RuleSet {
	if rules == nil {
		rules = FieldRules{}
	}
	return RuleSet{uniform: rules}
}

// PerRole returns a role-keyed rule set. The "*" key, when present, is the fallback.
func PerRole(byRole map[string]FieldRules) RuleSet {
	if byRole == nil {
		byRole = map[string]FieldRules{}
	}
	return RuleSet{perRole: byRole}
}

// IsPerRole reports whether the rule set is keyed by role.
func (rs RuleSet) IsPerRole() bool { return rs.perRole != nil }

// IsZero reports whether no action layer was configured.
func (rs RuleSet) IsZero() bool { return rs.uniform == nil && rs.perRole == nil }

// Layers returns every rule map held by the set, keyed by role ("" for uniform).
func (rs RuleSet) Layers() map[string]FieldRules {
	if rs.perRole != nil {
		return rs.perRole
	}
	if rs.uniform != nil {
		return map[string]FieldRules{"": rs.uniform}
	}
	return nil
}

// layer picks the rules that apply to role.
func (rs RuleSet) layer(role string) (FieldRules, error) {
	if rs.perRole == nil {
		return rs.uniform, nil
	}
	if role != "" {
		if rules, ok := rs.perRole[role]; ok {
			return rules, nil
		}
	}
	if rules, ok := rs.perRole[Wildcard]; ok {
		return rules, nil
	}
	return nil, ErrNoRoleContract
}

// Resolve merges the base layer with the action layer for role.
//
// A bare presence modifier in the action layer is prepended to the base rule,
// a value holding a rule separator (or any other single rule) replaces it and
// an empty value keeps the base rule. Fields missing from the action layer are
// not part of the result. With no action layer the base layer applies as is.
func Resolve(base FieldRules, rs RuleSet, role string) (FieldRules, error) {
	if rs.IsZero() {
		out := make(FieldRules, len(base))
		for f, rule := range base {
			out[f] = rule
		}
		return out, nil
	}
	layer, err := rs.layer(role)
	if err != nil {
		return nil, err
	}
	out := make(FieldRules, len(layer))
	for field, rule := range layer {
		rule = strings.TrimSpace(rule)
		baseRule := strings.TrimSpace(base[field])
		switch {
		case rule == "":
			out[field] = baseRule
		case strings.Contains(rule, ruleSeparator):
			out[field] = rule
		case isPresenceModifier(rule):
			if baseRule == "" {
				out[field] = rule
			} else {
				out[field] = rule + ruleSeparator + baseRule
			}
		default:
			out[field] = rule
		}
	}
	return out, nil
}

func isPresenceModifier(rule string) bool {
	switch rule {
	case ruleRequired, ruleNullable, ruleSometimes:
		return true
	}
	return false
}

package validation

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	ruleRequired  = "required"
	ruleNullable  = "nullable"
	ruleSometimes = "sometimes"
	rulePresent   = "present"
)

var formats = validator.New()

// Errors maps a field to its failure messages.
type Errors map[string][]string

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(e[f], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e Errors) add(field, msg string) {
	e[field] = append(e[field], msg)
}

// Prefixed returns a copy with every key prefixed by p.
func (e Errors) Prefixed(p string) Errors {
	out := make(Errors, len(e))
	for k, v := range e {
		out[p+k] = v
	}
	return out
}

// Options tunes a single validation pass.
type Options struct {
	// Messages holds custom messages keyed "field.rule".
	Messages map[string]string
	// Deferred fields hold placeholders resolved later; only presence is checked.
	Deferred map[string]bool
}

type rule struct {
	name string
	args []string
}

func parseRules(s string) []rule {
	var out []rule
	for _, part := range strings.Split(s, ruleSeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, arg, hasArg := strings.Cut(part, ":")
		r := rule{name: strings.TrimSpace(name)}
		if hasArg {
			if r.name == "regex" {
				r.args = []string{arg}
			} else {
				for _, a := range strings.Split(arg, ",") {
					r.args = append(r.args, strings.TrimSpace(a))
				}
			}
		}
		out = append(out, r)
	}
	return out
}

// CheckRules reports rule strings that name unknown rules or carry malformed arguments.
func CheckRules(rules FieldRules) error {
	for _, field := range rules.Fields() {
		for _, r := range parseRules(rules[field]) {
			if err := checkRule(r); err != nil {
				return fmt.Errorf("field %q: %w", field, err)
			}
		}
	}
	return nil
}

func checkRule(r rule) error {
	switch r.name {
	case ruleRequired, ruleNullable, ruleSometimes, rulePresent,
		"string", "integer", "numeric", "boolean", "array", "email", "url", "uuid", "date":
		if len(r.args) > 0 {
			return fmt.Errorf("rule %s takes no arguments", r.name)
		}
	case "min", "max":
		if len(r.args) != 1 {
			return fmt.Errorf("rule %s needs one argument", r.name)
		}
		if _, err := strconv.ParseFloat(r.args[0], 64); err != nil {
			return fmt.Errorf("rule %s: %w", r.name, err)
		}
	case "between":
		if len(r.args) != 2 {
			return fmt.Errorf("rule between needs two arguments")
		}
		for _, a := range r.args {
			if _, err := strconv.ParseFloat(a, 64); err != nil {
				return fmt.Errorf("rule between: %w", err)
			}
		}
	case "in", "not_in":
		if len(r.args) == 0 {
			return fmt.Errorf("rule %s needs at least one value", r.name)
		}
	case "regex":
		if len(r.args) != 1 {
			return fmt.Errorf("rule regex needs a pattern")
		}
		if _, err := regexp.Compile(r.args[0]); err != nil {
			return fmt.Errorf("rule regex: %w", err)
		}
	default:
		return fmt.Errorf("unknown rule %q", r.name)
	}
	return nil
}

// Validate checks payload against rules. Fields without a rule are dropped
// from the returned payload; they are never reported.
func Validate(rules FieldRules, payload map[string]any, opts Options) (map[string]any, error) {
	clean := make(map[string]any, len(rules))
	errs := Errors{}

	for _, field := range rules.Fields() {
		parsed := parseRules(rules[field])
		flags := presenceFlags(parsed)
		value, present := payload[field]

		if !present {
			if flags.sometimes {
				continue
			}
			if flags.required {
				errs.add(field, message(opts.Messages, field, rule{name: ruleRequired}, nil, parsed))
			} else if flags.present {
				errs.add(field, message(opts.Messages, field, rule{name: rulePresent}, nil, parsed))
			}
			continue
		}
		if opts.Deferred[field] {
			clean[field] = value
			continue
		}
		if isEmpty(value) && flags.required {
			errs.add(field, message(opts.Messages, field, rule{name: ruleRequired}, value, parsed))
			continue
		}
		if value == nil {
			if !flags.nullable && hasTypeRules(parsed) {
				errs.add(field, message(opts.Messages, field, rule{name: "not_null"}, nil, parsed))
				continue
			}
			clean[field] = nil
			continue
		}

		failed := false
		for _, r := range parsed {
			if isPresenceRule(r.name) {
				continue
			}
			if !passes(r, value, parsed) {
				errs.add(field, message(opts.Messages, field, r, value, parsed))
				failed = true
			}
		}
		if !failed {
			clean[field] = value
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return clean, nil
}

type flags struct {
	required, nullable, sometimes, present bool
}

func presenceFlags(rules []rule) flags {
	var f flags
	for _, r := range rules {
		switch r.name {
		case ruleRequired:
			f.required = true
		case ruleNullable:
			f.nullable = true
		case ruleSometimes:
			f.sometimes = true
		case rulePresent:
			f.present = true
		}
	}
	return f
}

func isPresenceRule(name string) bool {
	return name == ruleRequired || name == ruleNullable || name == ruleSometimes || name == rulePresent
}

func hasTypeRules(rules []rule) bool {
	for _, r := range rules {
		if !isPresenceRule(r.name) {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func passes(r rule, v any, all []rule) bool {
	switch r.name {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer":
		n, ok := number(v)
		return ok && n == math.Trunc(n)
	case "numeric":
		_, ok := number(v)
		return ok
	case "boolean":
		return isBoolean(v)
	case "array":
		switch v.(type) {
		case []any, map[string]any, []string:
			return true
		}
		return false
	case "email":
		s, ok := v.(string)
		return ok && formats.Var(s, "email") == nil
	case "url":
		s, ok := v.(string)
		return ok && formats.Var(s, "url") == nil
	case "uuid":
		s, ok := v.(string)
		return ok && formats.Var(s, "uuid") == nil
	case "date":
		s, ok := v.(string)
		return ok && isDate(s)
	case "min":
		limit, _ := strconv.ParseFloat(r.args[0], 64)
		size, ok := sizeOf(v, all)
		return ok && size >= limit
	case "max":
		limit, _ := strconv.ParseFloat(r.args[0], 64)
		size, ok := sizeOf(v, all)
		return ok && size <= limit
	case "between":
		lo, _ := strconv.ParseFloat(r.args[0], 64)
		hi, _ := strconv.ParseFloat(r.args[1], 64)
		size, ok := sizeOf(v, all)
		return ok && size >= lo && size <= hi
	case "in":
		return contains(r.args, scalarText(v))
	case "not_in":
		return !contains(r.args, scalarText(v))
	case "regex":
		s, ok := v.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(r.args[0])
		return err == nil && re.MatchString(s)
	}
	return false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func isBoolean(v any) bool {
	switch b := v.(type) {
	case bool:
		return true
	case float64:
		return b == 0 || b == 1
	case int:
		return b == 0 || b == 1
	case string:
		switch b {
		case "0", "1", "true", "false":
			return true
		}
	}
	return false
}

func isDate(s string) bool {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateOnly, time.DateTime} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// sizeOf measures a value the way min/max/between compare it: characters for
// strings, the value for numbers and element count for arrays. A string is
// measured numerically when the field also carries a numeric rule.
func sizeOf(v any, all []rule) (float64, bool) {
	numeric := false
	for _, r := range all {
		if r.name == "integer" || r.name == "numeric" {
			numeric = true
		}
	}
	switch t := v.(type) {
	case string:
		if numeric {
			return number(t)
		}
		return float64(utf8.RuneCountInString(t)), true
	case []any:
		return float64(len(t)), true
	case map[string]any:
		return float64(len(t)), true
	}
	return number(v)
}

func kindOf(v any, rules []rule) string {
	for _, r := range rules {
		if r.name == "integer" || r.name == "numeric" {
			return "numeric"
		}
	}
	switch v.(type) {
	case string:
		return "string"
	case []any, map[string]any:
		return "array"
	case float64, float32, int, int64, int32:
		return "numeric"
	}
	return "string"
}

func scalarText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

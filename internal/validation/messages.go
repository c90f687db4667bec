package validation

import (
	"strings"
)

var defaultMessages = map[string]string{
	ruleRequired:      "The :attribute field is required.",
	rulePresent:       "The :attribute field must be present.",
	"not_null":        "The :attribute field must not be null.",
	"string":          "The :attribute field must be a string.",
	"integer":         "The :attribute field must be an integer.",
	"numeric":         "The :attribute field must be a number.",
	"boolean":         "The :attribute field must be true or false.",
	"array":           "The :attribute field must be an array.",
	"email":           "The :attribute field must be a valid email address.",
	"url":             "The :attribute field must be a valid URL.",
	"uuid":            "The :attribute field must be a valid UUID.",
	"date":            "The :attribute field must be a valid date.",
	"in":              "The selected :attribute is invalid.",
	"not_in":          "The selected :attribute is invalid.",
	"regex":           "The :attribute field format is invalid.",
	"min.string":      "The :attribute field must be at least :min characters.",
	"min.numeric":     "The :attribute field must be at least :min.",
	"min.array":       "The :attribute field must have at least :min items.",
	"max.string":      "The :attribute field must not be greater than :max characters.",
	"max.numeric":     "The :attribute field must not be greater than :max.",
	"max.array":       "The :attribute field must not have more than :max items.",
	"between.string":  "The :attribute field must be between :min and :max characters.",
	"between.numeric": "The :attribute field must be between :min and :max.",
	"between.array":   "The :attribute field must have between :min and :max items.",
}

// message renders the failure text for field under r. A custom message keyed
// "field.rule" wins over the default.
func message(custom map[string]string, field string, r rule, value any, all []rule) string {
	tmpl, ok := custom[field+"."+r.name]
	if !ok {
		tmpl, ok = defaultMessages[r.name]
	}
	if !ok {
		tmpl, ok = defaultMessages[r.name+"."+kindOf(value, all)]
	}
	if !ok {
		tmpl = "The :attribute field is invalid."
	}

	replacements := []string{":attribute", attributeName(field)}
	switch r.name {
	case "min":
		replacements = append(replacements, ":min", r.args[0])
	case "max":
		replacements = append(replacements, ":max", r.args[0])
	case "between":
		replacements = append(replacements, ":min", r.args[0], ":max", r.args[1])
	}
	return strings.NewReplacer(replacements...).Replace(tmpl)
}

func attributeName(field string) string {
	return strings.ReplaceAll(field, "_", " ")
}

// Package query compiles allow-listed request directives into scoped store
// queries and runs them, loading includes and aggregates.
package query

import (
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Directives are the raw query-string parameters of a read request. Fields
// is keyed by model slug or table; the "" key holds an unqualified fields=.
type Directives struct {
	Filters map[string][]string
	Sort    []string
	Search  string
	Include []string
	Fields  map[string][]string
	Page    int
	PerPage int
}

// ParseDirectives reads filter[f], sort, search, include, fields[t], page
// and per_page. Malformed numbers are treated as absent.
func ParseDirectives(v url.Values) Directives {
	d := Directives{
		Filters: map[string][]string{},
		Fields:  map[string][]string{},
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := v[k]
		switch {
		case k == "sort":
			d.Sort = append(d.Sort, splitList(vals)...)
		case k == "search":
			d.Search = strings.TrimSpace(lastOf(vals))
		case k == "include":
			d.Include = append(d.Include, splitList(vals)...)
		case k == "page":
			d.Page = positive(lastOf(vals))
		case k == "per_page":
			d.PerPage = positive(lastOf(vals))
		case k == "fields":
			d.Fields[""] = append(d.Fields[""], splitList(vals)...)
		default:
			if name, ok := bracketed(k, "filter"); ok {
				d.Filters[name] = append(d.Filters[name], splitList(vals)...)
			} else if name, ok := bracketed(k, "fields"); ok {
				d.Fields[name] = append(d.Fields[name], splitList(vals)...)
			}
		}
	}
	return d
}

// bracketed extracts "x" from "prefix[x]".
func bracketed(key, prefix string) (string, bool) {
	if !strings.HasPrefix(key, prefix+"[") || !strings.HasSuffix(key, "]") {
		return "", false
	}
	name := strings.TrimSpace(key[len(prefix)+1 : len(key)-1])
	return name, name != ""
}

func splitList(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func lastOf(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}

func positive(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0
	}
	return n
}

// Offset is the number of rows before page. It saturates instead of
// overflowing, so a page far past the last one selects nothing.
func Offset(page, perPage int) int {
	if page <= 1 || perPage <= 0 {
		return 0
	}
	if page-1 > math.MaxInt/perPage {
		return math.MaxInt
	}
	return (page - 1) * perPage
}

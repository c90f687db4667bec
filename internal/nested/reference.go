package nested

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"restgen.dev/internal/store"
)

// refPattern matches a whole string value of the form $N.path.
var refPattern = regexp.MustCompile(`^\$(\d+)\.([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)$`)

var (
	errForwardReference = errors.New("reference must point to an earlier operation")
	errUnresolved       = errors.New("reference does not resolve")
)

type reference struct {
	step int
	path []string
}

func (r reference) String() string {
	return "$" + strconv.Itoa(r.step) + "." + strings.Join(r.path, ".")
}

// parseReference reports whether v is a reference placeholder.
func parseReference(v any) (reference, bool) {
	s, ok := v.(string)
	if !ok {
		return reference{}, false
	}
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return reference{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return reference{}, false
	}
	return reference{step: n, path: strings.Split(m[2], ".")}, true
}

// resolve looks the reference up in the results of earlier steps. results
// only ever holds completed steps, so a reference to the current or a later
// step cannot resolve.
func (r reference) resolve(current int, results []Result) (any, error) {
	if r.step >= current || r.step >= len(results) {
		return nil, fmt.Errorf("%s: %w", r, errForwardReference)
	}
	res := results[r.step]
	if len(r.path) == 1 && r.path[0] == "id" && res.Data == nil {
		return res.ID, nil
	}
	var cur any = res.Data
	for _, key := range r.path {
		rec, ok := cur.(store.Record)
		if !ok {
			return nil, fmt.Errorf("%s: %w", r, errUnresolved)
		}
		if cur, ok = rec[key]; !ok {
			return nil, fmt.Errorf("%s: %w", r, errUnresolved)
		}
	}
	return cur, nil
}

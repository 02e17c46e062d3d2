// Package expression resolves JMESPath paths and message templates against an
// execution scope.
package expression

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/jmespath/go-jmespath"
)

var placeholder = regexp.MustCompile(`{{\s*([^}]+?)\s*}}`)

// Normalize converts a "$"-rooted path ("$.order.id") into a JMESPath expression.
// Segments that start with "$" are quoted so scope variables like $jobsMapByNodeKey
// stay addressable.
func Normalize(path string) string {
	path = strings.TrimSpace(path)

	switch {
	case path == "" || path == "$":
		return "@"
	case strings.HasPrefix(path, "$."):
		path = path[2:]
	}

	head, rest, found := strings.Cut(path, ".")
	if strings.HasPrefix(head, "$") {
		head = `"` + head + `"`
	}

	if found {
		return head + "." + rest
	}

	return head
}

// Resolve reads path from scope. A path that matches nothing resolves to nil.
func Resolve(scope any, path string) (any, error) {
	result, err := jmespath.Search(Normalize(path), scope)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}

	return result, nil
}

// Evaluate runs a JMESPath expression over a JSON-normalised copy of scope so numeric
// comparisons behave the same whatever Go numeric types the scope holds.
func Evaluate(scope any, expr string) (any, error) {
	normalized, err := normalizeJSON(scope)
	if err != nil {
		return nil, err
	}

	result, err := jmespath.Search(Normalize(expr), normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expr, err)
	}

	return result, nil
}

// Render replaces every {{ path }} placeholder with the resolved value. Unresolvable
// placeholders render as an empty string.
func Render(template string, scope any) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		path := placeholder.FindStringSubmatch(match)[1]

		value, err := Resolve(scope, path)
		if err != nil || value == nil {
			return ""
		}

		switch v := value.(type) {
		case string:
			return v
		case map[string]any, []any:
			encoded, err := json.Marshal(v)
			if err != nil {
				return ""
			}

			return string(encoded)
		default:
			return fmt.Sprint(v)
		}
	})
}

// Truthy follows JMESPath truthiness: false, null, empty strings, empty arrays and
// empty objects are false.
func Truthy(value any) bool {
	if value == nil {
		return false
	}

	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != ""
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	default:
		return true
	}
}

func normalizeJSON(value any) (any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("scope is not serializable: %w", err)
	}

	var normalized any
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return nil, err
	}

	return normalized, nil
}

package rules

import (
	"net/url"
	"strings"
)

// Key derives the cache key for a request target.
//
// Without keyQueries the key is the full target: path, plus "?" and the
// raw query when one is present.
//
// With keyQueries the key is path + "?" + the named parameters joined
// by "&", in the given order. A present parameter contributes
// name=value (first value, query-escaped). An absent parameter
// contributes the bare name with no "=", so "tab" (absent) and "tab="
// (present but empty) never share a key.
//
// Example:
//
//	Key("/chatting", "tab=a&uc=x", []string{"tab"})  // "/chatting?tab=a"
//	Key("/chatting", "uc=x", []string{"tab"})        // "/chatting?tab"
func Key(path, rawQuery string, keyQueries []string) string {
	if len(keyQueries) == 0 {
		if rawQuery == "" {
			return path
		}
		return path + "?" + rawQuery
	}

	query, _ := url.ParseQuery(rawQuery)

	parts := make([]string, 0, len(keyQueries))
	for _, name := range keyQueries {
		values, ok := query[name]
		if !ok {
			parts = append(parts, name)
			continue
		}
		value := ""
		if len(values) > 0 {
			value = values[0]
		}
		parts = append(parts, name+"="+url.QueryEscape(value))
	}

	return path + "?" + strings.Join(parts, "&")
}

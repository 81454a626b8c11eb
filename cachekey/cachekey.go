// Package cachekey derives the canonical string identity of a resource
// instance from its resource type and resolved dependency field values.
//
// The derived key is the sole identity used by the store and the request
// coordinator. It is not the resource's display name: two descriptors
// declared at different call sites that resolve to the same type and field
// values always share one key, and therefore one cached record.
package cachekey

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Source is a single bag of input fields consulted during resolution.
// Sources are consulted in the order given to Derive; the first source
// that contains a field wins.
type Source map[string]any

// FieldsFn maps the query-parameter source to a sub-object of additional
// key fields. It supplements the plain field list for resources whose
// identity is a computed slice of the query input.
type FieldsFn func(query Source) map[string]any

// Stringify renders a resolved field value into its key representation.
// Hosts may override it for complex query values; the default is
// DefaultStringify.
type Stringify func(v any) string

const (
	typeSeparator  = "~"
	tokenSeparator = "_"
)

// Derive resolves each declared field against the sources in precedence
// order, drops empty values, and joins the remaining field=value tokens in
// lexicographic order under the resource type prefix.
//
// The output is byte-identical for any permutation of the field list and
// any ordering of keys inside the sources.
func Derive(resourceType string, fields []string, fieldsFn FieldsFn, sources []Source, stringify Stringify) string {
	if stringify == nil {
		stringify = DefaultStringify
	}

	resolved := make(map[string]any, len(fields))
	for _, field := range fields {
		value, ok := Resolve(field, sources)
		if !ok {
			continue
		}
		resolved[field] = value
	}

	if fieldsFn != nil {
		// The computed sub-object is resolved against the last source,
		// which by convention carries the query parameters.
		var query Source
		if len(sources) > 0 {
			query = sources[len(sources)-1]
		}
		for field, value := range fieldsFn(query) {
			if isEmpty(value) {
				continue
			}
			resolved[field] = value
		}
	}

	tokens := make([]string, 0, len(resolved))
	for field, value := range resolved {
		tokens = append(tokens, field+"="+stringify(value))
	}
	sort.Strings(tokens)

	if len(tokens) == 0 {
		return resourceType
	}
	return resourceType + typeSeparator + strings.Join(tokens, tokenSeparator)
}

// Resolve returns the first non-empty value for field among the sources,
// in order.
func Resolve(field string, sources []Source) (any, bool) {
	for _, source := range sources {
		if source == nil {
			continue
		}
		value, ok := source[field]
		if !ok || isEmpty(value) {
			continue
		}
		return value, true
	}
	return nil, false
}

// DefaultStringify renders scalars with %v and everything else as JSON.
// encoding/json sorts map keys, so composite values are canonical
// regardless of map iteration order.
func DefaultStringify(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case fmt.Stringer:
		return value.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("%v", value)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// TypePrefix returns the key-space prefix owned by a resource type, for
// bulk invalidation by type.
func TypePrefix(resourceType string) string {
	return resourceType + typeSeparator
}

func isEmpty(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case string:
		return value == ""
	case bool:
		return !value
	}

	// Numeric zeros of any width are empty.
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return rv.IsZero()
	}
	return false
}

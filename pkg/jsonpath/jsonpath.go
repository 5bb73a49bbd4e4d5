// Package jsonpath selects values out of a decoded JSON document using
// gojq filter expressions, giving the change-detection layer a
// nested-field-selection primitive.
package jsonpath

import (
	"fmt"

	"github.com/itchyny/gojq"
)

// Selector compiles a gojq query once and evaluates it repeatedly.
type Selector struct {
	path  string
	query *gojq.Query
	code  *gojq.Code
}

// Compile parses a dotted field path such as "fields.Title" or
// "fields.Status.Value" into a reusable Selector. A bare field name with
// no dot is equivalent to ".fieldname".
func Compile(path string) (*Selector, error) {
	expr := toFilterExpr(path)
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse field path %q: %w", path, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile field path %q: %w", path, err)
	}
	return &Selector{path: path, query: query, code: code}, nil
}

// MustCompile is Compile but panics on error, for package-level selectors
// built from literal, known-good paths.
func MustCompile(path string) *Selector {
	s, err := Compile(path)
	if err != nil {
		panic(err)
	}
	return s
}

// Path returns the original dotted path this selector was compiled from.
func (s *Selector) Path() string {
	return s.path
}

// Select evaluates the selector against doc (typically the result of
// json.Unmarshal into map[string]interface{}) and returns the first
// matching value. ok is false when the path resolves to nothing or null.
func (s *Selector) Select(doc interface{}) (value interface{}, ok bool) {
	iter := s.code.Run(doc)
	for {
		v, hasNext := iter.Next()
		if !hasNext {
			return nil, false
		}
		if err, isErr := v.(error); isErr {
			if err != nil {
				return nil, false
			}
			continue
		}
		if v == nil {
			return nil, false
		}
		return v, true
	}
}

// Select is a convenience one-shot form of Compile+Select for callers that
// do not evaluate the same path repeatedly.
func Select(doc interface{}, path string) (interface{}, bool, error) {
	sel, err := Compile(path)
	if err != nil {
		return nil, false, err
	}
	v, ok := sel.Select(doc)
	return v, ok, nil
}

// toFilterExpr turns a dotted field path into a gojq filter expression,
// quoting each segment so field names containing spaces or special
// characters (common in platform field internal names) still resolve.
func toFilterExpr(path string) string {
	if path == "" {
		return "."
	}
	expr := "."
	segment := ""
	flush := func() {
		if segment != "" {
			expr += fmt.Sprintf("[%q]", segment)
			segment = ""
		}
	}
	for _, r := range path {
		if r == '.' {
			flush()
			continue
		}
		segment += string(r)
	}
	flush()
	return expr + "?"
}

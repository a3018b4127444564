package backend

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/italolelis/content_companion/internal/api"
)

// The backend answers the same endpoint family with different envelopes:
// {"data":{"data":{"media":[...]}}}, {"data":{"media":[...]}}, {"data":[...]},
// a bare array, or the object flat at the top level. Each family has one
// normalizer trying an ordered list of extractors; the first match wins.

type extractor[T any] func(raw json.RawMessage) (T, bool)

func normalize[T any](op string, raw json.RawMessage, extractors ...extractor[T]) (T, error) {
	for _, extract := range extractors {
		if v, ok := extract(raw); ok {
			return v, nil
		}
	}

	var zero T

	return zero, &api.ShapeMismatchError{Op: op, Payload: raw}
}

// field returns obj[key] when raw is an object holding a non-null key.
func field(raw json.RawMessage, key string) (json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}

	v, ok := obj[key]
	if !ok || isNull(v) {
		return nil, false
	}

	return v, true
}

// path walks nested object keys.
func path(raw json.RawMessage, keys ...string) (json.RawMessage, bool) {
	cur := raw

	for _, k := range keys {
		next, ok := field(cur, k)
		if !ok {
			return nil, false
		}

		cur = next
	}

	return cur, true
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) > 0 && trimmed[0] == '['
}

// objectAt extracts the object found at keys, decoded into T, if it carries
// at least one of the required keys.
func objectAt[T any](required []string, keys ...string) extractor[T] {
	return func(raw json.RawMessage) (T, bool) {
		var zero T

		obj, ok := path(raw, keys...)
		if !ok || !isObject(obj) {
			return zero, false
		}

		if !hasAny(obj, required) {
			return zero, false
		}

		var v T
		if err := json.Unmarshal(obj, &v); err != nil {
			return zero, false
		}

		return v, true
	}
}

func hasAny(obj json.RawMessage, keys []string) bool {
	for _, k := range keys {
		if _, ok := field(obj, k); ok {
			return true
		}
	}

	return false
}

// listAt extracts an array found at keys (or, when listKeys are given, at any
// of keys+listKey). An empty path means raw itself.
func listAt(listKeys []string, keys ...string) extractor[[]json.RawMessage] {
	return func(raw json.RawMessage) ([]json.RawMessage, bool) {
		base, ok := path(raw, keys...)
		if !ok {
			return nil, false
		}

		candidates := []json.RawMessage{base}

		if len(listKeys) > 0 {
			candidates = candidates[:0]

			for _, lk := range listKeys {
				if v, ok := field(base, lk); ok {
					candidates = append(candidates, v)
				}
			}
		}

		for _, c := range candidates {
			if !isArray(c) {
				continue
			}

			var items []json.RawMessage
			if err := json.Unmarshal(c, &items); err == nil {
				return items, true
			}
		}

		return nil, false
	}
}

// listExtractors is the ordered chain used by every list endpoint.
func listExtractors(listKeys ...string) []extractor[[]json.RawMessage] {
	return []extractor[[]json.RawMessage]{
		listAt(listKeys, "data", "data"),
		listAt(listKeys, "data"),
		listAt(nil, "data"),
		listAt(listKeys),
		listAt(nil),
	}
}

// pagination is read from wherever the envelope keeps it; missing values stay zero.
type pagination struct {
	Page  int
	Limit int
	Total int
}

func readPagination(raw json.RawMessage) pagination {
	var p pagination

	for _, keys := range [][]string{
		{"data", "pagination"},
		{"pagination"},
		{"data", "data", "pagination"},
		{"data"},
		{},
	} {
		obj, ok := path(raw, keys...)
		if !ok || !isObject(obj) {
			continue
		}

		var fields struct {
			Page       flexInt `json:"page"`
			Limit      flexInt `json:"limit"`
			Total      flexInt `json:"total"`
			TotalCount flexInt `json:"totalCount"`
		}

		if err := json.Unmarshal(obj, &fields); err != nil {
			continue
		}

		if p.Page == 0 {
			p.Page = int(fields.Page)
		}

		if p.Limit == 0 {
			p.Limit = int(fields.Limit)
		}

		if p.Total == 0 {
			p.Total = int(fields.Total)
			if p.Total == 0 {
				p.Total = int(fields.TotalCount)
			}
		}
	}

	return p
}

// flexInt decodes numbers sent either as JSON numbers or numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		v, err := n.Float64()
		if err == nil {
			*f = flexInt(v)

			return nil
		}
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	if s == "" {
		return nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}

	*f = flexInt(v)

	return nil
}

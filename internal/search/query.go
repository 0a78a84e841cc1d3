package search

import (
	"errors"
	"fmt"
)

// ErrInvalidQuery is returned for query input that is neither a string nor a list of strings.
var ErrInvalidQuery = errors.New("query must be a string or a list of strings")

// ParseQueries normalizes a decoded query value into a list of query strings.
// A single string becomes a one-element list.
func ParseQueries(v any) ([]string, error) {
	switch q := v.(type) {
	case string:
		return []string{q}, nil
	case []string:
		return q, nil
	case []any:
		out := make([]string, len(q))
		for i, e := range q {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T", ErrInvalidQuery, i, e)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidQuery, v)
	}
}

// firstOccurrence drops repeated ids, keeping each at its first (best) position.
func firstOccurrence(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

package indexing

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSelection parses a NumPy-style selection string such as
// "2:8, 3", "..., [1,4,7]", "None, ::2" or "[true,false,true]".  An empty
// string selects the whole array.
func ParseSelection(s string) (Selection, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Selection{}, nil
	}
	parts, err := splitTopLevel(s)
	if err != nil {
		return nil, err
	}
	sel := make(Selection, 0, len(parts))
	for _, part := range parts {
		ix, err := parseIndexer(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		sel = append(sel, ix)
	}
	return sel, nil
}

func splitTopLevel(s string) ([]string, error) {
	var parts []string
	var depth, begin int
	for i, r := range s {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced brackets in selection %q", s)
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[begin:i])
				begin = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets in selection %q", s)
	}
	return append(parts, s[begin:]), nil
}

func parseIndexer(s string) (Indexer, error) {
	switch {
	case s == "...":
		return Ellipsis{}, nil
	case s == "None" || s == "newaxis":
		return NewAxis{}, nil
	case strings.HasPrefix(s, "["):
		return parseArray(s)
	case strings.Contains(s, ":"):
		return parseSlice(s)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad index %q: %v", s, err)
	}
	return Index(v), nil
}

func parseSlice(s string) (Slice, error) {
	fields := strings.Split(s, ":")
	if len(fields) > 3 {
		return Slice{}, fmt.Errorf("bad slice %q", s)
	}
	var vals [3]*int64
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return Slice{}, fmt.Errorf("bad slice %q: %v", s, err)
		}
		vals[i] = Int(v)
	}
	return Slice{Start: vals[0], Stop: vals[1], Step: vals[2]}, nil
}

func parseArray(s string) (Indexer, error) {
	if !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("bad array index %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return IntArray{}, nil
	}
	elems := strings.Split(body, ",")
	first := strings.TrimSpace(elems[0])
	if first == "true" || first == "false" {
		mask := make(BoolMask, len(elems))
		for i, e := range elems {
			b, err := strconv.ParseBool(strings.TrimSpace(e))
			if err != nil {
				return nil, fmt.Errorf("bad mask element %q: %v", e, err)
			}
			mask[i] = b
		}
		return mask, nil
	}
	arr := make(IntArray, len(elems))
	for i, e := range elems {
		v, err := strconv.ParseInt(strings.TrimSpace(e), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad array element %q: %v", e, err)
		}
		arr[i] = v
	}
	return arr, nil
}

package query

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// ParseDirection accepts asc/desc in any case.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(Asc):
		return Asc, true
	case string(Desc):
		return Desc, true
	}
	return "", false
}

// SortField is one flat "dotted.path direction" pair.
type SortField struct {
	Path      string
	Direction Direction
}

// SortNode is a leaf (Direction set) or a branch (Children set).
type SortNode struct {
	Key       string
	Direction Direction
	Children  Sort
}

func (n SortNode) isBranch() bool {
	return len(n.Children) > 0
}

// Sort is an ordered sort tree. Order matters, so it is a slice rather than a map.
type Sort []SortNode

func (s Sort) index(key string) int {
	for i, n := range s {
		if n.Key == key {
			return i
		}
	}
	return -1
}

// Flatten returns the leaves in order with their full dotted paths.
func (s Sort) Flatten() []SortField {
	var out []SortField
	s.flatten("", &out)
	return out
}

func (s Sort) flatten(prefix string, out *[]SortField) {
	for _, n := range s {
		path := joinPath(prefix, n.Key)
		if n.isBranch() {
			n.Children.flatten(path, out)
			continue
		}
		*out = append(*out, SortField{Path: path, Direction: n.Direction})
	}
}

// MarshalJSON renders the tree as a nested object, keeping key order.
func (s Sort) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val []byte
		if n.isBranch() {
			val, err = n.Children.MarshalJSON()
		} else {
			val, err = json.Marshal(n.Direction)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s Sort) clone() Sort {
	if s == nil {
		return nil
	}
	out := make(Sort, len(s))
	for i, n := range s {
		out[i] = SortNode{Key: n.Key, Direction: n.Direction, Children: n.Children.clone()}
	}
	return out
}

// UnflattenSort builds a sort tree from dotted paths, keeping their order.
// A path that collides with an earlier one (leaf against branch) is ignored.
func UnflattenSort(fields []SortField) Sort {
	var out Sort
	for _, f := range fields {
		if f.Path == "" {
			continue
		}
		out = insertSort(out, strings.Split(f.Path, "."), f.Direction)
	}
	return out
}

func insertSort(tree Sort, parts []string, dir Direction) Sort {
	key := parts[0]
	i := tree.index(key)

	if len(parts) == 1 {
		switch {
		case i < 0:
			return append(tree, SortNode{Key: key, Direction: dir})
		case !tree[i].isBranch():
			tree[i].Direction = dir
		}
		return tree
	}

	if i < 0 {
		return append(tree, SortNode{Key: key, Children: insertSort(nil, parts[1:], dir)})
	}
	if tree[i].isBranch() {
		tree[i].Children = insertSort(tree[i].Children, parts[1:], dir)
	}
	return tree
}

// SanitizeSort keeps only leaves whose full dotted path is in sortable and whose
// direction is valid. Branches survive only when some descendant does.
func SanitizeSort(tree Sort, sortable []string) Sort {
	allowed := make(map[string]struct{}, len(sortable))
	for _, path := range sortable {
		allowed[path] = struct{}{}
	}
	return sanitizeSort(tree, "", allowed)
}

func sanitizeSort(tree Sort, prefix string, allowed map[string]struct{}) Sort {
	var out Sort
	for _, n := range tree {
		path := joinPath(prefix, n.Key)

		if n.isBranch() {
			if children := sanitizeSort(n.Children, path, allowed); len(children) > 0 {
				out = append(out, SortNode{Key: n.Key, Children: children})
			}
			continue
		}

		if _, ok := allowed[path]; !ok {
			continue
		}
		if _, ok := ParseDirection(string(n.Direction)); !ok {
			continue
		}
		out = append(out, SortNode{Key: n.Key, Direction: n.Direction})
	}
	return out
}

// MergeSorts overlays client on base. Base order is kept; an overridden key
// stays in its base position and new client keys are appended in client order.
func MergeSorts(base, client Sort) Sort {
	out := base.clone()
	for _, c := range client {
		i := out.index(c.Key)
		switch {
		case i < 0:
			out = append(out, SortNode{Key: c.Key, Direction: c.Direction, Children: c.Children.clone()})
		case out[i].isBranch() && c.isBranch():
			out[i].Children = MergeSorts(out[i].Children, c.Children)
		default:
			out[i] = SortNode{Key: c.Key, Direction: c.Direction, Children: c.Children.clone()}
		}
	}
	return out
}

// By builds a one-level sort, handy for base orderings.
func By(fields ...SortField) Sort {
	return UnflattenSort(fields)
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

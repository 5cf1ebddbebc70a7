package fetch

import (
	"github.com/fenilsonani/imapwatch/internal/session"
	"github.com/fenilsonani/imapwatch/internal/wire"
)

// LeafPaths enumerates every leaf part's dotted-index path in a
// BodyStructure tree, in left-to-right traversal order: a onepart at
// the root is "[1]"; a multipart expands each child under its own
// 1-based index (spec.md §4.4 stage 3, §9 "Body tree vs content pairs").
func LeafPaths(bs wire.BodyStructure) [][]int {
	return leafPaths(bs, nil)
}

func leafPaths(bs wire.BodyStructure, prefix []int) [][]int {
	switch v := bs.(type) {
	case wire.Onepart:
		if len(prefix) == 0 {
			return [][]int{{1}}
		}
		path := make([]int, len(prefix))
		copy(path, prefix)
		return [][]int{path}
	case wire.Multipart:
		var out [][]int
		for i, child := range v.Children {
			childPrefix := append(append([]int{}, prefix...), i+1)
			out = append(out, leafPaths(child, childPrefix)...)
		}
		return out
	default:
		return nil
	}
}

// BuildTree folds the flat (path, bytes) list collected during stage 3
// into a BodyContentTree mirroring bs's shape, decoding each leaf's
// bytes per its declared transfer encoding. Parts not found in the
// collected list decode to an empty payload rather than failing the
// whole assembly.
func BuildTree(bs wire.BodyStructure, parts []session.BodyContent) session.BodyContentTree {
	return buildTree(bs, nil, parts)
}

func buildTree(bs wire.BodyStructure, prefix []int, parts []session.BodyContent) session.BodyContentTree {
	switch v := bs.(type) {
	case wire.Onepart:
		path := prefix
		if len(path) == 0 {
			path = []int{1}
		}
		raw := findContent(parts, path)
		return session.BodyLeaf{
			MimeType: v.MimeType,
			Params:   v.Params,
			Content:  Decode(v.Encoding, raw),
		}
	case wire.Multipart:
		children := make([]session.BodyContentTree, 0, len(v.Children))
		for i, child := range v.Children {
			childPrefix := append(append([]int{}, prefix...), i+1)
			children = append(children, buildTree(child, childPrefix, parts))
		}
		return session.BodyBranch{Subtype: v.Subtype, Children: children}
	default:
		return nil
	}
}

func findContent(parts []session.BodyContent, path []int) []byte {
	for _, p := range parts {
		if pathsEqual(p.Path, path) {
			return p.Content
		}
	}
	return nil
}

func pathsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

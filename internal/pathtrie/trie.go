// Package pathtrie indexes Go module paths by "/"-separated segment so an
// import path can be matched against the modules required by a go.mod in
// O(segments).
package pathtrie

import (
	"sort"
	"strings"
)

// PathTrie is a segment trie of module paths.
type PathTrie struct {
	children map[string]*PathTrie
	terminal bool
}

// New creates an empty trie.
func New() *PathTrie {
	return &PathTrie{children: make(map[string]*PathTrie)}
}

// Put inserts a module path.
func (t *PathTrie) Put(modulePath string) {
	modulePath = strings.Trim(modulePath, "/")
	if modulePath == "" {
		return
	}
	curr := t
	for rest := modulePath; rest != ""; {
		var seg string
		seg, rest, _ = strings.Cut(rest, "/")
		child := curr.children[seg]
		if child == nil {
			if curr.children == nil {
				curr.children = make(map[string]*PathTrie)
			}
			child = &PathTrie{}
			curr.children[seg] = child
		}
		curr = child
	}
	curr.terminal = true
}

// Covers reports whether importPath is an inserted module path or a package
// inside one. With "github.com/a/b" inserted:
//   - "github.com/a/b"     true
//   - "github.com/a/b/baz" true, a package of that module
//   - "github.com/a"       false, only a prefix of a module
//   - "github.com/a/bc"    false, segments must match whole
func (t *PathTrie) Covers(importPath string) bool {
	curr := t
	for rest := strings.Trim(importPath, "/"); rest != ""; {
		var seg string
		seg, rest, _ = strings.Cut(rest, "/")
		child := curr.children[seg]
		if child == nil {
			return false
		}
		if child.terminal {
			return true
		}
		curr = child
	}
	return false
}

// Len returns the number of inserted module paths.
func (t *PathTrie) Len() int {
	n := 0
	if t.terminal {
		n++
	}
	for _, child := range t.children {
		n += child.Len()
	}
	return n
}

// String returns a tree dump of the trie, one segment per line.
func (t *PathTrie) String() string {
	var sb strings.Builder
	drawNode(&sb, t, "", true, "(root)")
	return sb.String()
}

func drawNode(sb *strings.Builder, node *PathTrie, prefix string, isLast bool, seg string) {
	sb.WriteString(prefix)
	if isLast {
		sb.WriteString("└── ")
	} else {
		sb.WriteString("├── ")
	}
	sb.WriteString(seg)
	if node.terminal {
		sb.WriteString(" *")
	}
	sb.WriteString("\n")

	keys := make([]string, 0, len(node.children))
	for k := range node.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	childPrefix := prefix + "│   "
	if isLast {
		childPrefix = prefix + "    "
	}
	for i, k := range keys {
		drawNode(sb, node.children[k], childPrefix, i == len(keys)-1, k)
	}
}

package files

import (
	"fmt"
	"strings"
)

// NodeType discriminates tree nodes.
type NodeType string

const (
	NodeFile      NodeType = "file"
	NodeDirectory NodeType = "directory"
)

// File is the content of a file leaf. Binary files carry no content.
type File struct {
	Content  string `json:"content"`
	IsBinary bool   `json:"isBinary"`
}

// Node is a file or a directory in the mirrored tree.
type Node struct {
	Type     NodeType         `json:"type"`
	Content  string           `json:"content,omitempty"`
	IsBinary bool             `json:"isBinary,omitempty"`
	Children map[string]*Node `json:"children,omitempty"`
}

func newDir() *Node {
	return &Node{Type: NodeDirectory, Children: make(map[string]*Node)}
}

func (n *Node) clone() *Node {
	out := &Node{Type: n.Type, Content: n.Content, IsBinary: n.IsBinary}
	if n.Type == NodeDirectory {
		out.Children = make(map[string]*Node, len(n.Children))
		for name, child := range n.Children {
			out.Children[name] = child.clone()
		}
	}
	return out
}

func countNodes(children map[string]*Node) int {
	total := 0
	for _, child := range children {
		total++
		if child.Type == NodeDirectory {
			total += countNodes(child.Children)
		}
	}
	return total
}

func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	parts := raw[:0]
	for _, p := range raw {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	return parts
}

// tree is the mutable mirror. Callers hold the store lock.
type tree struct {
	root map[string]*Node
}

func newTree() *tree {
	return &tree{root: make(map[string]*Node)}
}

func (t *tree) get(path string) (File, bool) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return File{}, false
	}
	current := t.root
	for i, part := range parts {
		entry, ok := current[part]
		if !ok {
			return File{}, false
		}
		if i == len(parts)-1 {
			if entry.Type != NodeFile {
				return File{}, false
			}
			return File{Content: entry.Content, IsBinary: entry.IsBinary}, true
		}
		if entry.Type != NodeDirectory {
			return File{}, false
		}
		current = entry.Children
	}
	return File{}, false
}

// ensureDir creates every directory on path and returns its children map.
func (t *tree) ensureDir(parts []string) (map[string]*Node, error) {
	current := t.root
	for i, part := range parts {
		entry, ok := current[part]
		if !ok {
			entry = newDir()
			current[part] = entry
		}
		if entry.Type != NodeDirectory {
			return nil, fmt.Errorf("cannot create %q because %q is not a directory", strings.Join(parts, "/"), strings.Join(parts[:i+1], "/"))
		}
		current = entry.Children
	}
	return current, nil
}

func (t *tree) upsert(path string, f File) error {
	parts := splitPath(path)
	if len(parts) == 0 {
		return fmt.Errorf("empty path")
	}
	parent, err := t.ensureDir(parts[:len(parts)-1])
	if err != nil {
		return err
	}
	parent[parts[len(parts)-1]] = &Node{Type: NodeFile, Content: f.Content, IsBinary: f.IsBinary}
	return nil
}

// remove deletes the node at path and prunes ancestors left empty, stopping below the root.
func (t *tree) remove(path string) bool {
	parts := splitPath(path)
	if len(parts) == 0 {
		return false
	}

	chain := []map[string]*Node{t.root}
	current := t.root
	for _, part := range parts[:len(parts)-1] {
		entry, ok := current[part]
		if !ok || entry.Type != NodeDirectory {
			return false
		}
		current = entry.Children
		chain = append(chain, current)
	}

	name := parts[len(parts)-1]
	if _, ok := current[name]; !ok {
		return false
	}
	delete(current, name)

	for i := len(chain) - 1; i > 0; i-- {
		if len(chain[i]) > 0 {
			break
		}
		delete(chain[i-1], parts[i-1])
	}
	return true
}

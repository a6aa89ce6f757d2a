// Package tree provides an in-memory [dirfs.Node] tree built from a
// directory on a go-billy filesystem.
package tree

import (
	"path"
	"strings"

	"github.com/brettbedarf/dirfs"
	"github.com/puzpuzpuz/xsync/v4"
)

// Node is a file or directory in the tree. The tree is immutable once
// returned by [Factory.CreateFromDirectory], so it is safe to share between
// goroutines without locking.
type Node struct {
	name     string                    // Last element of path
	path     string                    // Absolute, slash separated
	isDir    bool
	parent   *Node                     // nil for the tree root
	children []*Node                   // Ordered by name
	byName   *xsync.Map[string, *Node] // Child index by name
}

var _ dirfs.Node = (*Node)(nil)

// NewNode creates a detached node. Use [Node.AddChild] to link it into a tree.
func NewNode(name, absPath string, isDir bool) *Node {
	n := &Node{
		name:  name,
		path:  absPath,
		isDir: isDir,
	}
	if isDir {
		n.byName = xsync.NewMap[string, *Node]()
	}
	return n
}

// Name returns the node's name (last part of the path)
func (n *Node) Name() string {
	return n.name
}

// Path returns the node's absolute path
func (n *Node) Path() string {
	return n.path
}

func (n *Node) IsDir() bool {
	return n.isDir
}

// Parent returns the parent node or nil for the root
func (n *Node) Parent() *Node {
	return n.parent
}

// Children returns the children in name order
func (n *Node) Children() []dirfs.Node {
	out := make([]dirfs.Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// ChildNodes is [Node.Children] without the interface conversion
func (n *Node) ChildNodes() []*Node {
	return append([]*Node(nil), n.children...)
}

// GetChild returns a direct child by name
func (n *Node) GetChild(name string) (*Node, bool) {
	if n.byName == nil {
		return nil, false
	}
	return n.byName.Load(name)
}

// AddChild appends child and sets its parent to n.
// Must not be called once the tree is shared.
func (n *Node) AddChild(child *Node) {
	if n.byName == nil {
		n.byName = xsync.NewMap[string, *Node]()
	}
	child.parent = n
	n.children = append(n.children, child)
	n.byName.Store(child.name, child)
}

// Root walks up to the root of the tree
func (n *Node) Root() *Node {
	cur := n
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// GetRelative resolves a slash separated path against n.
// Empty and "." elements are skipped and ".." moves to the parent, stopping
// at the root. A leading "/" resolves from the root of the tree.
func (n *Node) GetRelative(p string) (dirfs.Node, bool) {
	found, ok := n.Resolve(p)
	if !ok {
		return nil, false
	}
	return found, true
}

// Resolve is [Node.GetRelative] returning the concrete node
func (n *Node) Resolve(p string) (*Node, bool) {
	cur := n
	if path.IsAbs(p) {
		cur = n.Root()
	}
	for _, elem := range strings.Split(p, "/") {
		switch elem {
		case "", ".":
			continue
		case "..":
			if cur.parent != nil {
				cur = cur.parent
			}
		default:
			child, ok := cur.GetChild(elem)
			if !ok {
				return nil, false
			}
			cur = child
		}
	}
	return cur, true
}

// Walk calls fn for n and every descendant in depth first name order.
// Returning false from fn skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}

package dirfs

// Node is an entry (file or directory) in the tree exposed by a [FileSystem].
//
// Implementations must be comparable and identity stable: the same entry
// must always be represented by the same value (typically a pointer) since
// handles are keyed by node identity. Nodes are treated as read-only.
type Node interface {
	// Name returns the last element of the node's path.
	Name() string

	// Path returns the absolute path of the node.
	Path() string

	// Children returns the node's children in a stable order. Files have no
	// children.
	Children() []Node

	// GetRelative resolves path against this node. It returns false if
	// nothing exists at that path.
	GetRelative(path string) (Node, bool)
}

// NodeFactory builds a [Node] tree from a directory.
type NodeFactory interface {
	CreateFromDirectory(path string) (Node, error)
}

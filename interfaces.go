package dirfs

import (
	"fmt"
	"io/fs"
)

// Handle is an opaque reference to a [Node] handed out by a [FileSystem].
// Callers may only pass it back into the FileSystem that produced it, or
// store and compare it. Handles from another implementation or from another
// FileSystem instance are rejected with InvalidHandle.
type Handle interface {
	fmt.Stringer
}

// FileSystem exposes a node tree through reference-counted handles.
// All methods are safe for concurrent use.
//
// A handle is recognized only by the FileSystem that allocated it. Passing
// a handle from another instance, even of the same implementation, yields
// InvalidHandle and FreeHandle ignores it.
type FileSystem interface {
	// AllocateRootHandle returns a handle for the tree's root node.
	AllocateRootHandle() Handle

	// AllocateChildrenHandles returns one handle per child of h's node in the
	// node's child order.
	AllocateChildrenHandles(h Handle) ([]Handle, IoResult)

	// AllocateRelativeHandleFromPath returns a handle for the node reached by
	// resolving relativePath against h's node.
	AllocateRelativeHandleFromPath(h Handle, relativePath string) (Handle, IoResult)

	// ReadAllBytes reads the whole file referenced by h. Native I/O failures
	// other than a missing path or a directory are returned as err and are
	// not classified as an IoResult.
	ReadAllBytes(h Handle) (data []byte, res IoResult, err error)

	// FreeHandle drops one reference to h. Unrecognized handles are ignored.
	FreeHandle(h Handle)

	// FreeHandles calls FreeHandle for each handle in order.
	FreeHandles(handles []Handle)

	// GetName returns the name of h's node.
	GetName(h Handle) (string, IoResult)

	// GetPath returns the absolute path of h's node.
	GetPath(h Handle) (string, IoResult)
}

// Stater is implemented by filesystems that can describe the file behind a
// handle without reading it.
type Stater interface {
	// Stat returns native file info for h's node path. Errors follow the
	// same rules as ReadAllBytes.
	Stat(h Handle) (info fs.FileInfo, res IoResult, err error)
}

// FileSystemFactory creates a [FileSystem] rooted at a directory.
type FileSystemFactory interface {
	CreateFromDirectory(path string) (FileSystem, error)
}

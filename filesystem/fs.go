// Package filesystem implements [dirfs.FileSystem] on top of a node tree and
// a handle table.
package filesystem

import (
	"errors"
	"io/fs"

	"github.com/brettbedarf/dirfs"
	"github.com/brettbedarf/dirfs/internal/handles"
	"github.com/brettbedarf/dirfs/internal/util"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	billyutil "github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DirectoryFileSystem exposes the tree below a root node through handles.
// It has no global lock: handle identity and counting are delegated to
// the handle table and node objects are only read.
type DirectoryFileSystem struct {
	id      uuid.UUID        // Session ID for log correlation
	root    dirfs.Node       // Root of the node tree
	table   *handles.Table   // One handle per node ever requested
	storage billy.Filesystem // Native file access for ReadAllBytes
	strict  bool             // Reject dead handles in every operation
	logger  zerolog.Logger
}

var (
	_ dirfs.FileSystem = (*DirectoryFileSystem)(nil)
	_ dirfs.Stater     = (*DirectoryFileSystem)(nil)
)

// Option configures a [DirectoryFileSystem]
type Option func(*options)

type options struct {
	storage      billy.Filesystem
	strict       bool
	countFromOne bool
	logger       *zerolog.Logger
}

// WithStorage sets the filesystem used to stat and read node paths.
// Defaults to the local filesystem.
func WithStorage(fsys billy.Filesystem) Option {
	return func(o *options) { o.storage = fsys }
}

// WithStrictValidation makes AllocateChildrenHandles and ReadAllBytes reject
// invalidated or disposed handles like the other operations do.
func WithStrictValidation(enabled bool) Option {
	return func(o *options) { o.strict = enabled }
}

// WithCountFromOne starts new handles at a reference count of one.
// See [handles.WithCountFromOne].
func WithCountFromOne(enabled bool) Option {
	return func(o *options) { o.countFromOne = enabled }
}

// WithLogger overrides the component logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// New creates a DirectoryFileSystem rooted at root
func New(root dirfs.Node, opts ...Option) *DirectoryFileSystem {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.storage == nil {
		o.storage = osfs.New("/")
	}
	logger := util.GetLogger("DirectoryFileSystem")
	if o.logger != nil {
		logger = *o.logger
	}

	id := uuid.New()
	fsys := &DirectoryFileSystem{
		id:      id,
		root:    root,
		table:   handles.NewTable(handles.WithCountFromOne(o.countFromOne)),
		storage: o.storage,
		strict:  o.strict,
		logger:  logger.With().Str("fs", id.String()).Logger(),
	}
	fsys.logger.Debug().Str("root", root.Path()).Bool("strict", o.strict).
		Bool("countFromOne", o.countFromOne).Msg("Created filesystem")
	return fsys
}

// ID returns the session ID of this filesystem
func (fsys *DirectoryFileSystem) ID() uuid.UUID {
	return fsys.id
}

// Root returns the root node
func (fsys *DirectoryFileSystem) Root() dirfs.Node {
	return fsys.root
}

// AllocateRootHandle returns the handle for the root node
func (fsys *DirectoryFileSystem) AllocateRootHandle() dirfs.Handle {
	return fsys.table.GetOrCreate(fsys.root)
}

// AllocateChildrenHandles returns a handle for each child of h's node in the
// node's child order. Only recognizability is checked unless strict
// validation is enabled.
func (fsys *DirectoryFileSystem) AllocateChildrenHandles(h dirfs.Handle) ([]dirfs.Handle, dirfs.IoResult) {
	logger := fsys.opLogger("AllocateChildrenHandles")

	ih, ok := fsys.recognize(h)
	if !ok || (fsys.strict && !ih.IsLive()) {
		logger.Debug().Stringer("handle", h).Msg("Rejected handle")
		return nil, dirfs.InvalidHandle
	}

	children := ih.Node().Children()
	out := make([]dirfs.Handle, len(children))
	for i, child := range children {
		out[i] = fsys.table.GetOrCreate(child)
	}
	logger.Trace().Str("path", ih.Node().Path()).Int("children", len(out)).Msg("Allocated children")
	return out, dirfs.Success
}

// AllocateRelativeHandleFromPath resolves relativePath against h's node and
// returns a handle for the result. Resolution rules belong to the node.
func (fsys *DirectoryFileSystem) AllocateRelativeHandleFromPath(h dirfs.Handle, relativePath string) (dirfs.Handle, dirfs.IoResult) {
	logger := fsys.opLogger("AllocateRelativeHandleFromPath")

	ih, ok := fsys.live(h)
	if !ok {
		logger.Debug().Stringer("handle", h).Msg("Rejected handle")
		return nil, dirfs.InvalidHandle
	}

	found, ok := ih.Node().GetRelative(relativePath)
	if !ok || found == nil {
		logger.Debug().Str("base", ih.Node().Path()).Str("path", relativePath).Msg("No node found")
		return nil, dirfs.NotFound
	}
	return fsys.table.GetOrCreate(found), dirfs.Success
}

// ReadAllBytes returns the whole content of the file at h's node path.
// Only recognizability is checked unless strict validation is enabled.
// Failures other than a missing path or a directory are returned as err
// and not classified; res is then meaningless.
func (fsys *DirectoryFileSystem) ReadAllBytes(h dirfs.Handle) ([]byte, dirfs.IoResult, error) {
	logger := fsys.opLogger("ReadAllBytes")

	ih, ok := fsys.recognize(h)
	if !ok || (fsys.strict && !ih.IsLive()) {
		logger.Debug().Stringer("handle", h).Msg("Rejected handle")
		return nil, dirfs.InvalidHandle, nil
	}

	p := ih.Node().Path()
	info, err := fsys.storage.Stat(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Debug().Str("path", p).Msg("File does not exist")
		return nil, dirfs.NotFound, nil
	case err != nil:
		return nil, dirfs.Success, err
	case info.IsDir():
		logger.Debug().Str("path", p).Msg("Cannot read a directory")
		return nil, dirfs.InvalidOperation, nil
	}

	data, err := billyutil.ReadFile(fsys.storage, p)
	if err != nil {
		return nil, dirfs.Success, err
	}
	logger.Trace().Str("path", p).Int("bytes", len(data)).Msg("Read file")
	return data, dirfs.Success, nil
}

// Stat returns the native file info of h's node path. Invalidated and
// disposed handles are rejected.
func (fsys *DirectoryFileSystem) Stat(h dirfs.Handle) (fs.FileInfo, dirfs.IoResult, error) {
	ih, ok := fsys.live(h)
	if !ok {
		return nil, dirfs.InvalidHandle, nil
	}
	info, err := fsys.storage.Stat(ih.Node().Path())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, dirfs.NotFound, nil
	case err != nil:
		return nil, dirfs.Success, err
	}
	return info, dirfs.Success, nil
}

// FreeHandle drops one reference to h. Unrecognized handles are ignored.
func (fsys *DirectoryFileSystem) FreeHandle(h dirfs.Handle) {
	ih, ok := fsys.recognize(h)
	if !ok {
		return
	}
	if fsys.table.Release(ih) {
		fsys.opLogger("FreeHandle").Trace().Str("path", ih.Node().Path()).Msg("Handle invalidated")
	}
}

// FreeHandles frees each handle in order
func (fsys *DirectoryFileSystem) FreeHandles(hs []dirfs.Handle) {
	for _, h := range hs {
		fsys.FreeHandle(h)
	}
}

// GetName returns the name of h's node
func (fsys *DirectoryFileSystem) GetName(h dirfs.Handle) (string, dirfs.IoResult) {
	ih, ok := fsys.live(h)
	if !ok {
		return "", dirfs.InvalidHandle
	}
	return ih.Node().Name(), dirfs.Success
}

// GetPath returns the absolute path of h's node
func (fsys *DirectoryFileSystem) GetPath(h dirfs.Handle) (string, dirfs.IoResult) {
	ih, ok := fsys.live(h)
	if !ok {
		return "", dirfs.InvalidHandle
	}
	return ih.Node().Path(), dirfs.Success
}

// HandleCount returns the number of distinct handles ever allocated
func (fsys *DirectoryFileSystem) HandleCount() int {
	return fsys.table.Len()
}

// recognize unwraps h if this filesystem produced it. Handles from another
// DirectoryFileSystem are not recognized either.
func (fsys *DirectoryFileSystem) recognize(h dirfs.Handle) (*handles.Handle, bool) {
	ih, ok := h.(*handles.Handle)
	if !ok || ih == nil {
		return nil, false
	}
	if owned, ok := fsys.table.Lookup(ih.Node()); !ok || owned != ih {
		return nil, false
	}
	return ih, true
}

// live is recognize plus a check that h is neither invalidated nor disposed
func (fsys *DirectoryFileSystem) live(h dirfs.Handle) (*handles.Handle, bool) {
	ih, ok := fsys.recognize(h)
	if !ok || !ih.IsLive() {
		return nil, false
	}
	return ih, true
}

func (fsys *DirectoryFileSystem) opLogger(op string) zerolog.Logger {
	return fsys.logger.With().Str("op", op).Logger()
}

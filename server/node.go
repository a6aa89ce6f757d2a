package server

import (
	"context"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brettbedarf/dirfs"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

const (
	dirMode  = syscall.S_IFDIR | 0o555
	fileMode = syscall.S_IFREG | 0o444
)

// handleNode is a FUSE inode owning one reference to a handle on top of the
// server's pin. The reference is dropped when the kernel forgets the inode.
type handleNode struct {
	gofuse.Inode
	srv      *Server
	handle   dirfs.Handle
	released atomic.Bool
}

var (
	_ gofuse.InodeEmbedder   = (*handleNode)(nil)
	_ gofuse.NodeLookuper    = (*handleNode)(nil)
	_ gofuse.NodeReaddirer   = (*handleNode)(nil)
	_ gofuse.NodeGetattrer   = (*handleNode)(nil)
	_ gofuse.NodeSetattrer   = (*handleNode)(nil)
	_ gofuse.NodeOpener      = (*handleNode)(nil)
	_ gofuse.NodeCreater     = (*handleNode)(nil)
	_ gofuse.NodeMkdirer     = (*handleNode)(nil)
	_ gofuse.NodeUnlinker    = (*handleNode)(nil)
	_ gofuse.NodeRmdirer     = (*handleNode)(nil)
	_ gofuse.NodeRenamer     = (*handleNode)(nil)
	_ gofuse.NodeOnForgetter = (*handleNode)(nil)
)

func (n *handleNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	h, a, errno := n.lookupChild(name)
	if errno != 0 {
		return nil, errno
	}
	a.fill(&out.Attr)

	child := &handleNode{srv: n.srv, handle: h}
	return n.NewInode(ctx, child, gofuse.StableAttr{Mode: a.mode() & syscall.S_IFMT}), 0
}

// lookupChild allocates and pins the handle for name. The returned
// reference belongs to the caller.
func (n *handleNode) lookupChild(name string) (dirfs.Handle, nodeAttr, syscall.Errno) {
	fsys := n.srv.fsys
	h, res := fsys.AllocateRelativeHandleFromPath(n.handle, name)
	if res != dirfs.Success {
		return nil, nodeAttr{}, toErrno(res, nil)
	}
	n.srv.pin(h, n.childAllocator(name))

	a, errno := statHandle(fsys, h)
	if errno != 0 {
		fsys.FreeHandle(h)
		return nil, nodeAttr{}, errno
	}
	return h, a, 0
}

func (n *handleNode) childAllocator(name string) func() (dirfs.Handle, dirfs.IoResult) {
	return func() (dirfs.Handle, dirfs.IoResult) {
		return n.srv.fsys.AllocateRelativeHandleFromPath(n.handle, name)
	}
}

// Readdir frees only the references it allocated. Children are pinned
// first so those frees never reach zero.
func (n *handleNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	fsys := n.srv.fsys
	children, res := fsys.AllocateChildrenHandles(n.handle)
	if res != dirfs.Success {
		return nil, toErrno(res, nil)
	}
	defer fsys.FreeHandles(children)

	entries := make([]fuse.DirEntry, 0, len(children))
	for _, h := range children {
		name, res := fsys.GetName(h)
		if res != dirfs.Success {
			continue
		}
		n.srv.pin(h, n.childAllocator(name))

		a, errno := statHandle(fsys, h)
		if errno != 0 {
			n.srv.logger.Debug().Str("name", name).Int("errno", int(errno)).Msg("Skipping unreadable entry")
			continue
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: a.mode()})
	}
	return gofuse.NewListDirStream(entries), 0
}

func (n *handleNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	a, errno := statHandle(n.srv.fsys, n.handle)
	if errno != 0 {
		return errno
	}
	a.fill(&out.Attr)
	return 0
}

func (n *handleNode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

func (n *handleNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		return nil, 0, syscall.EROFS
	}
	data, res, err := n.srv.fsys.ReadAllBytes(n.handle)
	if err != nil {
		n.srv.logger.Error().Err(err).Stringer("handle", n.handle).Msg("Failed to read file")
		return nil, 0, toErrno(res, err)
	}
	if res != dirfs.Success {
		return nil, 0, toErrno(res, nil)
	}
	return &fileHandle{data: data}, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *handleNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}

func (n *handleNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (n *handleNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (n *handleNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (n *handleNode) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.EROFS
}

func (n *handleNode) OnForget() {
	n.release()
}

// release frees the owned handle at most once
func (n *handleNode) release() {
	if n.released.CompareAndSwap(false, true) {
		n.srv.fsys.FreeHandle(n.handle)
	}
}

// fileHandle serves reads from content loaded at open
type fileHandle struct {
	data []byte
}

var _ gofuse.FileReader = (*fileHandle)(nil)

func (f *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off < 0 {
		return nil, syscall.EINVAL
	}
	if off >= int64(len(f.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := min(off+int64(len(dest)), int64(len(f.data)))
	return fuse.ReadResultData(f.data[off:end]), 0
}

// nodeAttr is what the kernel is told about a handle's file
type nodeAttr struct {
	dir   bool
	size  uint64
	mtime time.Time
}

func (a nodeAttr) mode() uint32 {
	if a.dir {
		return dirMode
	}
	return fileMode
}

func (a nodeAttr) fill(out *fuse.Attr) {
	out.Mode = a.mode()
	if !a.dir {
		out.Size = a.size
		out.Blocks = (a.size + 511) / 512
	}
	if !a.mtime.IsZero() {
		out.SetTimes(nil, &a.mtime, nil)
	}
}

// statHandle describes h using [dirfs.Stater] when fsys provides it and
// falls back to reading the file otherwise
func statHandle(fsys dirfs.FileSystem, h dirfs.Handle) (nodeAttr, syscall.Errno) {
	if st, ok := fsys.(dirfs.Stater); ok {
		info, res, err := st.Stat(h)
		if err != nil || res != dirfs.Success {
			return nodeAttr{}, toErrno(res, err)
		}
		return nodeAttr{dir: info.IsDir(), size: uint64(info.Size()), mtime: info.ModTime()}, 0
	}

	data, res, err := fsys.ReadAllBytes(h)
	switch {
	case err != nil:
		return nodeAttr{}, toErrno(res, err)
	case res == dirfs.InvalidOperation:
		return nodeAttr{dir: true}, 0
	case res != dirfs.Success:
		return nodeAttr{}, toErrno(res, nil)
	}
	return nodeAttr{size: uint64(len(data))}, 0
}

// toErrno maps a facade result to an errno. Native errors win over res.
func toErrno(res dirfs.IoResult, err error) syscall.Errno {
	if err != nil {
		return gofuse.ToErrno(err)
	}
	switch res {
	case dirfs.Success:
		return 0
	case dirfs.NotFound:
		return syscall.ENOENT
	case dirfs.InvalidHandle:
		return syscall.ESTALE
	case dirfs.InvalidOperation:
		return syscall.EISDIR
	default:
		return syscall.EIO
	}
}

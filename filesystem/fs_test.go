package filesystem

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/brettbedarf/dirfs"
	"github.com/brettbedarf/dirfs/internal/handles"
	"github.com/brettbedarf/dirfs/internal/mocks"
	"github.com/brettbedarf/dirfs/tree"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// foreignHandle is a dirfs.Handle this package never produced
type foreignHandle struct{}

func (foreignHandle) String() string { return "foreign" }

// newTestStorage creates an in-memory /a containing b.txt = [1,2,3] and an
// empty directory sub
func newTestStorage(t *testing.T) billy.Filesystem {
	t.Helper()
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "/a/b.txt", []byte{1, 2, 3}, 0o644))
	require.NoError(t, fsys.MkdirAll("/a/sub", 0o755))
	return fsys
}

// createTestFS builds the tree of newTestStorage and wraps it
func createTestFS(t *testing.T, opts ...Option) (*DirectoryFileSystem, billy.Filesystem) {
	t.Helper()
	storage := newTestStorage(t)
	root, err := tree.NewFactory(storage).Build("/a")
	require.NoError(t, err)
	return New(root, append([]Option{WithStorage(storage)}, opts...)...), storage
}

// refCount exposes the internal count for assertions
func refCount(t *testing.T, h dirfs.Handle) int32 {
	t.Helper()
	ih, ok := h.(*handles.Handle)
	require.True(t, ok)
	return ih.RefCount()
}

// invalidatedChild returns a handle for b.txt that has been allocated twice
// and freed once, leaving it Invalidated
func invalidatedChild(t *testing.T, fsys *DirectoryFileSystem) dirfs.Handle {
	t.Helper()
	root := fsys.AllocateRootHandle()
	h1, res := fsys.AllocateRelativeHandleFromPath(root, "b.txt")
	require.Equal(t, dirfs.Success, res)
	h2, res := fsys.AllocateRelativeHandleFromPath(root, "b.txt")
	require.Equal(t, dirfs.Success, res)
	require.Same(t, h1, h2)

	fsys.FreeHandle(h1)
	require.Equal(t, handles.Invalidated, h1.(*handles.Handle).State())
	return h1
}

func TestNew(t *testing.T) {
	t.Parallel()

	fsys, _ := createTestFS(t)

	require.NotNil(t, fsys)
	assert.NotEqual(t, uuid.Nil, fsys.ID())
	assert.Equal(t, "/a", fsys.Root().Path())
	assert.Equal(t, 0, fsys.HandleCount(), "handles are created lazily")
}

func TestDirectoryFileSystem_AllocateRootHandle(t *testing.T) {
	t.Parallel()

	fsys, _ := createTestFS(t)

	h0 := fsys.AllocateRootHandle()
	again := fsys.AllocateRootHandle()

	assert.Same(t, h0, again)
	assert.Equal(t, int32(1), refCount(t, h0))
	assert.Equal(t, "[dirfs handle to /a]", h0.String())

	name, res := fsys.GetName(h0)
	assert.Equal(t, dirfs.Success, res)
	assert.Equal(t, "a", name)
}

func TestDirectoryFileSystem_AllocateChildrenHandles(t *testing.T) {
	t.Parallel()

	fsys, _ := createTestFS(t)
	h0 := fsys.AllocateRootHandle()

	children, res := fsys.AllocateChildrenHandles(h0)

	require.Equal(t, dirfs.Success, res)
	require.Len(t, children, 2)
	var got []string
	for _, h := range children {
		name, res := fsys.GetName(h)
		require.Equal(t, dirfs.Success, res)
		got = append(got, name)
	}
	assert.Equal(t, []string{"b.txt", "sub"}, got, "must keep the node child order")

	t.Run("FileHasNoChildren", func(t *testing.T) {
		grand, res := fsys.AllocateChildrenHandles(children[0])
		assert.Equal(t, dirfs.Success, res)
		assert.Empty(t, grand)
	})

	t.Run("UnrecognizedHandle", func(t *testing.T) {
		hs, res := fsys.AllocateChildrenHandles(foreignHandle{})
		assert.Equal(t, dirfs.InvalidHandle, res)
		assert.Nil(t, hs)

		hs, res = fsys.AllocateChildrenHandles(nil)
		assert.Equal(t, dirfs.InvalidHandle, res)
		assert.Nil(t, hs)
	})
}

func TestDirectoryFileSystem_AllocateRelativeHandleFromPath(t *testing.T) {
	t.Parallel()

	fsys, _ := createTestFS(t)
	h0 := fsys.AllocateRootHandle()
	children, res := fsys.AllocateChildrenHandles(h0)
	require.Equal(t, dirfs.Success, res)
	h1 := children[0]

	t.Run("SameNodeSameHandle", func(t *testing.T) {
		h, res := fsys.AllocateRelativeHandleFromPath(h0, "b.txt")
		assert.Equal(t, dirfs.Success, res)
		assert.Same(t, h1, h)
	})

	t.Run("Missing", func(t *testing.T) {
		h, res := fsys.AllocateRelativeHandleFromPath(h0, "missing.txt")
		assert.Equal(t, dirfs.NotFound, res)
		assert.Nil(t, h)
	})

	t.Run("ParentFromChild", func(t *testing.T) {
		h, res := fsys.AllocateRelativeHandleFromPath(children[1], "..")
		assert.Equal(t, dirfs.Success, res)
		assert.Same(t, h0, h)
	})

	t.Run("UnrecognizedHandle", func(t *testing.T) {
		h, res := fsys.AllocateRelativeHandleFromPath(foreignHandle{}, "b.txt")
		assert.Equal(t, dirfs.InvalidHandle, res)
		assert.Nil(t, h)
	})
}

func TestDirectoryFileSystem_AllocateRelativeHandleFromPath_DelegatesToNode(t *testing.T) {
	t.Parallel()

	child := &mocks.MockNode{}
	root := &mocks.MockNode{}
	root.On("Path").Return("/mock").Maybe()
	root.On("GetRelative", "x/../y").Return(child, true).Once()
	root.On("GetRelative", "nope").Return(nil, false).Once()

	fsys := New(root, WithStorage(memfs.New()))
	h0 := fsys.AllocateRootHandle()

	h, res := fsys.AllocateRelativeHandleFromPath(h0, "x/../y")
	require.Equal(t, dirfs.Success, res)
	assert.Same(t, child, h.(*handles.Handle).Node())

	_, res = fsys.AllocateRelativeHandleFromPath(h0, "nope")
	assert.Equal(t, dirfs.NotFound, res)

	root.AssertExpectations(t)
	child.AssertNotCalled(t, "GetRelative", mock.Anything)
}

func TestDirectoryFileSystem_ReadAllBytes(t *testing.T) {
	t.Parallel()

	fsys, storage := createTestFS(t)
	h0 := fsys.AllocateRootHandle()
	children, _ := fsys.AllocateChildrenHandles(h0)
	h1 := children[0]

	t.Run("File", func(t *testing.T) {
		data, res, err := fsys.ReadAllBytes(h1)
		require.NoError(t, err)
		assert.Equal(t, dirfs.Success, res)
		assert.Equal(t, []byte{1, 2, 3}, data)
	})

	t.Run("Directory", func(t *testing.T) {
		data, res, err := fsys.ReadAllBytes(h0)
		require.NoError(t, err)
		assert.Equal(t, dirfs.InvalidOperation, res)
		assert.Nil(t, data)
	})

	t.Run("UnrecognizedHandle", func(t *testing.T) {
		data, res, err := fsys.ReadAllBytes(foreignHandle{})
		require.NoError(t, err)
		assert.Equal(t, dirfs.InvalidHandle, res)
		assert.Nil(t, data)
	})

	t.Run("RemovedFromStorage", func(t *testing.T) {
		require.NoError(t, util.WriteFile(storage, "/a/sub/gone.txt", []byte("x"), 0o644))
		root, err := tree.NewFactory(storage).Build("/a")
		require.NoError(t, err)
		other := New(root, WithStorage(storage))
		h, res := other.AllocateRelativeHandleFromPath(other.AllocateRootHandle(), "sub/gone.txt")
		require.Equal(t, dirfs.Success, res)
		require.NoError(t, storage.Remove("/a/sub/gone.txt"))

		data, res, err := other.ReadAllBytes(h)
		require.NoError(t, err)
		assert.Equal(t, dirfs.NotFound, res)
		assert.Nil(t, data)
	})
}

// statErrFS fails every Stat with err
type statErrFS struct {
	billy.Filesystem
	err error
}

func (f *statErrFS) Stat(string) (os.FileInfo, error) {
	return nil, f.err
}

func TestDirectoryFileSystem_ReadAllBytes_NativeErrorPropagates(t *testing.T) {
	t.Parallel()

	storage := newTestStorage(t)
	root, err := tree.NewFactory(storage).Build("/a")
	require.NoError(t, err)
	fsys := New(root, WithStorage(&statErrFS{Filesystem: storage, err: os.ErrPermission}))

	data, _, err := fsys.ReadAllBytes(fsys.AllocateRootHandle())

	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrPermission))
	assert.Nil(t, data)
}

func TestDirectoryFileSystem_Stat(t *testing.T) {
	t.Parallel()

	t.Run("File", func(t *testing.T) {
		t.Parallel()
		fsys, _ := createTestFS(t)
		h, _ := fsys.AllocateRelativeHandleFromPath(fsys.AllocateRootHandle(), "b.txt")

		info, res, err := fsys.Stat(h)
		require.NoError(t, err)
		assert.Equal(t, dirfs.Success, res)
		assert.False(t, info.IsDir())
		assert.Equal(t, int64(3), info.Size())
	})

	t.Run("Directory", func(t *testing.T) {
		t.Parallel()
		fsys, _ := createTestFS(t)

		info, res, err := fsys.Stat(fsys.AllocateRootHandle())
		require.NoError(t, err)
		assert.Equal(t, dirfs.Success, res)
		assert.True(t, info.IsDir())
	})

	t.Run("Invalidated", func(t *testing.T) {
		t.Parallel()
		fsys, _ := createTestFS(t)

		_, res, err := fsys.Stat(invalidatedChild(t, fsys))
		require.NoError(t, err)
		assert.Equal(t, dirfs.InvalidHandle, res)
	})

	t.Run("RemovedFromStorage", func(t *testing.T) {
		t.Parallel()
		fsys, storage := createTestFS(t)
		h, _ := fsys.AllocateRelativeHandleFromPath(fsys.AllocateRootHandle(), "b.txt")
		require.NoError(t, storage.Remove("/a/b.txt"))

		_, res, err := fsys.Stat(h)
		require.NoError(t, err)
		assert.Equal(t, dirfs.NotFound, res)
	})

	t.Run("NativeError", func(t *testing.T) {
		t.Parallel()
		storage := newTestStorage(t)
		root, err := tree.NewFactory(storage).Build("/a")
		require.NoError(t, err)
		fsys := New(root, WithStorage(&statErrFS{Filesystem: storage, err: os.ErrPermission}))

		_, _, err = fsys.Stat(fsys.AllocateRootHandle())
		assert.ErrorIs(t, err, os.ErrPermission)
	})
}

func TestDirectoryFileSystem_FreeHandle(t *testing.T) {
	t.Parallel()

	t.Run("FreedRightAfterFirstAllocationStaysValid", func(t *testing.T) {
		t.Parallel()
		fsys, _ := createTestFS(t)
		h0 := fsys.AllocateRootHandle()
		children, _ := fsys.AllocateChildrenHandles(h0)
		h1 := children[0]

		fsys.FreeHandle(h1)

		assert.Equal(t, int32(-1), refCount(t, h1))
		name, res := fsys.GetName(h1)
		assert.Equal(t, dirfs.Success, res)
		assert.Equal(t, "b.txt", name)
	})

	t.Run("ReachingZeroInvalidates", func(t *testing.T) {
		t.Parallel()
		fsys, _ := createTestFS(t)
		h := invalidatedChild(t, fsys)

		_, res := fsys.GetName(h)
		assert.Equal(t, dirfs.InvalidHandle, res)
		_, res = fsys.GetPath(h)
		assert.Equal(t, dirfs.InvalidHandle, res)
		_, res = fsys.AllocateRelativeHandleFromPath(h, ".")
		assert.Equal(t, dirfs.InvalidHandle, res)
	})

	t.Run("BelowZeroNeverInvalidates", func(t *testing.T) {
		t.Parallel()
		fsys, _ := createTestFS(t)
		h0 := fsys.AllocateRootHandle()
		fsys.FreeHandle(h0)
		fsys.FreeHandle(h0)

		assert.Equal(t, int32(-2), refCount(t, h0))
		_, res := fsys.GetPath(h0)
		assert.Equal(t, dirfs.Success, res)
	})

	t.Run("ReallocatingInvalidatedStaysInvalidated", func(t *testing.T) {
		t.Parallel()
		fsys, _ := createTestFS(t)
		h := invalidatedChild(t, fsys)

		again, res := fsys.AllocateRelativeHandleFromPath(fsys.AllocateRootHandle(), "b.txt")
		require.Equal(t, dirfs.Success, res)
		assert.Same(t, h, again)
		_, res = fsys.GetName(again)
		assert.Equal(t, dirfs.InvalidHandle, res)
	})

	t.Run("UnrecognizedIgnored", func(t *testing.T) {
		t.Parallel()
		fsys, _ := createTestFS(t)
		assert.NotPanics(t, func() {
			fsys.FreeHandle(foreignHandle{})
			fsys.FreeHandle(nil)
			fsys.FreeHandle((*handles.Handle)(nil))
		})
	})
}

func TestDirectoryFileSystem_FreeHandles(t *testing.T) {
	t.Parallel()

	fsys, _ := createTestFS(t)
	h0 := fsys.AllocateRootHandle()
	first, _ := fsys.AllocateChildrenHandles(h0)
	second, _ := fsys.AllocateChildrenHandles(h0)
	for _, h := range second {
		require.Equal(t, int32(1), refCount(t, h))
	}

	fsys.FreeHandles(append([]dirfs.Handle{foreignHandle{}}, second...))

	for _, h := range first {
		_, res := fsys.GetName(h)
		assert.Equal(t, dirfs.InvalidHandle, res, "every element must be freed")
	}
	assert.NotPanics(t, func() { fsys.FreeHandles(nil) })
}

func TestDirectoryFileSystem_GetPath(t *testing.T) {
	t.Parallel()

	fsys, _ := createTestFS(t)
	h, res := fsys.AllocateRelativeHandleFromPath(fsys.AllocateRootHandle(), "sub")
	require.Equal(t, dirfs.Success, res)

	p, res := fsys.GetPath(h)
	assert.Equal(t, dirfs.Success, res)
	assert.Equal(t, "/a/sub", p)

	_, res = fsys.GetPath(foreignHandle{})
	assert.Equal(t, dirfs.InvalidHandle, res)
	_, res = fsys.GetName(nil)
	assert.Equal(t, dirfs.InvalidHandle, res)
}

func TestDirectoryFileSystem_InvalidatedAsymmetry(t *testing.T) {
	t.Parallel()

	t.Run("Default", func(t *testing.T) {
		t.Parallel()
		fsys, _ := createTestFS(t)
		h := invalidatedChild(t, fsys)

		data, res, err := fsys.ReadAllBytes(h)
		require.NoError(t, err)
		assert.Equal(t, dirfs.Success, res, "ReadAllBytes only checks recognizability")
		assert.Equal(t, []byte{1, 2, 3}, data)

		children, res := fsys.AllocateChildrenHandles(h)
		assert.Equal(t, dirfs.Success, res, "AllocateChildrenHandles only checks recognizability")
		assert.Empty(t, children)
	})

	t.Run("DirectoryHandle", func(t *testing.T) {
		t.Parallel()
		fsys, _ := createTestFS(t)
		h0 := fsys.AllocateRootHandle()
		fsys.AllocateRootHandle()
		fsys.FreeHandle(h0)
		require.Equal(t, handles.Invalidated, h0.(*handles.Handle).State())

		children, res := fsys.AllocateChildrenHandles(h0)
		assert.Equal(t, dirfs.Success, res)
		assert.Len(t, children, 2)
	})

	t.Run("Strict", func(t *testing.T) {
		t.Parallel()
		fsys, _ := createTestFS(t, WithStrictValidation(true))
		h := invalidatedChild(t, fsys)

		_, res, err := fsys.ReadAllBytes(h)
		require.NoError(t, err)
		assert.Equal(t, dirfs.InvalidHandle, res)

		_, res = fsys.AllocateChildrenHandles(h)
		assert.Equal(t, dirfs.InvalidHandle, res)
	})

	t.Run("Disposed", func(t *testing.T) {
		t.Parallel()
		fsys, _ := createTestFS(t)
		h := fsys.AllocateRootHandle()
		h.(*handles.Handle).Dispose()

		_, res := fsys.GetName(h)
		assert.Equal(t, dirfs.InvalidHandle, res)
		_, res = fsys.GetPath(h)
		assert.Equal(t, dirfs.InvalidHandle, res)
		_, res = fsys.AllocateRelativeHandleFromPath(h, "b.txt")
		assert.Equal(t, dirfs.InvalidHandle, res)
		_, res = fsys.AllocateChildrenHandles(h)
		assert.Equal(t, dirfs.Success, res)
	})
}

func TestDirectoryFileSystem_WithCountFromOne(t *testing.T) {
	t.Parallel()

	fsys, _ := createTestFS(t, WithCountFromOne(true))
	children, _ := fsys.AllocateChildrenHandles(fsys.AllocateRootHandle())
	h1 := children[0]

	fsys.FreeHandle(h1)

	_, res := fsys.GetName(h1)
	assert.Equal(t, dirfs.InvalidHandle, res, "one allocation and one free must invalidate")
}

func TestDirectoryFileSystem_HandlesFromOtherFileSystem(t *testing.T) {
	t.Parallel()

	storage := newTestStorage(t)
	root, err := tree.NewFactory(storage).Build("/a")
	require.NoError(t, err)
	first := New(root, WithStorage(storage))
	second := New(root, WithStorage(storage))

	h := first.AllocateRootHandle()
	second.AllocateRootHandle()

	_, res := second.GetName(h)
	assert.Equal(t, dirfs.InvalidHandle, res)
	_, _, err = second.ReadAllBytes(h)
	assert.NoError(t, err)
	second.FreeHandle(h)
	assert.Equal(t, int32(0), refCount(t, h), "foreign free must not touch the count")
}

func TestDirectoryFileSystem_Concurrent(t *testing.T) {
	t.Parallel()

	const workers = 32
	fsys, _ := createTestFS(t)
	h0 := fsys.AllocateRootHandle()
	// Keep b.txt above zero so only the workers' own traffic moves it
	pin, res := fsys.AllocateRelativeHandleFromPath(h0, "b.txt")
	require.Equal(t, dirfs.Success, res)
	fsys.AllocateRelativeHandleFromPath(h0, "b.txt")

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h, res := fsys.AllocateRelativeHandleFromPath(h0, "b.txt")
				assert.Equal(t, dirfs.Success, res)
				assert.Same(t, pin, h)
				data, res, err := fsys.ReadAllBytes(h)
				assert.NoError(t, err)
				assert.Equal(t, dirfs.Success, res)
				assert.Equal(t, []byte{1, 2, 3}, data)
				fsys.FreeHandle(h)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), refCount(t, pin))
	_, res = fsys.GetName(pin)
	assert.Equal(t, dirfs.Success, res)
	assert.Equal(t, 2, fsys.HandleCount())
}

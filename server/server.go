// Package server mounts a [dirfs.FileSystem] as a read-only FUSE filesystem.
package server

import (
	"fmt"
	"os"
	"time"

	"github.com/brettbedarf/dirfs"
	"github.com/brettbedarf/dirfs/config"
	"github.com/brettbedarf/dirfs/internal/util"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
)

// pinRefs is the number of references the server holds on every handle it
// serves. Two keep the count above zero whether or not a handle's first
// allocation is counted.
const pinRefs = 2

// Server is a mounted handle filesystem.
//
// Every handle the server hands to the kernel is pinned until Unmount, so
// inode and directory listing references can be freed without ever taking
// the count to zero. An invalidated handle can never be used again.
type Server struct {
	fsys       dirfs.FileSystem
	root       *handleNode
	fuse       *fuse.Server
	pins       *xsync.Map[dirfs.Handle, int] // handle -> pinned references held
	mountPoint string
	logger     zerolog.Logger
}

func newServer(fsys dirfs.FileSystem, mountPoint string) *Server {
	return &Server{
		fsys:       fsys,
		pins:       xsync.NewMap[dirfs.Handle, int](),
		mountPoint: mountPoint,
		logger:     util.GetLogger("Server").With().Str("mountPoint", mountPoint).Logger(),
	}
}

// Mount mounts fsys read-only at mountPoint and starts serving. The mount
// point is created if it does not exist. A nil cfg uses the defaults.
// The caller must call Unmount when done.
func Mount(fsys dirfs.FileSystem, mountPoint string, cfg *config.Config) (*Server, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	srv := newServer(fsys, mountPoint)

	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mount point %s: %w", mountPoint, err)
	}

	root := fsys.AllocateRootHandle()
	srv.pin(root, func() (dirfs.Handle, dirfs.IoResult) {
		return fsys.AllocateRootHandle(), dirfs.Success
	})
	srv.root = &handleNode{srv: srv, handle: root}

	entryTimeout := seconds(cfg.EntryTimeout)
	attrTimeout := seconds(cfg.AttrTimeout)
	fuseLogger := util.NewLogLogger("FuseServer", util.DebugLevel)

	fuseSrv, err := gofuse.Mount(mountPoint, srv.root, &gofuse.Options{
		EntryTimeout: &entryTimeout,
		AttrTimeout:  &attrTimeout,
		Logger:       fuseLogger,
		MountOptions: fuse.MountOptions{
			FsName:     cfg.FsName,
			Name:       cfg.Name,
			Debug:      cfg.Debug,
			AllowOther: cfg.AllowOther,
			Logger:     fuseLogger,
		},
	})
	if err != nil {
		srv.root.release()
		srv.unpinAll()
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", mountPoint, err)
	}
	srv.fuse = fuseSrv

	srv.logger.Info().Str("root", srv.root.handle.String()).Msg("Filesystem mounted")
	return srv, nil
}

// MountPoint returns the directory the filesystem is mounted on
func (s *Server) MountPoint() string {
	return s.mountPoint
}

// Wait blocks until the filesystem is unmounted
func (s *Server) Wait() {
	s.fuse.Wait()
}

// Unmount unmounts the filesystem and frees the root and pinned handles
func (s *Server) Unmount() error {
	if err := s.fuse.Unmount(); err != nil {
		return err
	}
	s.root.release()
	s.unpinAll()
	s.logger.Info().Msg("Filesystem unmounted")
	return nil
}

// pin makes sure the server holds pinRefs references to h. acquire must
// allocate the same node again. Concurrent pins of one handle are
// serialized, so no caller frees its own reference before the pins exist.
func (s *Server) pin(h dirfs.Handle, acquire func() (dirfs.Handle, dirfs.IoResult)) {
	s.pins.Compute(h, func(held int, _ bool) (int, xsync.ComputeOp) {
		for held < pinRefs {
			p, res := acquire()
			if res != dirfs.Success {
				break
			}
			if p != h {
				s.fsys.FreeHandle(p)
				break
			}
			held++
		}
		return held, xsync.UpdateOp
	})
}

// unpinAll frees every pinned reference
func (s *Server) unpinAll() {
	s.pins.Range(func(h dirfs.Handle, held int) bool {
		for range held {
			s.fsys.FreeHandle(h)
		}
		s.pins.Delete(h)
		return true
	})
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

package adapters

import (
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

type BuiltInAdapterType = string

const (
	// OSAdapterType reads the local filesystem. Paths stay absolute so node
	// paths and storage paths agree.
	OSAdapterType BuiltInAdapterType = "os"
	// MemoryAdapterType serves an in-memory snapshot of the root directory
	// taken from the local filesystem when the backend is opened
	MemoryAdapterType BuiltInAdapterType = "memory"
)

// RegisterBuiltins registers all built-in adapters on reg by default
// or only the specific ones if keys are provided
func RegisterBuiltins(reg *Registry, adapters ...BuiltInAdapterType) {
	if len(adapters) == 0 {
		adapters = append(adapters, OSAdapterType, MemoryAdapterType)
	}

	for _, key := range adapters {
		switch key {
		case OSAdapterType:
			reg.Register(OSAdapterType, NewOS)
		case MemoryAdapterType:
			reg.Register(MemoryAdapterType, NewMemory)
		}
	}
}

// NewOS returns the local filesystem anchored at "/"
func NewOS(_ string) (billy.Filesystem, error) {
	return osfs.New("/"), nil
}

// NewMemory returns an in-memory copy of root read from the local filesystem
func NewMemory(root string) (billy.Filesystem, error) {
	return NewMemoryFrom(osfs.New("/"), root)
}

// NewMemoryFrom returns an in-memory copy of root read from src. Only
// directories and regular files are copied.
func NewMemoryFrom(src billy.Filesystem, root string) (billy.Filesystem, error) {
	dst := memfs.New()
	err := util.Walk(src, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		switch {
		case info.IsDir():
			return dst.MkdirAll(p, info.Mode().Perm())
		case info.Mode().IsRegular():
			data, err := util.ReadFile(src, p)
			if err != nil {
				return err
			}
			return util.WriteFile(dst, p, data, info.Mode().Perm())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", root, err)
	}
	return dst, nil
}

package filesystem

import (
	"github.com/brettbedarf/dirfs"
	"github.com/brettbedarf/dirfs/internal/util"
)

// Factory creates a [DirectoryFileSystem] from a directory path by building
// its node tree with Nodes.
type Factory struct {
	Nodes   dirfs.NodeFactory
	Options []Option
}

var _ dirfs.FileSystemFactory = (*Factory)(nil)

// NewFactory returns a Factory using nodes to build trees and opts for every
// filesystem it creates
func NewFactory(nodes dirfs.NodeFactory, opts ...Option) *Factory {
	return &Factory{Nodes: nodes, Options: opts}
}

// CreateFromDirectory implements [dirfs.FileSystemFactory]
func (f *Factory) CreateFromDirectory(path string) (dirfs.FileSystem, error) {
	fsys, err := f.Create(path)
	if err != nil {
		return nil, err
	}
	return fsys, nil
}

// Create is [Factory.CreateFromDirectory] returning the concrete type
func (f *Factory) Create(path string) (*DirectoryFileSystem, error) {
	logger := util.GetLogger("Factory.Create")

	root, err := f.Nodes.CreateFromDirectory(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to build node tree")
		return nil, err
	}
	return New(root, f.Options...), nil
}

package tree

import (
	"fmt"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/brettbedarf/dirfs"
	"github.com/brettbedarf/dirfs/internal/util"
	"github.com/go-git/go-billy/v5"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of directories read in parallel while
// building a tree
const DefaultConcurrency = 8

// Factory builds [Node] trees by walking a directory on FS.
type Factory struct {
	FS billy.Filesystem

	// IncludeHidden keeps entries whose name starts with "."
	IncludeHidden bool
	// MaxDepth limits how deep directories are read below the root.
	// 0 means unlimited; deeper directories are present but empty.
	MaxDepth int
	// Concurrency is the number of directories read in parallel (Default 8)
	Concurrency int
	// Strict makes CreateFromDirectory return the aggregated error of
	// unreadable subdirectories along with the partial tree. Otherwise those
	// errors are only logged.
	Strict bool
}

var _ dirfs.NodeFactory = (*Factory)(nil)

// NewFactory returns a Factory over fsys with default settings
func NewFactory(fsys billy.Filesystem) *Factory {
	return &Factory{FS: fsys, Concurrency: DefaultConcurrency}
}

// CreateFromDirectory implements [dirfs.NodeFactory]
func (f *Factory) CreateFromDirectory(dir string) (dirfs.Node, error) {
	root, err := f.Build(dir)
	if root == nil {
		return nil, err
	}
	return root, err
}

// Build reads dir recursively and returns the root of the resulting tree.
// dir must be an absolute path to a directory.
func (f *Factory) Build(dir string) (*Node, error) {
	logger := util.GetLogger("Tree.Build")

	if !path.IsAbs(dir) {
		return nil, fmt.Errorf("directory path must be absolute: %q", dir)
	}
	dir = path.Clean(dir)

	info, err := f.FS.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s: not a directory", dir)
	}

	root := NewNode(path.Base(dir), dir, true)
	b := &builder{factory: f}
	b.g.SetLimit(max(1, f.Concurrency))
	b.g.Go(func() error {
		b.fill(root, 0)
		return nil
	})
	_ = b.g.Wait() // fill never fails; errors are collected in b.errs

	count := 0
	root.Walk(func(*Node) bool { count++; return true })
	logger.Debug().Str("dir", dir).Int("nodes", count).Msg("Built node tree")

	if err := b.errs.ErrorOrNil(); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("Some directories could not be read")
		if f.Strict {
			return root, err
		}
	}
	return root, nil
}

type builder struct {
	factory *Factory
	g       errgroup.Group
	mu      sync.Mutex // Protects errs
	errs    *multierror.Error
}

func (b *builder) addErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = multierror.Append(b.errs, err)
}

// fill reads dir's entries, links them as children in name order and
// schedules the subdirectories. Each directory is filled by exactly one
// goroutine and nothing reads the tree before Wait returns.
func (b *builder) fill(dir *Node, depth int) {
	f := b.factory
	if f.MaxDepth > 0 && depth >= f.MaxDepth {
		return
	}

	infos, err := f.FS.ReadDir(dir.path)
	if err != nil {
		b.addErr(fmt.Errorf("read dir %s: %w", dir.path, err))
		return
	}
	slices.SortFunc(infos, func(a, c os.FileInfo) int {
		return strings.Compare(a.Name(), c.Name())
	})

	var subdirs []*Node
	for _, info := range infos {
		name := info.Name()
		if !f.IncludeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		child := NewNode(name, f.FS.Join(dir.path, name), info.IsDir())
		dir.AddChild(child)
		if child.isDir {
			subdirs = append(subdirs, child)
		}
	}

	for _, sub := range subdirs {
		task := func() error {
			b.fill(sub, depth+1)
			return nil
		}
		// Run inline when the pool is saturated so nested scheduling can't
		// deadlock on the limit.
		if !b.g.TryGo(task) {
			_ = task()
		}
	}
}

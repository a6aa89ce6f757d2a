package mocks

import (
	"github.com/brettbedarf/dirfs"
	"github.com/stretchr/testify/mock"
)

// MockNode implements dirfs.Node for testing across packages
type MockNode struct {
	mock.Mock
}

func (m *MockNode) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockNode) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockNode) Children() []dirfs.Node {
	args := m.Called()

	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]dirfs.Node)
}

func (m *MockNode) GetRelative(path string) (dirfs.Node, bool) {
	args := m.Called(path)

	// Handle function return types (for resolution tests)
	if fn, ok := args.Get(0).(func(string) dirfs.Node); ok {
		n := fn(path)
		return n, n != nil
	}

	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(dirfs.Node), args.Bool(1)
}

var _ dirfs.Node = (*MockNode)(nil)

// MockNodeFactory implements dirfs.NodeFactory for testing across packages
type MockNodeFactory struct {
	mock.Mock
}

func (m *MockNodeFactory) CreateFromDirectory(path string) (dirfs.Node, error) {
	args := m.Called(path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(dirfs.Node), args.Error(1)
}

var _ dirfs.NodeFactory = (*MockNodeFactory)(nil)

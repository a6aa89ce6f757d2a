// Package dirfs contains the core domain types and interfaces for exposing a
// directory tree through opaque, reference-counted handles.
//
// Callers never hold paths or native file descriptors directly. They allocate
// a [Handle] for the root, for a node's children or for a path relative to
// another handle, use it to read names, paths and file content, and free it
// when done. Every expected failure is reported as an [IoResult].
package dirfs

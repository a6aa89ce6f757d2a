package dirfs

import (
	"errors"
	"strconv"
)

// IoResult is the outcome of a [FileSystem] operation.
type IoResult int

const (
	Success IoResult = iota
	// NotFound means path resolution or the underlying file lookup failed
	NotFound
	// InvalidHandle means the handle is not recognized or no longer valid
	InvalidHandle
	// InvalidOperation means the node is the wrong kind for the operation,
	// e.g. reading a directory as a file
	InvalidOperation
)

// Sentinel errors for non-successful results. See [IoResult.Err].
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidHandle    = errors.New("invalid handle")
	ErrInvalidOperation = errors.New("invalid operation")
)

func (r IoResult) String() string {
	switch r {
	case Success:
		return "Success"
	case NotFound:
		return "NotFound"
	case InvalidHandle:
		return "InvalidHandle"
	case InvalidOperation:
		return "InvalidOperation"
	default:
		return "IoResult(" + strconv.Itoa(int(r)) + ")"
	}
}

// Err converts the result into an error usable with errors.Is.
// Returns nil for Success.
func (r IoResult) Err() error {
	switch r {
	case Success:
		return nil
	case NotFound:
		return ErrNotFound
	case InvalidHandle:
		return ErrInvalidHandle
	case InvalidOperation:
		return ErrInvalidOperation
	default:
		return errors.New(r.String())
	}
}

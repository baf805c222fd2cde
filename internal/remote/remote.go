// Package remote defines the disk interface the bot drives and the types
// shared by its backends.
package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// Kind distinguishes directory entries.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "dir"
)

// Entry is one file or folder on the remote disk.
type Entry struct {
	Name      string
	Path      string
	Kind      Kind
	Size      int64
	PublicURL string
}

// Listing is one page of a directory. Total counts all entries under Path,
// not just the page.
type Listing struct {
	Path   string
	Items  []Entry
	Total  int
	Offset int
	Limit  int
}

// WriteTarget is a one-shot upload destination obtained before streaming.
type WriteTarget struct {
	URL    string
	Method string
	Header http.Header
}

// Usage is the disk's space accounting.
type Usage struct {
	Total int64
	Used  int64
	Trash int64
}

// Disk is a user-bound remote storage handle. Implementations do not retry;
// a failed call surfaces to the user who decides whether to repeat it.
type Disk interface {
	List(ctx context.Context, path string, limit, offset int) (*Listing, error)
	Stat(ctx context.Context, path string) (*Entry, error)
	WriteTarget(ctx context.Context, path string, overwrite bool) (*WriteTarget, error)
	Write(ctx context.Context, target *WriteTarget, body io.Reader, size int64) error
	Publish(ctx context.Context, path string) (string, error)
	Delete(ctx context.Context, path string) error
	Mkdir(ctx context.Context, path string) error
	Usage(ctx context.Context) (*Usage, error)
}

// Opener binds an opaque user credential to a Disk.
type Opener interface {
	Open(ctx context.Context, credential string) (Disk, error)
}

// Operation names used in CallError.
const (
	OpOpen        = "open"
	OpList        = "list"
	OpStat        = "stat"
	OpWriteTarget = "write_target"
	OpWrite       = "write"
	OpPublish     = "publish"
	OpDelete      = "delete"
	OpMkdir       = "mkdir"
	OpUsage       = "usage"
)

var (
	// ErrUnauthorized means the stored credential was rejected by the
	// remote side.
	ErrUnauthorized = errors.New("remote credential rejected")

	// ErrNotFound means the path does not exist on the remote disk.
	ErrNotFound = errors.New("remote path not found")
)

// CallError names the remote operation that failed so callers can report
// how far a multi-step job got.
type CallError struct {
	Op  string
	Err error
}

func (e *CallError) Error() string {
	return "remote " + e.Op + ": " + e.Err.Error()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Call wraps a non-nil error as a CallError for op. Errors that already
// carry an operation pass through unchanged.
func Call(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return err
	}
	return &CallError{Op: op, Err: err}
}

// OpOf extracts the failing operation from err, or "" when err carries none.
func OpOf(err error) string {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Op
	}
	return ""
}

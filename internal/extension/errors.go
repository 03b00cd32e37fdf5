package extension

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized indicates a query was issued before the first
	// successful Refresh. It is distinct from an empty (but valid) result.
	ErrNotInitialized = errors.New("extension cache not initialized")
)

// ValidationError reports a malformed extension descriptor.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "invalid descriptor"
	}
	if e.Path == "" {
		return fmt.Sprintf("invalid descriptor: %s", e.Reason)
	}
	return fmt.Sprintf("invalid descriptor %s: %s", e.Path, e.Reason)
}

// TrustDeniedError reports an extension that could not be loaded because
// the workspace is untrusted and the extension requires consent.
type TrustDeniedError struct {
	Workspace string
	Extension string
}

func (e *TrustDeniedError) Error() string {
	if e == nil {
		return "workspace not trusted"
	}
	return fmt.Sprintf("extension %q requires consent and workspace %q is not trusted", e.Extension, e.Workspace)
}

// NotFoundError reports a mutation targeting an extension name unknown
// to the resolved cache.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return "extension not found"
	}
	return fmt.Sprintf("extension not found: %s", e.Name)
}

// StorageError wraps a filesystem failure in path resolution or
// temp-directory creation. It is fatal to the operation that triggered
// it but never corrupts the existing cache.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e == nil {
		return "storage error"
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

package docstore

import "github.com/pkg/errors"

// Sentinel errors shared by all backends. Callers match them with errors.Is;
// backends attach operation context via errors.WithMessage so the sentinel
// stays at the root of the chain.
var (
	// ErrNotFound reports that a lookup by id addressed a document that does
	// not exist in the target index.
	ErrNotFound = errors.New("document not found")

	// ErrUnsupportedOperation reports an engine capability mismatch, such as
	// appending documents to an already populated vector collection.
	ErrUnsupportedOperation = errors.New("operation not supported by backend")

	// ErrBackendUnavailable reports that the underlying engine could not be
	// reached, including call timeouts. The store layer never retries.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)

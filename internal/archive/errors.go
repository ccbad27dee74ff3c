package archive

import "errors"

var (
	// ErrStoreInconsistency means more than one row exists for a URL.
	ErrStoreInconsistency = errors.New("store inconsistency")

	// ErrMalformedSnapshot means the availability response named a closest
	// snapshot that is unavailable or has no URL.
	ErrMalformedSnapshot = errors.New("malformed snapshot response")

	// ErrUnknownBackend is returned for an unsupported store backend name.
	ErrUnknownBackend = errors.New("unknown store backend")

	// ErrBlobMissing means a successful entry references a blob that cannot be found.
	ErrBlobMissing = errors.New("blob missing")

	// ErrBodyTruncated means a response body was cut short, either by the
	// configured size limit or by a short read against Content-Length.
	ErrBodyTruncated = errors.New("response body truncated")

	// ErrStoreNotFound means an existing store was required but its directory
	// or metadata is absent.
	ErrStoreNotFound = errors.New("store not found")

	// ErrEmptyURL is returned when a URL normalizes to the empty string.
	ErrEmptyURL = errors.New("empty url")
)

// Package archive defines the core types shared by the resolver, fetcher,
// persistence store, and orchestrator.
package archive

import (
	"fmt"
	"path/filepath"
	"time"
)

// MimeKind classifies the content of a fetched snapshot.
type MimeKind string

// Mime kinds with a blob representation on disk.
const (
	MimeHTML MimeKind = "html"
	MimePDF  MimeKind = "pdf"
)

// Extension returns the blob file extension for the kind.
func (k MimeKind) Extension() string {
	return string(k)
}

// ContentType returns the HTTP content type used when serving a blob of this kind.
func (k MimeKind) ContentType() string {
	switch k {
	case MimePDF:
		return "application/pdf"
	case MimeHTML:
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// ErrorKind labels a soft failure persisted with an entry.
type ErrorKind string

// Soft failure kinds.
const (
	ErrorUnavailable ErrorKind = "unavailable"
	ErrorMimeType    ErrorKind = "mime-type"
)

// SnapshotReference describes the archived copy closest to a requested URL.
type SnapshotReference struct {
	Available   bool   `json:"available" yaml:"available"`
	Status      int    `json:"status" yaml:"status"`
	Timestamp   string `json:"timestamp" yaml:"timestamp"`
	SnapshotURL string `json:"url" yaml:"url"`
}

// OutcomeKind tags a FetchOutcome.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeUnavailable
	OutcomeUnknownMimeType
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeUnavailable:
		return string(ErrorUnavailable)
	case OutcomeUnknownMimeType:
		return string(ErrorMimeType)
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// FetchOutcome is the result of one resolve-and-fetch attempt. Only the fields
// belonging to Kind are populated; use the constructors below.
type FetchOutcome struct {
	Kind OutcomeKind

	// Snapshot is set for Success and UnknownMimeType.
	Snapshot *SnapshotReference

	// Success.
	Mime    MimeKind
	Content []byte

	// UnknownMimeType.
	MimeHeader string
}

// Success builds a successful outcome carrying the raw artifact.
func Success(snapshot SnapshotReference, mime MimeKind, content []byte) FetchOutcome {
	return FetchOutcome{
		Kind:     OutcomeSuccess,
		Snapshot: &snapshot,
		Mime:     mime,
		Content:  content,
	}
}

// Unavailable builds the outcome for a URL the archive holds no snapshot of.
func Unavailable() FetchOutcome {
	return FetchOutcome{Kind: OutcomeUnavailable}
}

// UnknownMimeType builds the outcome for a snapshot whose content type is not
// html or pdf. No content is retained.
func UnknownMimeType(snapshot SnapshotReference, header string) FetchOutcome {
	return FetchOutcome{
		Kind:       OutcomeUnknownMimeType,
		Snapshot:   &snapshot,
		MimeHeader: header,
	}
}

// ErrorKind returns the persisted error kind, empty for a success.
func (o FetchOutcome) ErrorKind() ErrorKind {
	switch o.Kind {
	case OutcomeUnavailable:
		return ErrorUnavailable
	case OutcomeUnknownMimeType:
		return ErrorMimeType
	default:
		return ""
	}
}

// ErrorText returns the human readable failure message, empty for a success.
func (o FetchOutcome) ErrorText() string {
	switch o.Kind {
	case OutcomeUnavailable:
		return "not in wayback"
	case OutcomeUnknownMimeType:
		return fmt.Sprintf("Unknown mime-type: %q", o.MimeHeader)
	default:
		return ""
	}
}

// CacheEntry is the durable record for one normalized URL. Success implies
// BlobFileName names a readable file in the store's blob directory.
type CacheEntry struct {
	URL          string             `json:"url" yaml:"url"`
	Success      bool               `json:"success" yaml:"success"`
	MimeKind     MimeKind           `json:"mime_kind,omitempty" yaml:"mime_kind,omitempty"`
	BlobFileName string             `json:"blob_file_name,omitempty" yaml:"blob_file_name,omitempty"`
	Snapshot     *SnapshotReference `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
	CollectedAt  time.Time          `json:"collected_at" yaml:"collected_at"`
	ErrorKind    ErrorKind          `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error        string             `json:"error,omitempty" yaml:"error,omitempty"`
	ContentHash  string             `json:"content_hash,omitempty" yaml:"content_hash,omitempty"`
}

// HasError reports whether the entry records a soft failure.
func (e CacheEntry) HasError() bool {
	return !e.Success
}

// BlobPath returns the absolute location of the entry's blob inside blobDir,
// or "" for unsuccessful entries.
func (e CacheEntry) BlobPath(blobDir string) string {
	if !e.Success || e.BlobFileName == "" {
		return ""
	}
	return filepath.Join(blobDir, e.BlobFileName)
}

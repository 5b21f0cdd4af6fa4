// Package dberrors collects the sentinel errors shared across scribe's
// components.
package dberrors

import "errors"

var (
	// ErrNotFound is returned when a document or checkpoint does not exist.
	ErrNotFound = errors.New("scribe: not found")
	// ErrClosed is returned by a lambda instance after Close has run.
	ErrClosed = errors.New("scribe: closed")
	// ErrInvalidArgument guards malformed inputs at package boundaries.
	ErrInvalidArgument = errors.New("scribe: invalid argument")

	// ErrInvalidSequenceGap marks an op sequence gap with no Pending
	// Message Reader to heal it.
	ErrInvalidSequenceGap = errors.New("scribe: invalid sequence gap")
	// ErrProtocolViolation wraps a processMessage failure. Fatal for the
	// document.
	ErrProtocolViolation = errors.New("scribe: protocol violation")
	// ErrDocumentCorrupt marks a document as permanently unusable for
	// further summary side effects.
	ErrDocumentCorrupt = errors.New("scribe: document marked corrupt")
	// ErrTransientStorageFailure marks a checkpoint or summary write that
	// may succeed on retry.
	ErrTransientStorageFailure = errors.New("scribe: transient storage failure")
	// ErrAlreadyClaimed is returned by pkg/membership when another worker
	// already holds the ephemeral claim znode for a document.
	ErrAlreadyClaimed = errors.New("scribe: document already claimed")
)

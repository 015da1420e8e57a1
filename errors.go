package pageproof

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for HTTP-layer mapping.
type Kind int

const (
	// KindInvalidInput covers bad request shapes: wrong upload type, an
	// empty question.
	KindInvalidInput Kind = iota
	// KindNotFound covers an unknown document or page.
	KindNotFound
	// KindConflict covers a QA request against a document that is not yet
	// ready.
	KindConflict
	// KindTooLarge covers an upload exceeding max_upload_bytes.
	KindTooLarge
	// KindConfigurationError covers a missing provider key or a mismatched
	// embedding dimension.
	KindConfigurationError
	// KindProviderFailure covers an embedding or chat provider error.
	KindProviderFailure
	// KindInternalError covers everything else.
	KindInternalError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTooLarge:
		return "too_large"
	case KindConfigurationError:
		return "configuration_error"
	case KindProviderFailure:
		return "provider_failure"
	default:
		return "internal_error"
	}
}

// Error is a classified, wrappable pageproof error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pageproof: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("pageproof: %s", e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// newErr constructs a classified Error, optionally wrapping a cause.
func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// AsKind extracts the Kind of err if it (or something it wraps) is a
// *Error, defaulting to KindInternalError otherwise.
func AsKind(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternalError
}

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = newErr(KindNotFound, "document not found", nil)

	// ErrDocumentNotReady is returned when QA is attempted against a
	// document whose status is not "ready".
	ErrDocumentNotReady = newErr(KindConflict, "document not ready", nil)

	// ErrUnsupportedFormat is returned for non-PDF uploads.
	ErrUnsupportedFormat = newErr(KindInvalidInput, "unsupported document format, PDF only", nil)

	// ErrEmptyQuestion is returned when a trimmed question is empty.
	ErrEmptyQuestion = newErr(KindInvalidInput, "question must not be empty", nil)

	// ErrUploadTooLarge is returned when an upload exceeds max_upload_bytes.
	ErrUploadTooLarge = newErr(KindTooLarge, "upload exceeds maximum size", nil)

	// ErrParsingFailed is returned when PDF parsing fails.
	ErrParsingFailed = newErr(KindInternalError, "parsing failed", nil)

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = newErr(KindProviderFailure, "embedding generation failed", nil)

	// ErrChatFailed is returned when answer generation fails.
	ErrChatFailed = newErr(KindProviderFailure, "chat completion failed", nil)

	// ErrMissingAPIKey is returned when a configured provider has no key.
	ErrMissingAPIKey = newErr(KindConfigurationError, "missing provider API key", nil)

	// ErrEmbeddingDimMismatch is returned when a provider's embedding width
	// does not match the configured store dimension.
	ErrEmbeddingDimMismatch = newErr(KindConfigurationError, "embedding dimension mismatch", nil)

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = newErr(KindConfigurationError, "invalid configuration", nil)
)

// wrap builds a fresh *Error of kind with cause, preserving msg.
func wrap(kind Kind, msg string, cause error) error {
	return newErr(kind, msg, cause)
}

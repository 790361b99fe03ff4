package orgatlas

import "errors"

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("orgatlas: document not found")

	// ErrProjectNotFound is returned when a project ID does not exist.
	ErrProjectNotFound = errors.New("orgatlas: project not found")

	// ErrEntityNotFound is returned when an entity ID does not exist.
	ErrEntityNotFound = errors.New("orgatlas: entity not found")

	// ErrInvalidReviewStatus is returned for a review status other than
	// pending, approved or rejected.
	ErrInvalidReviewStatus = errors.New("orgatlas: invalid review status")

	// ErrEmptyDocument is returned when a document has no text to extract.
	ErrEmptyDocument = errors.New("orgatlas: document has no text")

	// ErrExtractionFailed wraps the cause of a failed extraction pass. The
	// document is left in the failed state.
	ErrExtractionFailed = errors.New("orgatlas: extraction failed")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("orgatlas: unsupported document format")

	// ErrEmbeddingUnavailable is returned by similarity search when no
	// embedding provider is configured.
	ErrEmbeddingUnavailable = errors.New("orgatlas: embedding provider not configured")
)

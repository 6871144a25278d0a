package billscan

import (
	"errors"

	"github.com/tmacedo/billscan/llm"
)

var (
	// ErrMissingAPIKey is returned when the extraction service credential is
	// absent. It is the only error fatal to a whole batch and is raised
	// before any document is processed.
	ErrMissingAPIKey = llm.ErrMissingAPIKey

	// ErrNoPages is returned when a document yields no page images to send.
	ErrNoPages = llm.ErrNoPages

	// ErrMalformedResponse is returned when the extraction service reply is
	// not a single JSON object, including replies cut short by a timeout.
	ErrMalformedResponse = llm.ErrMalformedResponse

	// ErrUnreadableDocument is returned when no rasterization strategy could
	// interpret a document's bytes.
	ErrUnreadableDocument = errors.New("billscan: document could not be rasterized")

	// ErrNoDocuments is returned when a batch run is started with no inputs.
	ErrNoDocuments = errors.New("billscan: no input documents")
)

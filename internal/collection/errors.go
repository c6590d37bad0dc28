package collection

import (
	"errors"

	"github.com/kamusis/folio/internal/vindex"
)

var (
	// ErrUnsupportedInput covers empty text, text that yields no chunks,
	// malformed metadata and invalid ids. Nothing is mutated.
	ErrUnsupportedInput = errors.New("unsupported input")
	// ErrNotFound is returned by reads of a collection that has no state.
	ErrNotFound = errors.New("collection not found")
	// ErrPersistence wraps storage failures. The in-memory mutation has been
	// discarded; retrying is safe.
	ErrPersistence = errors.New("persistence failure")
	// ErrEmbedding wraps failures of the embeddings provider.
	ErrEmbedding = errors.New("embedding failure")

	ErrDimensionMismatch    = vindex.ErrDimensionMismatch
	ErrStructuralCorruption = vindex.ErrStructuralCorruption
)

// Retryable reports whether the operation that returned err may succeed if
// repeated unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrEmbedding)
}

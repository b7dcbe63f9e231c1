package rag

import "errors"

// Sentinel errors for the pipeline phases. Wrapped errors carry the phase
// detail and the underlying cause; callers classify with errors.Is.
var (
	// ErrInvalidConfig reports pipeline options that can never work, such
	// as a chunk overlap at or above the chunk size.
	ErrInvalidConfig = errors.New("invalid pipeline configuration")

	// ErrIngestion reports a failure while reading, chunking, or indexing
	// a document.
	ErrIngestion = errors.New("ingestion failed")

	// ErrRetrieval reports a failure while searching the vector store.
	// An empty result set is not a retrieval error.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrGeneration reports a failure while calling the language model.
	ErrGeneration = errors.New("generation failed")
)

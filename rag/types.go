// Package rag wires abbreviation expansion, chunking, retrieval, and chat
// completion into a conversational question answering pipeline.
package rag

// Document is a source text registered for retrieval.
type Document struct {
	ID     string
	Source string
	Text   string
}

// Chunk is a contiguous slice of a document, measured in runes. Start and
// End are rune offsets into the expanded document text; consecutive chunks
// of the same document overlap.
type Chunk struct {
	ID         string
	DocumentID string
	Source     string
	Text       string
	Index      int
	Start      int
	End        int
	Unit       string
}

// Retrieval is one scored match from the vector store. Higher scores mean
// more relevant.
type Retrieval struct {
	Text       string
	Score      float64
	DocumentID string
	Source     string
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Role    string
	Content string
}

// Answer is the outcome of a successful Ask.
type Answer struct {
	Text    string
	Sources []Retrieval
}

package llm

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextDoc is one retrieved chunk handed to the model; its 1-based
// position in the slice is the citation number.
type ContextDoc struct {
	Source  string
	Content string
}

type Request struct {
	Query       string
	ContextDocs []ContextDoc
	History     []Message
	// AuxContext carries the hybrid retriever's combined block.
	AuxContext string
	// Model optionally overrides the provider's default.
	Model         string
	SummaryIntent bool
}

type SourceChunk struct {
	Index  int    `json:"index"`
	Source string `json:"source"`
	Chunk  string `json:"chunk"`
}

type Result struct {
	Response     string
	Sources      []string
	SourceChunks []SourceChunk
}

// Provider is the uniform generation contract over cloud and local
// model families.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Result, error)
	GenerateSimple(ctx context.Context, prompt string) (string, error)
}

// Streamer is implemented by providers with native token streaming. The
// orchestrator falls back to word-splitting a Generate result otherwise.
type Streamer interface {
	GenerateStream(ctx context.Context, req Request, onToken func(token string) error) (*Result, error)
}

package rag

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/doctalk/doctalk-backend/internal/embeddings"
	"github.com/doctalk/doctalk-backend/internal/logger"
)

// FallbackScore is assigned to SQL-loaded chunks when the vector store
// returns nothing, so downstream ranking still has a number to work with.
const FallbackScore = 0.5

var summaryKeywords = []string{
	"summarize", "summary", "summarise", "brief",
	"overview", "gist", "main points", "key points", "highlights",
}

// IsSummaryIntent reports whether the query asks for a whole-corpus
// summary rather than a targeted question. Matching uses Unicode case
// folding, not just lowercasing.
func IsSummaryIntent(query string) bool {
	q := cases.Fold().String(query)
	for _, kw := range summaryKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// ModeDefaults returns (docK, chatK, recentN) for an LLM mode.
func ModeDefaults(mode string) (int, int, int) {
	if mode == "local" {
		return 10, 2, 4
	}
	return 10, 3, 8
}

// SummaryDefaults widens document recall and drops chat-history recall.
func SummaryDefaults() (int, int, int) { return 20, 0, 4 }

// RetrievedDoc is a document chunk entering the context bundle.
type RetrievedDoc struct {
	Content string
	Source  string
	Score   float64
}

// ContextBundle is everything a chat turn feeds to the LLM.
type ContextBundle struct {
	DocumentChunks      []RetrievedDoc
	RelevantChatHistory []HistoryHit
	RecentContext       []HistoryMessage
	CombinedContext     string
}

// Retriever fuses dense document search, past-Q/A search and a recency
// window. The search callbacks are conversation-scoped by the caller.
type Retriever struct {
	log      *logger.Logger
	embedder embeddings.Embedder

	searchDocs     func(ctx context.Context, queryVec []float32, k int) ([]RetrievedDoc, error)
	fallbackChunks func(ctx context.Context, limit int) ([]RetrievedDoc, error)
}

func NewRetriever(
	log *logger.Logger,
	embedder embeddings.Embedder,
	searchDocs func(ctx context.Context, queryVec []float32, k int) ([]RetrievedDoc, error),
	fallbackChunks func(ctx context.Context, limit int) ([]RetrievedDoc, error),
) *Retriever {
	return &Retriever{
		log:            log.With("service", "HybridRetriever"),
		embedder:       embedder,
		searchDocs:     searchDocs,
		fallbackChunks: fallbackChunks,
	}
}

// BuildContext assembles the ranked bundle for one query.
func (r *Retriever) BuildContext(ctx context.Context, query string, history []HistoryMessage, docK, chatK, recentN int) (*ContextBundle, error) {
	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	docs, err := r.searchDocs(ctx, queryVec, docK)
	if err != nil {
		r.log.Warn("Vector search failed, falling back to SQL chunks", "error", err)
		docs = nil
	}
	if len(docs) == 0 && r.fallbackChunks != nil {
		fallback, ferr := r.fallbackChunks(ctx, docK)
		if ferr != nil {
			r.log.Warn("SQL chunk fallback failed", "error", ferr)
		} else {
			for i := range fallback {
				fallback[i].Score = FallbackScore
			}
			docs = fallback
		}
	}

	var chatHits []HistoryHit
	// recency already covers short conversations
	if chatK > 0 && len(history) > recentN {
		idx, ierr := BuildChatHistoryIndex(ctx, r.embedder, history)
		if ierr != nil {
			r.log.Warn("Chat history index failed", "error", ierr)
		} else {
			chatHits = idx.Search(queryVec, chatK)
		}
	}

	recent := history
	if len(recent) > recentN {
		recent = recent[len(recent)-recentN:]
	}

	bundle := &ContextBundle{
		DocumentChunks:      docs,
		RelevantChatHistory: chatHits,
		RecentContext:       recent,
	}
	bundle.CombinedContext = renderCombinedContext(bundle)
	return bundle, nil
}

func renderCombinedContext(b *ContextBundle) string {
	var sb strings.Builder

	if len(b.DocumentChunks) > 0 {
		sb.WriteString("### Relevant Document Information:\n")
		for _, doc := range b.DocumentChunks {
			sb.WriteString(fmt.Sprintf("[Source: %s]\n%s\n\n", doc.Source, doc.Content))
		}
	}

	if len(b.RelevantChatHistory) > 0 {
		sb.WriteString("### Related Past Discussion:\n")
		for _, hit := range b.RelevantChatHistory {
			sb.WriteString(hit.Text)
			sb.WriteString("\n\n")
		}
	}

	if len(b.RecentContext) > 0 {
		sb.WriteString("### Recent Conversation:\n")
		for _, msg := range b.RecentContext {
			role := "User"
			if msg.Role == "assistant" {
				role = "Assistant"
			}
			sb.WriteString(fmt.Sprintf("%s: %s\n", role, msg.Content))
		}
	}

	return strings.TrimSpace(sb.String())
}

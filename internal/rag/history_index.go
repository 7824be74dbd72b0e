package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/doctalk/doctalk-backend/internal/embeddings"
)

const (
	historyChunkSize    = 300
	historyChunkOverlap = 50
	assistantTruncateAt = 500

	// guards cosine normalization against zero-length embeddings
	cosineEpsilon = 1e-8
)

type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type HistoryHit struct {
	Text      string
	UserQuery string
	Score     float64
}

type historyUnit struct {
	text      string
	userQuery string
	vec       []float32
}

// ChatHistoryIndex is a per-request dense index over past Q/A pairs of
// the active branch. It is rebuilt on every chat turn and never persisted.
type ChatHistoryIndex struct {
	units []historyUnit
}

// BuildChatHistoryIndex pairs each user message with the assistant reply
// that follows it, chunks the pair and embeds every chunk with the
// conversation's embedder.
func BuildChatHistoryIndex(ctx context.Context, emb embeddings.Embedder, history []HistoryMessage) (*ChatHistoryIndex, error) {
	idx := &ChatHistoryIndex{}
	chunker := NewChunker(historyChunkSize, historyChunkOverlap)

	for i := 0; i < len(history); i++ {
		if history[i].Role != "user" {
			continue
		}
		userQuery := history[i].Content
		answer := ""
		if i+1 < len(history) && history[i+1].Role == "assistant" {
			answer = history[i+1].Content
			if len([]rune(answer)) > assistantTruncateAt {
				answer = string([]rune(answer)[:assistantTruncateAt])
			}
		}
		if strings.TrimSpace(userQuery) == "" {
			continue
		}

		unitText := fmt.Sprintf("User: %s\nAssistant: %s", userQuery, answer)
		for _, ch := range chunker.Split(unitText, "chat_history") {
			vec, err := emb.Embed(ctx, ch.Content)
			if err != nil {
				return nil, fmt.Errorf("embed history chunk: %w", err)
			}
			idx.units = append(idx.units, historyUnit{
				text:      ch.Content,
				userQuery: userQuery,
				vec:       vec,
			})
		}
	}
	return idx, nil
}

func (idx *ChatHistoryIndex) Len() int { return len(idx.units) }

// Search scores every unit against queryVec and returns the top k,
// deduplicated by originating user query so one verbose exchange cannot
// occupy every slot.
func (idx *ChatHistoryIndex) Search(queryVec []float32, k int) []HistoryHit {
	if k <= 0 || len(idx.units) == 0 {
		return nil
	}

	scored := make([]HistoryHit, 0, len(idx.units))
	for _, u := range idx.units {
		scored = append(scored, HistoryHit{
			Text:      u.text,
			UserQuery: u.userQuery,
			Score:     cosine(queryVec, u.vec),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	seen := make(map[string]bool)
	out := make([]HistoryHit, 0, k)
	for _, hit := range scored {
		key := queryPrefixKey(hit.UserQuery)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, hit)
		if len(out) == k {
			break
		}
	}
	return out
}

func queryPrefixKey(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	runes := []rune(q)
	if len(runes) > 80 {
		runes = runes[:80]
	}
	return string(runes)
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(na)*math.Sqrt(nb) + cosineEpsilon
	return dot / denom
}

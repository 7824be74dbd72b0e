package rag

import (
	"context"
	"strings"
	"testing"
)

// fakeEmbedder produces deterministic 8-dim vectors from character
// histograms, good enough to rank exact-overlap text first.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for _, r := range strings.ToLower(text) {
		vec[int(r)%8]++
	}
	return vec, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (fakeEmbedder) Dimension() int  { return 8 }
func (fakeEmbedder) Profile() string { return "fake" }

func TestBuildChatHistoryIndexPairsQA(t *testing.T) {
	history := []HistoryMessage{
		{Role: "user", Content: "what is the capital of France"},
		{Role: "assistant", Content: "Paris is the capital of France."},
		{Role: "user", Content: "and of Germany"},
		{Role: "assistant", Content: "Berlin."},
	}
	idx, err := BuildChatHistoryIndex(context.Background(), fakeEmbedder{}, history)
	if err != nil {
		t.Fatalf("BuildChatHistoryIndex: %v", err)
	}
	if idx.Len() < 2 {
		t.Fatalf("expected at least one unit per Q/A pair, got %d", idx.Len())
	}
}

func TestHistoryIndexTruncatesAssistant(t *testing.T) {
	long := strings.Repeat("word ", 300)
	history := []HistoryMessage{
		{Role: "user", Content: "tell me everything"},
		{Role: "assistant", Content: long},
	}
	idx, err := BuildChatHistoryIndex(context.Background(), fakeEmbedder{}, history)
	if err != nil {
		t.Fatalf("BuildChatHistoryIndex: %v", err)
	}
	for _, u := range idx.units {
		if n := len([]rune(u.text)); n > historyChunkSize {
			t.Fatalf("unit chunk exceeds %d runes: %d", historyChunkSize, n)
		}
	}
}

func TestHistoryIndexSearchDedupsAndCaps(t *testing.T) {
	history := []HistoryMessage{
		{Role: "user", Content: strings.Repeat("alpha beta gamma delta ", 30)},
		{Role: "assistant", Content: strings.Repeat("epsilon zeta ", 60)},
		{Role: "user", Content: "different topic entirely"},
		{Role: "assistant", Content: "yes, quite different"},
	}
	idx, err := BuildChatHistoryIndex(context.Background(), fakeEmbedder{}, history)
	if err != nil {
		t.Fatalf("BuildChatHistoryIndex: %v", err)
	}

	qv, _ := fakeEmbedder{}.Embed(context.Background(), "alpha beta gamma")
	hits := idx.Search(qv, 3)
	if len(hits) > 3 {
		t.Fatalf("len(search) exceeds k: %d", len(hits))
	}
	seen := map[string]bool{}
	for _, h := range hits {
		key := queryPrefixKey(h.UserQuery)
		if seen[key] {
			t.Fatalf("duplicate user query in results: %q", h.UserQuery)
		}
		seen[key] = true
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Fatalf("scores not monotone non-increasing at %d", i)
		}
	}
}

func TestHistoryIndexEmptyEmbeddingsNoPanic(t *testing.T) {
	idx := &ChatHistoryIndex{units: []historyUnit{{text: "t", userQuery: "q", vec: []float32{0, 0}}}}
	hits := idx.Search([]float32{0, 0}, 1)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
}

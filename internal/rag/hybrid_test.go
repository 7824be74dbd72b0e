package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/doctalk/doctalk-backend/internal/logger"
)

func TestIsSummaryIntent(t *testing.T) {
	positives := []string{
		"Summarize this document",
		"give me a SUMMARY",
		"can you summarise?",
		"just a brief please",
		"overview of chapter 2",
		"what's the gist",
		"main points only",
		"key points please",
		"show the highlights",
		// long s folds to "s", which plain lowercasing misses
		"pleaſe ſummarize this",
		"the ﬁle needs a ſummary",
	}
	for _, q := range positives {
		if !IsSummaryIntent(q) {
			t.Fatalf("expected summary intent for %q", q)
		}
	}
	negatives := []string{
		"what is the deadline in the contract",
		"who signed page 3",
	}
	for _, q := range negatives {
		if IsSummaryIntent(q) {
			t.Fatalf("unexpected summary intent for %q", q)
		}
	}
}

func TestModeDefaults(t *testing.T) {
	dk, ck, rn := ModeDefaults("local")
	if dk != 10 || ck != 2 || rn != 4 {
		t.Fatalf("local defaults: got %d/%d/%d", dk, ck, rn)
	}
	dk, ck, rn = ModeDefaults("cloud")
	if dk != 10 || ck != 3 || rn != 8 {
		t.Fatalf("cloud defaults: got %d/%d/%d", dk, ck, rn)
	}
	dk, ck, rn = SummaryDefaults()
	if dk != 20 || ck != 0 || rn != 4 {
		t.Fatalf("summary defaults: got %d/%d/%d", dk, ck, rn)
	}
}

func TestBuildContextUsesVectorHits(t *testing.T) {
	r := NewRetriever(logger.NewNop(), fakeEmbedder{},
		func(ctx context.Context, queryVec []float32, k int) ([]RetrievedDoc, error) {
			return []RetrievedDoc{{Content: "relevant text", Source: "a.txt", Score: 0.9}}, nil
		},
		func(ctx context.Context, limit int) ([]RetrievedDoc, error) {
			t.Fatalf("fallback must not run when vector search succeeds")
			return nil, nil
		},
	)
	bundle, err := r.BuildContext(context.Background(), "question", nil, 10, 2, 4)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(bundle.DocumentChunks) != 1 || bundle.DocumentChunks[0].Source != "a.txt" {
		t.Fatalf("unexpected chunks: %+v", bundle.DocumentChunks)
	}
	if !strings.Contains(bundle.CombinedContext, "Relevant Document Information") {
		t.Fatalf("combined context missing document section: %q", bundle.CombinedContext)
	}
}

func TestBuildContextFallsBackToSQLChunks(t *testing.T) {
	r := NewRetriever(logger.NewNop(), fakeEmbedder{},
		func(ctx context.Context, queryVec []float32, k int) ([]RetrievedDoc, error) {
			return nil, errors.New("qdrant down")
		},
		func(ctx context.Context, limit int) ([]RetrievedDoc, error) {
			return []RetrievedDoc{{Content: "raw chunk", Source: "b.txt"}}, nil
		},
	)
	bundle, err := r.BuildContext(context.Background(), "question", nil, 10, 2, 4)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(bundle.DocumentChunks) != 1 {
		t.Fatalf("expected fallback chunk, got %d", len(bundle.DocumentChunks))
	}
	if bundle.DocumentChunks[0].Score != FallbackScore {
		t.Fatalf("fallback score: want=%v got=%v", FallbackScore, bundle.DocumentChunks[0].Score)
	}
}

func TestBuildContextRecencyWindow(t *testing.T) {
	history := []HistoryMessage{
		{Role: "user", Content: "m1"},
		{Role: "assistant", Content: "m2"},
		{Role: "user", Content: "m3"},
		{Role: "assistant", Content: "m4"},
		{Role: "user", Content: "m5"},
		{Role: "assistant", Content: "m6"},
	}
	r := NewRetriever(logger.NewNop(), fakeEmbedder{},
		func(ctx context.Context, queryVec []float32, k int) ([]RetrievedDoc, error) {
			return []RetrievedDoc{{Content: "c", Source: "s", Score: 1}}, nil
		},
		nil,
	)
	bundle, err := r.BuildContext(context.Background(), "q", history, 5, 2, 4)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(bundle.RecentContext) != 4 {
		t.Fatalf("recent window: want=4 got=%d", len(bundle.RecentContext))
	}
	if bundle.RecentContext[0].Content != "m3" {
		t.Fatalf("recent window start: got=%q", bundle.RecentContext[0].Content)
	}
	// 6 messages > recentN=4, so relevant history search engages
	if len(bundle.RelevantChatHistory) == 0 {
		t.Fatalf("expected relevant chat history for long conversations")
	}
}

func TestBuildContextSkipsChatIndexForShortHistory(t *testing.T) {
	history := []HistoryMessage{
		{Role: "user", Content: "m1"},
		{Role: "assistant", Content: "m2"},
	}
	r := NewRetriever(logger.NewNop(), fakeEmbedder{},
		func(ctx context.Context, queryVec []float32, k int) ([]RetrievedDoc, error) {
			return nil, nil
		},
		nil,
	)
	bundle, err := r.BuildContext(context.Background(), "q", history, 5, 2, 4)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(bundle.RelevantChatHistory) != 0 {
		t.Fatalf("chat history index should be skipped when recency covers it")
	}
}

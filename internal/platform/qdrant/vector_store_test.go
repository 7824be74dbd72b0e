package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/rag"
)

func TestLengthBoostBrackets(t *testing.T) {
	cases := []struct {
		length int
		want   float64
	}{
		{0, -0.05},
		{99, -0.05},
		{100, 0},
		{199, 0},
		{200, 0.03},
		{399, 0.03},
		{400, 0.04},
		{500, 0.05},
		{800, 0.08},
		{5000, 0.08},
	}
	for _, tc := range cases {
		if got := LengthBoost(tc.length); got != tc.want {
			t.Fatalf("LengthBoost(%d): want=%v got=%v", tc.length, tc.want, got)
		}
	}
}

func TestLengthBoostMonotoneAbove400(t *testing.T) {
	prev := LengthBoost(400)
	for l := 401; l <= 1000; l++ {
		cur := LengthBoost(l)
		if cur < prev {
			t.Fatalf("boost decreased at len=%d: %v < %v", l, cur, prev)
		}
		prev = cur
	}
}

func TestPointIDDeterministic(t *testing.T) {
	a := PointID(7, "doc.txt", 3, 0, "some chunk content")
	b := PointID(7, "doc.txt", 3, 0, "some chunk content")
	if a != b {
		t.Fatalf("point id not deterministic: %q vs %q", a, b)
	}
	c := PointID(7, "doc.txt", 3, 1, "some chunk content")
	if a == c {
		t.Fatalf("point id ignores chunk index")
	}
}

func TestPointIDTruncatesContentAt100(t *testing.T) {
	long := strings.Repeat("a", 100)
	a := PointID(1, "s", 1, 0, long+"tail-one")
	b := PointID(1, "s", 1, 0, long+"tail-two")
	if a != b {
		t.Fatalf("content beyond 100 bytes must not affect the id")
	}
}

func newTestStore(t *testing.T, handler http.Handler) (VectorStore, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	vs, err := NewVectorStoreWithHTTPClient(logger.NewNop(), Config{
		URL:        srv.URL,
		Collection: "doctalk_chunks",
		VectorDim:  3,
		Timeout:    5 * time.Second,
	}, srv.Client())
	if err != nil {
		t.Fatalf("NewVectorStore: %v", err)
	}
	return vs, srv
}

func TestSearchReordersByAdjustedScore(t *testing.T) {
	short := strings.Repeat("s", 80)
	long := strings.Repeat("l", 500)

	vs, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/points/search") {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		rows := []map[string]any{
			{"id": "a", "score": 0.80, "payload": map[string]any{
				"content": short, "source": "a.txt", "chunk_index": 0, "document_id": 1,
			}},
			{"id": "b", "score": 0.77, "payload": map[string]any{
				"content": long, "source": "b.txt", "chunk_index": 0, "document_id": 2,
			}},
		}
		raw, _ := json.Marshal(rows)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": json.RawMessage(raw), "status": "ok"})
	}))

	hits, err := vs.Search(context.Background(), 1, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits: want=2 got=%d", len(hits))
	}
	// 0.77 + boost(500)=0.05 -> 0.82 beats 0.80 + boost(80)=-0.05 -> 0.75
	if hits[0].Metadata.Source != "b.txt" {
		t.Fatalf("length boost did not promote the long chunk: first=%q", hits[0].Metadata.Source)
	}
	if hits[0].AdjustedScore <= hits[1].AdjustedScore {
		t.Fatalf("scores not monotone: %v then %v", hits[0].AdjustedScore, hits[1].AdjustedScore)
	}
}

func TestSearchSendsConversationFilter(t *testing.T) {
	var captured map[string]any
	vs, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": json.RawMessage("[]"), "status": "ok"})
	}))

	_, err := vs.Search(context.Background(), 42, []float32{0, 1, 0}, 5, []int64{7, 9})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	filter, _ := captured["filter"].(map[string]any)
	must, _ := filter["must"].([]any)
	if len(must) != 2 {
		t.Fatalf("filter must clauses: want=2 got=%d (%v)", len(must), filter)
	}
	first, _ := must[0].(map[string]any)
	if first["key"] != "conversation_id" {
		t.Fatalf("first clause key: got=%v", first["key"])
	}
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	vs, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": json.RawMessage("{}"), "status": "ok"})
	}))

	err := vs.Upsert(context.Background(), 1, 1, []EmbeddedChunk{{
		Chunk:  rag.Chunk{Content: "x", Metadata: rag.ChunkMetadata{Source: "a"}},
		Vector: []float32{1, 2},
	}})
	if err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestDeleteByConversationReturnsOperationID(t *testing.T) {
	vs, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(strings.SplitN(r.URL.String(), "?", 2)[0], "/points/delete") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": json.RawMessage(`{"operation_id": 1234, "status": "acknowledged"}`),
			"status": "ok",
		})
	}))

	opID, err := vs.DeleteByConversation(context.Background(), 9)
	if err != nil {
		t.Fatalf("DeleteByConversation: %v", err)
	}
	if opID != "1234" {
		t.Fatalf("operation id: want=1234 got=%q", opID)
	}
}

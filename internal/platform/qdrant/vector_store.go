package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/rag"
)

type Config struct {
	URL        string
	Collection string
	VectorDim  int
	Timeout    time.Duration
}

// EmbeddedChunk pairs a chunk with its vector for upsert.
type EmbeddedChunk struct {
	Chunk  rag.Chunk
	Vector []float32
}

// Hit is one search result after length-aware rescoring.
type Hit struct {
	Content       string
	Metadata      rag.ChunkMetadata
	DocumentID    int64
	RawScore      float64
	AdjustedScore float64
}

type VectorStore interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, conversationID int64, documentID int64, chunks []EmbeddedChunk) error
	Search(ctx context.Context, conversationID int64, queryVec []float32, k int, activeDocIDs []int64) ([]Hit, error)
	DeleteByDocument(ctx context.Context, conversationID, documentID int64) (string, error)
	DeleteByConversation(ctx context.Context, conversationID int64) (string, error)
}

type vectorStore struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

func NewVectorStore(log *logger.Logger, cfg Config) (VectorStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, opErr(ErrorCodeConfig, "new", fmt.Errorf("url required"))
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, opErr(ErrorCodeConfig, "new", fmt.Errorf("collection required"))
	}
	if cfg.VectorDim <= 0 {
		return nil, opErr(ErrorCodeConfig, "new", fmt.Errorf("vector dim required"))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &vectorStore{
		log:     log.With("service", "QdrantVectorStore", "collection", cfg.Collection),
		cfg:     cfg,
		baseURL: baseURL,
		http:    &http.Client{Transport: tr},
	}, nil
}

// NewVectorStoreWithHTTPClient is intended for tests.
func NewVectorStoreWithHTTPClient(log *logger.Logger, cfg Config, httpClient *http.Client) (VectorStore, error) {
	vs, err := NewVectorStore(log, cfg)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		vs.(*vectorStore).http = httpClient
	}
	return vs, nil
}

// PointID derives the deterministic uuidv5 id for a chunk. Identical
// input always maps to the same point, which makes upsert idempotent.
func PointID(conversationID int64, source string, documentID int64, chunkIndex int, content string) string {
	preview := content
	if len(preview) > 100 {
		preview = preview[:100]
	}
	name := fmt.Sprintf("%d:%s:%d:%d:%s", conversationID, source, documentID, chunkIndex, preview)
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}

// LengthBoost rewards substantive chunks and penalizes index-like
// fragments that win pure cosine by being short.
func LengthBoost(contentLen int) float64 {
	switch {
	case contentLen < 100:
		return -0.05
	case contentLen < 200:
		return 0
	case contentLen < 400:
		return 0.03
	default:
		boost := float64(contentLen) / 10000
		if boost > 0.08 {
			boost = 0.08
		}
		return boost
	}
}

// ---------------- wire types ----------------

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status any             `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type searchResultRow struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (s *vectorStore) collectionPath(parts ...string) string {
	path := "/collections/" + s.cfg.Collection
	if len(parts) > 0 {
		path += "/" + strings.Join(parts, "/")
	}
	return path
}

func (s *vectorStore) EnsureCollection(ctx context.Context) error {
	var probe qdrantEnvelope
	err := s.doJSON(ctx, "GET", s.collectionPath(), nil, &probe)
	if err == nil {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.cfg.VectorDim,
			"distance": "Cosine",
		},
	}
	var out qdrantEnvelope
	if err := s.doJSON(ctx, "PUT", s.collectionPath(), body, &out); err != nil {
		return opErr(ErrorCodeHTTPStatus, "ensure_collection", err)
	}
	s.log.Info("Created qdrant collection", "dim", s.cfg.VectorDim)
	return nil
}

func (s *vectorStore) Upsert(ctx context.Context, conversationID int64, documentID int64, chunks []EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]qdrantPoint, 0, len(chunks))
	for _, ec := range chunks {
		if len(ec.Vector) != s.cfg.VectorDim {
			return opErr(ErrorCodeDimMismatch, "upsert",
				fmt.Errorf("vector dim %d, collection dim %d", len(ec.Vector), s.cfg.VectorDim))
		}
		points = append(points, qdrantPoint{
			ID:     PointID(conversationID, ec.Chunk.Metadata.Source, documentID, ec.Chunk.Metadata.ChunkIndex, ec.Chunk.Content),
			Vector: ec.Vector,
			Payload: map[string]any{
				"conversation_id": conversationID,
				"document_id":     documentID,
				"source":          ec.Chunk.Metadata.Source,
				"chunk_index":     ec.Chunk.Metadata.ChunkIndex,
				"content":         ec.Chunk.Content,
			},
		})
	}

	body := map[string]any{"points": points}
	var out qdrantEnvelope
	if err := s.doJSON(ctx, "PUT", s.collectionPath("points")+"?wait=true", body, &out); err != nil {
		return opErr(ErrorCodeHTTPStatus, "upsert", err)
	}
	s.log.Debug("Upserted points", "conversation_id", conversationID, "document_id", documentID, "count", len(points))
	return nil
}

func (s *vectorStore) Search(ctx context.Context, conversationID int64, queryVec []float32, k int, activeDocIDs []int64) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(queryVec) != s.cfg.VectorDim {
		return nil, opErr(ErrorCodeDimMismatch, "search",
			fmt.Errorf("query dim %d, collection dim %d", len(queryVec), s.cfg.VectorDim))
	}

	must := []map[string]any{
		{"key": "conversation_id", "match": map[string]any{"value": conversationID}},
	}
	if activeDocIDs != nil {
		must = append(must, map[string]any{
			"key":   "document_id",
			"match": map[string]any{"any": activeDocIDs},
		})
	}

	body := map[string]any{
		"vector":       queryVec,
		"limit":        k,
		"with_payload": true,
		"filter":       map[string]any{"must": must},
	}

	var out qdrantEnvelope
	if err := s.doJSON(ctx, "POST", s.collectionPath("points", "search"), body, &out); err != nil {
		return nil, opErr(ErrorCodeHTTPStatus, "search", err)
	}

	var rows []searchResultRow
	if err := json.Unmarshal(out.Result, &rows); err != nil {
		return nil, opErr(ErrorCodeDecode, "search", err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		content, _ := row.Payload["content"].(string)
		source, _ := row.Payload["source"].(string)
		chunkIdx := payloadInt(row.Payload["chunk_index"])
		docID := payloadInt(row.Payload["document_id"])
		hits = append(hits, Hit{
			Content: content,
			Metadata: rag.ChunkMetadata{
				Source:     source,
				ChunkIndex: chunkIdx,
				ChunkID:    chunkIdx,
			},
			DocumentID:    int64(docID),
			RawScore:      row.Score,
			AdjustedScore: row.Score + LengthBoost(len(content)),
		})
	}

	// stable: equal adjusted scores keep qdrant's ranking order
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].AdjustedScore > hits[j].AdjustedScore
	})
	return hits, nil
}

func (s *vectorStore) DeleteByDocument(ctx context.Context, conversationID, documentID int64) (string, error) {
	filter := map[string]any{
		"must": []map[string]any{
			{"key": "conversation_id", "match": map[string]any{"value": conversationID}},
			{"key": "document_id", "match": map[string]any{"value": documentID}},
		},
	}
	return s.deleteByFilter(ctx, "delete_by_document", filter)
}

func (s *vectorStore) DeleteByConversation(ctx context.Context, conversationID int64) (string, error) {
	filter := map[string]any{
		"must": []map[string]any{
			{"key": "conversation_id", "match": map[string]any{"value": conversationID}},
		},
	}
	return s.deleteByFilter(ctx, "delete_by_conversation", filter)
}

func (s *vectorStore) deleteByFilter(ctx context.Context, op string, filter map[string]any) (string, error) {
	body := map[string]any{"filter": filter}
	var out qdrantEnvelope
	if err := s.doJSON(ctx, "POST", s.collectionPath("points", "delete")+"?wait=true", body, &out); err != nil {
		return "", opErr(ErrorCodeHTTPStatus, op, err)
	}
	var result struct {
		OperationID *int64 `json:"operation_id"`
		Status      string `json:"status"`
	}
	if len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, &result); err != nil {
			return "", opErr(ErrorCodeDecode, op, err)
		}
	}
	if result.OperationID != nil {
		return fmt.Sprintf("%d", *result.OperationID), nil
	}
	return result.Status, nil
}

func (s *vectorStore) doJSON(ctx context.Context, method, path string, body any, out *qdrantEnvelope) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	ctx2, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx2, method, s.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return opErr(ErrorCodeHTTPCall, method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func payloadInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

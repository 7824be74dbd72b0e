package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/embeddings"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/pkg/dbctx"
	"github.com/doctalk/doctalk-backend/internal/platform/qdrant"
	"github.com/doctalk/doctalk-backend/internal/rag"
	"github.com/doctalk/doctalk-backend/internal/repos"
	"github.com/doctalk/doctalk-backend/internal/types"
)

const defaultMaxFileSize = 20 << 20 // 20 MB

type UploadFile struct {
	Filename string
	Data     []byte
}

type UploadResult struct {
	Conversation *types.Conversation
	Documents    []types.Document
	// Per-file failures that did not abort the upload (bad type, empty
	// text, oversize). The request fails only when nothing decodes.
	Errors []string
}

type DocumentServiceConfig struct {
	MaxFileSize      int64
	EmbeddingProfile string
}

// DocumentService owns the ingestion pipeline: decode, persist, chunk,
// embed, index. Vector writes happen inside the DB transaction so a
// failed index rolls the relational rows back too.
type DocumentService struct {
	log     *logger.Logger
	db      *gorm.DB
	convs   repos.ConversationRepo
	docs    repos.DocumentRepo
	chunks  repos.ChunkRepo
	chunker *rag.Chunker
	reg     *embeddings.Registry
	vectors qdrant.VectorStore
	decoder DocumentDecoder
	cfg     DocumentServiceConfig
}

func NewDocumentService(
	log *logger.Logger,
	db *gorm.DB,
	convs repos.ConversationRepo,
	docs repos.DocumentRepo,
	chunks repos.ChunkRepo,
	chunker *rag.Chunker,
	reg *embeddings.Registry,
	vectors qdrant.VectorStore,
	decoder DocumentDecoder,
	cfg DocumentServiceConfig,
) *DocumentService {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	return &DocumentService{
		log:     log.With("service", "DocumentService"),
		db:      db,
		convs:   convs,
		docs:    docs,
		chunks:  chunks,
		chunker: chunker,
		reg:     reg,
		vectors: vectors,
		decoder: decoder,
		cfg:     cfg,
	}
}

type decodedFile struct {
	filename string
	text     string
}

func (s *DocumentService) decodeAll(files []UploadFile) ([]decodedFile, []string, error) {
	if len(files) == 0 {
		return nil, nil, apperr.New(apperr.KindInvalid, "no files provided")
	}
	var decoded []decodedFile
	var failures []string
	var firstErr error
	for _, f := range files {
		if int64(len(f.Data)) > s.cfg.MaxFileSize {
			err := apperr.Newf(apperr.KindTooLarge, "%s exceeds the %d MB limit", f.Filename, s.cfg.MaxFileSize>>20)
			failures = append(failures, err.Error())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		text, err := s.decoder.Decode(f.Data, f.Filename)
		if err != nil {
			failures = append(failures, err.Error())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		decoded = append(decoded, decodedFile{filename: f.Filename, text: text})
	}
	if len(decoded) == 0 {
		if firstErr != nil {
			return nil, failures, firstErr
		}
		return nil, failures, apperr.New(apperr.KindNoContent, "no files could be decoded")
	}
	return decoded, failures, nil
}

// Upload decodes the files, creates a conversation pinned to the
// configured embedding profile, and indexes everything.
func (s *DocumentService) Upload(ctx context.Context, userID int64, files []UploadFile, llmMode string) (*UploadResult, error) {
	decoded, failures, err := s.decodeAll(files)
	if err != nil {
		return nil, err
	}

	embedder, err := s.reg.Get(s.cfg.EmbeddingProfile)
	if err != nil {
		return nil, err
	}
	if err := s.vectors.EnsureCollection(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, "vector store unavailable", err)
	}

	if llmMode != "local" {
		llmMode = "cloud"
	}
	conv := &types.Conversation{
		UserID:           userID,
		Title:            decoded[0].filename,
		LLMMode:          llmMode,
		EmbeddingProfile: embedder.Profile(),
		EmbeddingDim:     embedder.Dimension(),
	}

	var docs []types.Document
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.convs.Create(dbc, conv); err != nil {
			return err
		}
		created, err := s.ingest(ctx, dbc, embedder, conv.ID, decoded)
		if err != nil {
			return err
		}
		docs = created
		return nil
	})
	if err != nil {
		// the transaction rolled back; drop any vectors that made it in
		if _, derr := s.vectors.DeleteByConversation(ctx, conv.ID); derr != nil {
			s.log.Warn("Vector cleanup after failed upload", "conversation_id", conv.ID, "error", derr)
		}
		return nil, err
	}

	s.log.Info("Upload complete", "conversation_id", conv.ID, "documents", len(docs), "failures", len(failures))
	return &UploadResult{Conversation: conv, Documents: docs, Errors: failures}, nil
}

// AddDocuments indexes more files into an existing conversation using
// its pinned embedding profile.
func (s *DocumentService) AddDocuments(ctx context.Context, userID, conversationID int64, files []UploadFile) (*UploadResult, error) {
	dbc := dbctx.Context{Ctx: ctx}
	conv, err := s.convs.GetOwned(dbc, conversationID, userID)
	if err != nil {
		return nil, err
	}

	decoded, failures, err := s.decodeAll(files)
	if err != nil {
		return nil, err
	}

	embedder, err := s.reg.Get(conv.EmbeddingProfile)
	if err != nil {
		return nil, err
	}

	var docs []types.Document
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		created, err := s.ingest(ctx, txc, embedder, conv.ID, decoded)
		if err != nil {
			return err
		}
		docs = created
		return s.convs.Touch(txc, conv.ID)
	})
	if err != nil {
		for _, doc := range docs {
			if _, derr := s.vectors.DeleteByDocument(ctx, conv.ID, doc.ID); derr != nil {
				s.log.Warn("Vector cleanup after failed add", "document_id", doc.ID, "error", derr)
			}
		}
		return nil, err
	}

	return &UploadResult{Conversation: conv, Documents: docs, Errors: failures}, nil
}

// ingest persists one document per decoded file, chunks it, embeds the
// chunks and upserts them into the vector store.
func (s *DocumentService) ingest(ctx context.Context, dbc dbctx.Context, embedder embeddings.Embedder, conversationID int64, decoded []decodedFile) ([]types.Document, error) {
	docs := make([]types.Document, 0, len(decoded))
	for _, file := range decoded {
		doc := types.Document{
			ConversationID: conversationID,
			Filename:       file.filename,
			Kind:           "file",
			Content:        file.text,
			Active:         true,
		}
		if err := s.docs.Create(dbc, &doc); err != nil {
			return nil, err
		}

		chunks := s.chunker.Split(file.text, file.filename)
		if len(chunks) == 0 {
			return nil, apperr.Newf(apperr.KindNoContent, "no chunks produced for %s", file.filename)
		}

		rows := make([]types.DocumentChunk, 0, len(chunks))
		contents := make([]string, 0, len(chunks))
		docID := doc.ID
		for _, ch := range chunks {
			if ch.Metadata.Source != file.filename {
				return nil, apperr.Newf(apperr.KindInternal, "chunk source %q does not map to an uploaded document", ch.Metadata.Source)
			}
			rows = append(rows, types.DocumentChunk{
				ConversationID: conversationID,
				DocumentID:     &docID,
				ChunkIndex:     ch.Metadata.ChunkIndex,
				Content:        ch.Content,
			})
			contents = append(contents, ch.Content)
		}
		if err := s.chunks.CreateBatch(dbc, rows); err != nil {
			return nil, err
		}

		vecs, err := embedder.EmbedBatch(ctx, contents)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindProvider, fmt.Sprintf("embedding failed for %s", file.filename), err)
		}
		embedded := make([]qdrant.EmbeddedChunk, len(chunks))
		for i := range chunks {
			embedded[i] = qdrant.EmbeddedChunk{Chunk: chunks[i], Vector: vecs[i]}
		}
		if err := s.vectors.Upsert(ctx, conversationID, doc.ID, embedded); err != nil {
			return nil, apperr.Wrap(apperr.KindProvider, fmt.Sprintf("vector indexing failed for %s", file.filename), err)
		}

		docs = append(docs, doc)
	}
	return docs, nil
}

// SetActive toggles a document's participation in retrieval.
func (s *DocumentService) SetActive(ctx context.Context, userID, documentID int64, active bool) (*types.Document, error) {
	dbc := dbctx.Context{Ctx: ctx}
	doc, err := s.docs.GetByID(dbc, documentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.convs.GetOwned(dbc, doc.ConversationID, userID); err != nil {
		return nil, err
	}
	if err := s.docs.SetActive(dbc, documentID, active); err != nil {
		return nil, err
	}
	doc.Active = active
	return doc, nil
}

// ListByConversation returns the conversation's documents after an
// ownership check.
func (s *DocumentService) ListByConversation(ctx context.Context, userID, conversationID int64) ([]types.Document, error) {
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.convs.GetOwned(dbc, conversationID, userID); err != nil {
		return nil, err
	}
	return s.docs.ListByConversation(dbc, conversationID)
}

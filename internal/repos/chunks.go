package repos

import (
	"gorm.io/gorm"

	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/pkg/dbctx"
	"github.com/doctalk/doctalk-backend/internal/types"
)

type ChunkRepo interface {
	CreateBatch(dbc dbctx.Context, chunks []types.DocumentChunk) error
	ListByConversation(dbc dbctx.Context, conversationID int64, limit int) ([]types.DocumentChunk, error)
	ListByDocuments(dbc dbctx.Context, conversationID int64, documentIDs []int64, limit int) ([]types.DocumentChunk, error)
	DeleteByDocument(dbc dbctx.Context, documentID int64) error
	DeleteByConversation(dbc dbctx.Context, conversationID int64) error
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, log *logger.Logger) ChunkRepo {
	return &chunkRepo{db: db, log: log.With("repo", "ChunkRepo")}
}

func (r *chunkRepo) CreateBatch(dbc dbctx.Context, chunks []types.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).CreateInBatches(chunks, 200).Error
}

func (r *chunkRepo) ListByConversation(dbc dbctx.Context, conversationID int64, limit int) ([]types.DocumentChunk, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	q := txx.WithContext(dbc.Ctx).
		Where("conversation_id = ?", conversationID).
		Order("document_id ASC, chunk_index ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var chunks []types.DocumentChunk
	if err := q.Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *chunkRepo) ListByDocuments(dbc dbctx.Context, conversationID int64, documentIDs []int64, limit int) ([]types.DocumentChunk, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	q := txx.WithContext(dbc.Ctx).
		Where("conversation_id = ? AND document_id IN ?", conversationID, documentIDs).
		Order("document_id ASC, chunk_index ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var chunks []types.DocumentChunk
	if err := q.Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *chunkRepo) DeleteByDocument(dbc dbctx.Context, documentID int64) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Delete(&types.DocumentChunk{}, "document_id = ?", documentID).Error
}

func (r *chunkRepo) DeleteByConversation(dbc dbctx.Context, conversationID int64) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Delete(&types.DocumentChunk{}, "conversation_id = ?", conversationID).Error
}

package repos

import (
	"errors"

	"gorm.io/gorm"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/pkg/dbctx"
	"github.com/doctalk/doctalk-backend/internal/types"
)

type DocumentRepo interface {
	Create(dbc dbctx.Context, doc *types.Document) error
	GetByID(dbc dbctx.Context, id int64) (*types.Document, error)
	ListByConversation(dbc dbctx.Context, conversationID int64) ([]types.Document, error)
	ListActiveByConversation(dbc dbctx.Context, conversationID int64) ([]types.Document, error)
	SetActive(dbc dbctx.Context, id int64, active bool) error
	Delete(dbc dbctx.Context, id int64) error
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, log *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: log.With("repo", "DocumentRepo")}
}

func (r *documentRepo) Create(dbc dbctx.Context, doc *types.Document) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).Create(doc).Error
}

func (r *documentRepo) GetByID(dbc dbctx.Context, id int64) (*types.Document, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var doc types.Document
	if err := txx.WithContext(dbc.Ctx).First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "document not found")
		}
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) ListByConversation(dbc dbctx.Context, conversationID int64) ([]types.Document, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var docs []types.Document
	if err := txx.WithContext(dbc.Ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *documentRepo) ListActiveByConversation(dbc dbctx.Context, conversationID int64) ([]types.Document, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var docs []types.Document
	if err := txx.WithContext(dbc.Ctx).
		Where("conversation_id = ? AND active = ?", conversationID, true).
		Order("id ASC").
		Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *documentRepo) SetActive(dbc dbctx.Context, id int64, active bool) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).
		Model(&types.Document{}).
		Where("id = ?", id).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "document not found")
	}
	return nil
}

func (r *documentRepo) Delete(dbc dbctx.Context, id int64) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).Delete(&types.Document{}, "id = ?", id).Error
}

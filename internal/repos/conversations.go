package repos

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/pkg/dbctx"
	"github.com/doctalk/doctalk-backend/internal/types"
)

type ConversationRepo interface {
	Create(dbc dbctx.Context, conv *types.Conversation) error
	GetByID(dbc dbctx.Context, id int64) (*types.Conversation, error)
	GetOwned(dbc dbctx.Context, id, userID int64) (*types.Conversation, error)
	ListByUser(dbc dbctx.Context, userID int64) ([]types.Conversation, error)
	Touch(dbc dbctx.Context, id int64) error
	UpdateFields(dbc dbctx.Context, id int64, fields map[string]any) error
	Delete(dbc dbctx.Context, id int64) error
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, log *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: log.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) Create(dbc dbctx.Context, conv *types.Conversation) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).Create(conv).Error
}

func (r *conversationRepo) GetByID(dbc dbctx.Context, id int64) (*types.Conversation, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var conv types.Conversation
	if err := txx.WithContext(dbc.Ctx).First(&conv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "conversation not found")
		}
		return nil, err
	}
	return &conv, nil
}

// GetOwned fetches a conversation and enforces tenant ownership in one query.
func (r *conversationRepo) GetOwned(dbc dbctx.Context, id, userID int64) (*types.Conversation, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var conv types.Conversation
	if err := txx.WithContext(dbc.Ctx).First(&conv, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "conversation not found")
		}
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepo) ListByUser(dbc dbctx.Context, userID int64) ([]types.Conversation, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var convs []types.Conversation
	if err := txx.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

func (r *conversationRepo) Touch(dbc dbctx.Context, id int64) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", time.Now().UTC()).Error
}

func (r *conversationRepo) UpdateFields(dbc dbctx.Context, id int64, fields map[string]any) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *conversationRepo) Delete(dbc dbctx.Context, id int64) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).Delete(&types.Conversation{}, "id = ?", id).Error
}

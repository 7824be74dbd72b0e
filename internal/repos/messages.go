package repos

import (
	"errors"

	"gorm.io/gorm"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/pkg/dbctx"
	"github.com/doctalk/doctalk-backend/internal/types"
)

type MessageRepo interface {
	Create(dbc dbctx.Context, msg *types.ChatMessage) error
	GetByID(dbc dbctx.Context, id int64) (*types.ChatMessage, error)
	ListByConversation(dbc dbctx.Context, conversationID int64, includeArchived bool) ([]types.ChatMessage, error)
	LastAssistant(dbc dbctx.Context, conversationID int64) (*types.ChatMessage, error)
	LastUser(dbc dbctx.Context, conversationID int64) (*types.ChatMessage, error)
	ListByEditGroup(dbc dbctx.Context, editGroupID int64) ([]types.ChatMessage, error)
	MaxVersionIndex(dbc dbctx.Context, editGroupID int64) (int, error)
	UpdateFields(dbc dbctx.Context, id int64, fields map[string]any) error
	Delete(dbc dbctx.Context, id int64) error
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, log *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: log.With("repo", "MessageRepo")}
}

func (r *messageRepo) Create(dbc dbctx.Context, msg *types.ChatMessage) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).Create(msg).Error
}

func (r *messageRepo) GetByID(dbc dbctx.Context, id int64) (*types.ChatMessage, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var msg types.ChatMessage
	if err := txx.WithContext(dbc.Ctx).First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "message not found")
		}
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) ListByConversation(dbc dbctx.Context, conversationID int64, includeArchived bool) ([]types.ChatMessage, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	q := txx.WithContext(dbc.Ctx).
		Where("conversation_id = ?", conversationID)
	if !includeArchived {
		q = q.Where("is_archived = ?", false)
	}
	var msgs []types.ChatMessage
	if err := q.Order("id ASC").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// LastAssistant returns the newest non-archived assistant message, or nil
// when the conversation has no assistant turn yet.
func (r *messageRepo) LastAssistant(dbc dbctx.Context, conversationID int64) (*types.ChatMessage, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var msg types.ChatMessage
	err := txx.WithContext(dbc.Ctx).
		Where("conversation_id = ? AND role = ? AND is_archived = ?", conversationID, types.RoleAssistant, false).
		Order("id DESC").
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// LastUser returns the newest non-archived user message, or nil when
// the conversation has none.
func (r *messageRepo) LastUser(dbc dbctx.Context, conversationID int64) (*types.ChatMessage, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var msg types.ChatMessage
	err := txx.WithContext(dbc.Ctx).
		Where("conversation_id = ? AND role = ? AND is_archived = ?", conversationID, types.RoleUser, false).
		Order("id DESC").
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) ListByEditGroup(dbc dbctx.Context, editGroupID int64) ([]types.ChatMessage, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var msgs []types.ChatMessage
	if err := txx.WithContext(dbc.Ctx).
		Where("edit_group_id = ?", editGroupID).
		Order("version_index ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *messageRepo) MaxVersionIndex(dbc dbctx.Context, editGroupID int64) (int, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var max *int
	err := txx.WithContext(dbc.Ctx).
		Model(&types.ChatMessage{}).
		Where("edit_group_id = ?", editGroupID).
		Select("MAX(version_index)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (r *messageRepo) UpdateFields(dbc dbctx.Context, id int64, fields map[string]any) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&types.ChatMessage{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *messageRepo) Delete(dbc dbctx.Context, id int64) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).Delete(&types.ChatMessage{}, "id = ?", id).Error
}

package repos

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/pkg/dbctx"
	"github.com/doctalk/doctalk-backend/internal/types"
)

type FlashcardRepo interface {
	CreateBatch(dbc dbctx.Context, cards []types.Flashcard) error
	ListByConversation(dbc dbctx.Context, conversationID int64) ([]types.Flashcard, error)
	CountByConversation(dbc dbctx.Context, conversationID int64) (int64, error)
	Delete(dbc dbctx.Context, conversationID, id int64) error
	DeleteByConversation(dbc dbctx.Context, conversationID int64) error
}

type flashcardRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFlashcardRepo(db *gorm.DB, log *logger.Logger) FlashcardRepo {
	return &flashcardRepo{db: db, log: log.With("repo", "FlashcardRepo")}
}

func (r *flashcardRepo) CreateBatch(dbc dbctx.Context, cards []types.Flashcard) error {
	if len(cards) == 0 {
		return nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).Create(&cards).Error
}

func (r *flashcardRepo) ListByConversation(dbc dbctx.Context, conversationID int64) ([]types.Flashcard, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var cards []types.Flashcard
	if err := txx.WithContext(dbc.Ctx).
		Where("conversation_id = ?", conversationID).
		Order("order_index ASC, id ASC").
		Find(&cards).Error; err != nil {
		return nil, err
	}
	return cards, nil
}

func (r *flashcardRepo) CountByConversation(dbc dbctx.Context, conversationID int64) (int64, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var count int64
	err := txx.WithContext(dbc.Ctx).
		Model(&types.Flashcard{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	return count, err
}

func (r *flashcardRepo) Delete(dbc dbctx.Context, conversationID, id int64) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).
		Delete(&types.Flashcard{}, "id = ? AND conversation_id = ?", id, conversationID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "flashcard not found")
	}
	return nil
}

func (r *flashcardRepo) DeleteByConversation(dbc dbctx.Context, conversationID int64) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Delete(&types.Flashcard{}, "conversation_id = ?", conversationID).Error
}

type MindmapRepo interface {
	Upsert(dbc dbctx.Context, m *types.Mindmap) error
	GetByConversation(dbc dbctx.Context, conversationID int64) (*types.Mindmap, error)
	DeleteByConversation(dbc dbctx.Context, conversationID int64) error
}

type mindmapRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMindmapRepo(db *gorm.DB, log *logger.Logger) MindmapRepo {
	return &mindmapRepo{db: db, log: log.With("repo", "MindmapRepo")}
}

// Upsert keeps at most one mindmap per conversation; a regenerate
// overwrites the previous one in place.
func (r *mindmapRepo) Upsert(dbc dbctx.Context, m *types.Mindmap) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "nodes", "updated_at"}),
		}).
		Create(m).Error
}

func (r *mindmapRepo) GetByConversation(dbc dbctx.Context, conversationID int64) (*types.Mindmap, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var m types.Mindmap
	if err := txx.WithContext(dbc.Ctx).First(&m, "conversation_id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "mindmap not found")
		}
		return nil, err
	}
	return &m, nil
}

func (r *mindmapRepo) DeleteByConversation(dbc dbctx.Context, conversationID int64) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Delete(&types.Mindmap{}, "conversation_id = ?", conversationID).Error
}

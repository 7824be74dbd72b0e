package services

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/llm"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/pkg/dbctx"
	"github.com/doctalk/doctalk-backend/internal/repos"
	"github.com/doctalk/doctalk-backend/internal/study"
	"github.com/doctalk/doctalk-backend/internal/types"
)

// StudyService generates and stores flashcards and mind maps derived
// from a conversation's document corpus.
type StudyService struct {
	log        *logger.Logger
	convs      repos.ConversationRepo
	chunks     repos.ChunkRepo
	flashcards repos.FlashcardRepo
	mindmaps   repos.MindmapRepo
	providers  ProviderSet
	locks      *llm.Locks
	processor  *study.Processor
}

func NewStudyService(
	log *logger.Logger,
	convs repos.ConversationRepo,
	chunks repos.ChunkRepo,
	flashcards repos.FlashcardRepo,
	mindmaps repos.MindmapRepo,
	providers ProviderSet,
	locks *llm.Locks,
	processor *study.Processor,
) *StudyService {
	return &StudyService{
		log:        log.With("service", "StudyService"),
		convs:      convs,
		chunks:     chunks,
		flashcards: flashcards,
		mindmaps:   mindmaps,
		providers:  providers,
		locks:      locks,
		processor:  processor,
	}
}

func (s *StudyService) ListFlashcards(ctx context.Context, userID, conversationID int64) ([]types.Flashcard, error) {
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.convs.GetOwned(dbc, conversationID, userID); err != nil {
		return nil, err
	}
	return s.flashcards.ListByConversation(dbc, conversationID)
}

// GenerateFlashcards appends target new cards to the conversation's
// deck, steering the model away from existing fronts. OrderIndex
// continues from the current deck size.
func (s *StudyService) GenerateFlashcards(ctx context.Context, userID, conversationID int64, target int) ([]types.Flashcard, error) {
	dbc := dbctx.Context{Ctx: ctx}
	conv, err := s.convs.GetOwned(dbc, conversationID, userID)
	if err != nil {
		return nil, err
	}
	provider, isLocal, err := s.providers.ForMode(conv.LLMMode)
	if err != nil {
		return nil, err
	}

	corpus, err := s.corpus(dbc, conversationID)
	if err != nil {
		return nil, err
	}

	existing, err := s.flashcards.ListByConversation(dbc, conversationID)
	if err != nil {
		return nil, err
	}
	fronts := make([]string, 0, len(existing))
	for _, card := range existing {
		fronts = append(fronts, card.Front)
	}

	if isLocal {
		if err := s.locks.AcquireLocal(ctx); err != nil {
			return nil, err
		}
		defer s.locks.ReleaseLocal()
	}

	cards, err := s.processor.GenerateFlashcards(ctx, provider, corpus, target, fronts, isLocal)
	if err != nil {
		return nil, err
	}

	rows := make([]types.Flashcard, 0, len(cards))
	for i, card := range cards {
		rows = append(rows, types.Flashcard{
			ConversationID: conversationID,
			Front:          card.Front,
			Back:           card.Back,
			OrderIndex:     len(existing) + i,
		})
	}
	if err := s.flashcards.CreateBatch(dbc, rows); err != nil {
		return nil, err
	}

	s.log.Info("Flashcards generated", "conversation_id", conversationID, "new", len(rows), "total", len(existing)+len(rows))
	return s.flashcards.ListByConversation(dbc, conversationID)
}

func (s *StudyService) DeleteFlashcard(ctx context.Context, userID, conversationID, flashcardID int64) error {
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.convs.GetOwned(dbc, conversationID, userID); err != nil {
		return err
	}
	return s.flashcards.Delete(dbc, conversationID, flashcardID)
}

func (s *StudyService) DeleteAllFlashcards(ctx context.Context, userID, conversationID int64) error {
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.convs.GetOwned(dbc, conversationID, userID); err != nil {
		return err
	}
	return s.flashcards.DeleteByConversation(dbc, conversationID)
}

func (s *StudyService) GetMindmap(ctx context.Context, userID, conversationID int64) (*types.Mindmap, error) {
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.convs.GetOwned(dbc, conversationID, userID); err != nil {
		return nil, err
	}
	return s.mindmaps.GetByConversation(dbc, conversationID)
}

// GenerateMindmap builds (or rebuilds) the conversation's single mind
// map from its documents.
func (s *StudyService) GenerateMindmap(ctx context.Context, userID, conversationID int64) (*types.Mindmap, error) {
	dbc := dbctx.Context{Ctx: ctx}
	conv, err := s.convs.GetOwned(dbc, conversationID, userID)
	if err != nil {
		return nil, err
	}
	provider, isLocal, err := s.providers.ForMode(conv.LLMMode)
	if err != nil {
		return nil, err
	}

	corpus, err := s.corpus(dbc, conversationID)
	if err != nil {
		return nil, err
	}

	if isLocal {
		if err := s.locks.AcquireLocal(ctx); err != nil {
			return nil, err
		}
		defer s.locks.ReleaseLocal()
	}

	doc, err := s.processor.GenerateMindmap(ctx, provider, corpus, isLocal)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(doc.Nodes)
	if err != nil {
		return nil, err
	}
	m := &types.Mindmap{
		ConversationID: conversationID,
		Title:          doc.Title,
		Nodes:          datatypes.JSON(raw),
	}
	if err := s.mindmaps.Upsert(dbc, m); err != nil {
		return nil, err
	}
	return s.mindmaps.GetByConversation(dbc, conversationID)
}

func (s *StudyService) DeleteMindmap(ctx context.Context, userID, conversationID int64) error {
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.convs.GetOwned(dbc, conversationID, userID); err != nil {
		return err
	}
	return s.mindmaps.DeleteByConversation(dbc, conversationID)
}

func (s *StudyService) corpus(dbc dbctx.Context, conversationID int64) ([]string, error) {
	rows, err := s.chunks.ListByConversation(dbc, conversationID, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.New(apperr.KindNoContent, "no documents in this conversation to generate from")
	}
	contents := make([]string, 0, len(rows))
	for _, row := range rows {
		contents = append(contents, row.Content)
	}
	return contents, nil
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/pkg/dbctx"
	"github.com/doctalk/doctalk-backend/internal/platform/qdrant"
	"github.com/doctalk/doctalk-backend/internal/repos"
	"github.com/doctalk/doctalk-backend/internal/types"
)

type ConversationService struct {
	log     *logger.Logger
	db      *gorm.DB
	convs   repos.ConversationRepo
	msgs    repos.MessageRepo
	docs    repos.DocumentRepo
	branch  *BranchStore
	vectors qdrant.VectorStore
}

func NewConversationService(
	log *logger.Logger,
	db *gorm.DB,
	convs repos.ConversationRepo,
	msgs repos.MessageRepo,
	docs repos.DocumentRepo,
	branch *BranchStore,
	vectors qdrant.VectorStore,
) *ConversationService {
	return &ConversationService{
		log:     log.With("service", "ConversationService"),
		db:      db,
		convs:   convs,
		msgs:    msgs,
		docs:    docs,
		branch:  branch,
		vectors: vectors,
	}
}

type ConversationSummary struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	LLMMode     string    `json:"llm_mode"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastMessage string    `json:"last_message,omitempty"`
}

// MessageView is a ChatMessage plus the derived fields the API exposes:
// sources as a list and sibling assistant replies as responseVersions.
type MessageView struct {
	types.ChatMessage
	Sources          []string            `json:"sources,omitempty"`
	ResponseVersions []types.ChatMessage `json:"response_versions,omitempty"`
}

type ConversationDetail struct {
	Conversation *types.Conversation `json:"conversation"`
	Messages     []MessageView       `json:"messages"`
	Documents    []types.Document    `json:"documents"`
}

func (s *ConversationService) List(ctx context.Context, userID int64) ([]ConversationSummary, error) {
	dbc := dbctx.Context{Ctx: ctx}
	convs, err := s.convs.ListByUser(dbc, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary := ConversationSummary{
			ID:        conv.ID,
			Title:     conv.Title,
			LLMMode:   conv.LLMMode,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		}
		last, err := s.msgs.LastAssistant(dbc, conv.ID)
		if err != nil {
			return nil, err
		}
		if last == nil {
			if last, err = s.msgs.LastUser(dbc, conv.ID); err != nil {
				return nil, err
			}
		}
		if last != nil {
			summary.LastMessage = truncateRunes(last.Content, 120)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Detail renders the active branch. Sibling assistant replies (from
// regenerates) ride along as responseVersions on the user message that
// anchors them, so the client can page between branches.
func (s *ConversationService) Detail(ctx context.Context, userID, conversationID int64) (*ConversationDetail, error) {
	dbc := dbctx.Context{Ctx: ctx}
	conv, err := s.convs.GetOwned(dbc, conversationID, userID)
	if err != nil {
		return nil, err
	}

	branch, err := s.branch.ListActiveBranch(dbc, conversationID)
	if err != nil {
		return nil, err
	}

	all, err := s.msgs.ListByConversation(dbc, conversationID, false)
	if err != nil {
		return nil, err
	}
	assistantsByParent := make(map[int64][]types.ChatMessage)
	for _, msg := range all {
		if msg.Role == types.RoleAssistant && msg.ReplyToMessageID != nil {
			assistantsByParent[*msg.ReplyToMessageID] = append(assistantsByParent[*msg.ReplyToMessageID], msg)
		}
	}

	views := make([]MessageView, 0, len(branch))
	for _, msg := range branch {
		view := MessageView{ChatMessage: msg, Sources: splitSources(msg.Sources)}
		if msg.Role == types.RoleUser {
			if siblings := assistantsByParent[msg.ID]; len(siblings) > 1 {
				view.ResponseVersions = siblings
			}
		}
		views = append(views, view)
	}

	docs, err := s.docs.ListByConversation(dbc, conversationID)
	if err != nil {
		return nil, err
	}

	return &ConversationDetail{Conversation: conv, Messages: views, Documents: docs}, nil
}

// Delete removes the conversation and everything hanging off it, then
// purges its vectors best-effort.
func (s *ConversationService) Delete(ctx context.Context, userID, conversationID int64) error {
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.convs.GetOwned(dbc, conversationID, userID); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		return purgeConversationRows(txc, tx, conversationID)
	})
	if err != nil {
		return err
	}

	if _, derr := s.vectors.DeleteByConversation(ctx, conversationID); derr != nil {
		s.log.Warn("Vector purge after conversation delete", "conversation_id", conversationID, "error", derr)
	}
	return nil
}

// Export renders the active branch transcript as plain text or JSON.
func (s *ConversationService) Export(ctx context.Context, userID, conversationID int64, format string) ([]byte, string, string, error) {
	detail, err := s.Detail(ctx, userID, conversationID)
	if err != nil {
		return nil, "", "", err
	}

	base := sanitizeFilename(detail.Conversation.Title)
	switch strings.ToLower(format) {
	case "", "txt":
		var sb strings.Builder
		sb.WriteString(detail.Conversation.Title + "\n")
		sb.WriteString(strings.Repeat("=", len(detail.Conversation.Title)) + "\n\n")
		for _, msg := range detail.Messages {
			role := "User"
			if msg.Role == types.RoleAssistant {
				role = "Assistant"
			}
			sb.WriteString(fmt.Sprintf("%s: %s\n\n", role, msg.Content))
		}
		return []byte(sb.String()), "text/plain; charset=utf-8", base + ".txt", nil
	case "json":
		raw, err := json.MarshalIndent(detail, "", "  ")
		if err != nil {
			return nil, "", "", err
		}
		return raw, "application/json", base + ".json", nil
	default:
		return nil, "", "", apperr.Newf(apperr.KindInvalid, "unsupported export format %q", format)
	}
}

// EditMessage rewrites a user message's content in place. Branch-aware
// edits (new versions with fresh assistant replies) go through the chat
// endpoint instead.
func (s *ConversationService) EditMessage(ctx context.Context, userID, messageID int64, content string) (*types.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.New(apperr.KindInvalid, "message content is required")
	}
	dbc := dbctx.Context{Ctx: ctx}
	msg, err := s.msgs.GetByID(dbc, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.convs.GetOwned(dbc, msg.ConversationID, userID); err != nil {
		return nil, err
	}
	if msg.Role != types.RoleUser {
		return nil, apperr.New(apperr.KindInvalid, "only user messages can be edited")
	}
	if err := s.msgs.UpdateFields(dbc, messageID, map[string]any{
		"content":   content,
		"is_edited": 1,
	}); err != nil {
		return nil, err
	}
	return s.msgs.GetByID(dbc, messageID)
}

func (s *ConversationService) DeleteMessage(ctx context.Context, userID, messageID int64) error {
	dbc := dbctx.Context{Ctx: ctx}
	msg, err := s.msgs.GetByID(dbc, messageID)
	if err != nil {
		return err
	}
	if _, err := s.convs.GetOwned(dbc, msg.ConversationID, userID); err != nil {
		return err
	}
	return s.msgs.Delete(dbc, messageID)
}

// purgeConversationRows deletes all rows belonging to a conversation,
// leaf tables first.
func purgeConversationRows(dbc dbctx.Context, tx *gorm.DB, conversationID int64) error {
	for _, model := range []any{
		&types.DocumentChunk{},
		&types.ChatMessage{},
		&types.Document{},
		&types.Flashcard{},
		&types.Mindmap{},
	} {
		if err := tx.WithContext(dbc.Ctx).Delete(model, "conversation_id = ?", conversationID).Error; err != nil {
			return err
		}
	}
	return tx.WithContext(dbc.Ctx).Delete(&types.Conversation{}, "id = ?", conversationID).Error
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "conversation"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", " ", "_")
	return replacer.Replace(name)
}

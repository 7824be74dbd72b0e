package services

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/llm"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/pkg/dbctx"
	"github.com/doctalk/doctalk-backend/internal/rag"
	"github.com/doctalk/doctalk-backend/internal/repos"
	"github.com/doctalk/doctalk-backend/internal/types"
)

// branchHistoryMax caps the backward walk when assembling history for a
// chat turn.
const branchHistoryMax = 50

// ChatRequest is the inbound chat payload shared by the streaming and
// non-streaming endpoints.
type ChatRequest struct {
	Message         string `json:"message"`
	ConversationID  int64  `json:"conversationId"`
	Regenerate      bool   `json:"regenerate"`
	EditGroupID     *int64 `json:"editGroupId,omitempty"`
	IsEdit          bool   `json:"isEdit"`
	CloudModel      string `json:"cloudModel,omitempty"`
	ParentMessageID *int64 `json:"parentMessageId,omitempty"`

	// regenerateFor pins regeneration to a specific user message instead
	// of the conversation's latest one. Set by ChatService.RegenerateReply,
	// never by clients.
	regenerateFor *types.ChatMessage
}

// ParentResolution is the outcome of the branching rule chain. ParentID
// is the assistant message the new user turn replies to (nil for a
// branch root). For regenerate, LatestUser is the existing user message
// the new assistant will be a sibling answer to.
type ParentResolution struct {
	ParentID   *int64
	Regenerate bool
	LatestUser *types.ChatMessage
}

// BranchStore owns the reply graph: parent resolution, branch-scoped
// history assembly, and message persistence with edit-group bookkeeping.
type BranchStore struct {
	log  *logger.Logger
	msgs repos.MessageRepo
}

func NewBranchStore(log *logger.Logger, msgs repos.MessageRepo) *BranchStore {
	return &BranchStore{log: log.With("service", "BranchStore"), msgs: msgs}
}

// ResolveParent applies the rule chain: explicit parent, then
// regenerate, then edit, then first turn, otherwise the caller must pin
// a parent so sibling branches stay separate.
func (s *BranchStore) ResolveParent(dbc dbctx.Context, conversationID int64, req ChatRequest) (*ParentResolution, error) {
	if req.ParentMessageID != nil {
		parent, err := s.msgs.GetByID(dbc, *req.ParentMessageID)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				return nil, apperr.New(apperr.KindInvalidParent, "parent message not found")
			}
			return nil, err
		}
		if parent.ConversationID != conversationID {
			return nil, apperr.New(apperr.KindInvalidParent, "parent message belongs to another conversation")
		}
		if parent.Role != types.RoleAssistant {
			return nil, apperr.New(apperr.KindInvalidParent, "parent message must be an assistant reply")
		}
		return &ParentResolution{ParentID: req.ParentMessageID}, nil
	}

	if req.Regenerate {
		target := req.regenerateFor
		if target == nil {
			lastUser, err := s.msgs.LastUser(dbc, conversationID)
			if err != nil {
				return nil, err
			}
			if lastUser == nil {
				return nil, apperr.New(apperr.KindInvalid, "nothing to regenerate")
			}
			target = lastUser
		} else if target.ConversationID != conversationID {
			return nil, apperr.New(apperr.KindInvalidParent, "message belongs to another conversation")
		}
		return &ParentResolution{
			ParentID:   target.ReplyToMessageID,
			Regenerate: true,
			LatestUser: target,
		}, nil
	}

	if req.IsEdit {
		if req.EditGroupID == nil {
			return nil, apperr.New(apperr.KindInvalid, "editGroupId is required for an edit")
		}
		versions, err := s.msgs.ListByEditGroup(dbc, *req.EditGroupID)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, apperr.New(apperr.KindInvalidParent, "edit group not found")
		}
		original := versions[0]
		if original.ConversationID != conversationID {
			return nil, apperr.New(apperr.KindInvalidParent, "edit group belongs to another conversation")
		}
		return &ParentResolution{ParentID: original.ReplyToMessageID}, nil
	}

	lastAssistant, err := s.msgs.LastAssistant(dbc, conversationID)
	if err != nil {
		return nil, err
	}
	if lastAssistant == nil {
		return &ParentResolution{ParentID: nil}, nil
	}
	return nil, apperr.New(apperr.KindParentRequired, "parentMessageId is required to continue a branched conversation")
}

// BuildBranchHistory walks the reply graph backwards from tail and
// returns the chronological history of that branch only. The visited
// set guards against reply cycles in corrupted data.
func (s *BranchStore) BuildBranchHistory(dbc dbctx.Context, conversationID int64, tailID *int64, maxMsgs int) ([]rag.HistoryMessage, error) {
	if maxMsgs <= 0 {
		maxMsgs = branchHistoryMax
	}

	var reversed []rag.HistoryMessage
	visited := make(map[int64]bool)
	cur := tailID
	for cur != nil && len(reversed) < maxMsgs {
		if visited[*cur] {
			s.log.Warn("Reply cycle detected in branch walk", "conversation_id", conversationID, "message_id", *cur)
			break
		}
		visited[*cur] = true

		msg, err := s.msgs.GetByID(dbc, *cur)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				break
			}
			return nil, err
		}
		if msg.ConversationID != conversationID {
			break
		}
		reversed = append(reversed, rag.HistoryMessage{Role: msg.Role, Content: msg.Content})
		cur = msg.ReplyToMessageID
	}

	history := make([]rag.HistoryMessage, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		history = append(history, reversed[i])
	}
	return history, nil
}

// AppendUserMessage persists a user turn. A first version owns its edit
// group: the group id is back-filled with the new row's own id.
func (s *BranchStore) AppendUserMessage(dbc dbctx.Context, conversationID int64, content string, parentID *int64, editGroupID *int64, versionIndex int) (*types.ChatMessage, error) {
	if versionIndex <= 0 {
		versionIndex = 1
	}
	msg := &types.ChatMessage{
		ConversationID:   conversationID,
		Role:             types.RoleUser,
		Content:          content,
		ReplyToMessageID: parentID,
		EditGroupID:      editGroupID,
		VersionIndex:     versionIndex,
	}
	if editGroupID != nil {
		msg.IsEdited = 1
	}
	if err := s.msgs.Create(dbc, msg); err != nil {
		return nil, err
	}
	if msg.EditGroupID == nil {
		if err := s.msgs.UpdateFields(dbc, msg.ID, map[string]any{"edit_group_id": msg.ID}); err != nil {
			return nil, err
		}
		id := msg.ID
		msg.EditGroupID = &id
	}
	return msg, nil
}

// AppendAssistantMessage persists an assistant reply to parentUserID.
// Regenerated siblings are distinguished by sharing the same parent,
// never by archiving each other.
func (s *BranchStore) AppendAssistantMessage(dbc dbctx.Context, conversationID int64, content string, parentUserID *int64, sources []string, sourceChunks []llm.SourceChunk, promptSnapshot string) (*types.ChatMessage, error) {
	msg := &types.ChatMessage{
		ConversationID:   conversationID,
		Role:             types.RoleAssistant,
		Content:          content,
		Sources:          joinSources(sources),
		PromptSnapshot:   promptSnapshot,
		ReplyToMessageID: parentUserID,
		VersionIndex:     1,
	}
	if len(sourceChunks) > 0 {
		refs := make([]types.SourceChunkRef, 0, len(sourceChunks))
		for _, sc := range sourceChunks {
			refs = append(refs, types.SourceChunkRef{Index: sc.Index, Source: sc.Source, Chunk: sc.Chunk})
		}
		raw, err := json.Marshal(refs)
		if err != nil {
			return nil, err
		}
		msg.SourceChunks = datatypes.JSON(raw)
	}
	if err := s.msgs.Create(dbc, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// NextVersionIndex returns the version a new edit of the group gets.
func (s *BranchStore) NextVersionIndex(dbc dbctx.Context, editGroupID int64) (int, error) {
	max, err := s.msgs.MaxVersionIndex(dbc, editGroupID)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// ListActiveBranch returns the branch ending at the newest assistant
// reply, in chronological order. Conversations with no assistant turn
// yet fall back to the plain non-archived listing.
func (s *BranchStore) ListActiveBranch(dbc dbctx.Context, conversationID int64) ([]types.ChatMessage, error) {
	last, err := s.msgs.LastAssistant(dbc, conversationID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return s.msgs.ListByConversation(dbc, conversationID, false)
	}

	var reversed []types.ChatMessage
	visited := make(map[int64]bool)
	cur := &last.ID
	for cur != nil {
		if visited[*cur] {
			break
		}
		visited[*cur] = true
		msg, err := s.msgs.GetByID(dbc, *cur)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				break
			}
			return nil, err
		}
		if msg.ConversationID != conversationID {
			break
		}
		reversed = append(reversed, *msg)
		cur = msg.ReplyToMessageID
	}

	branch := make([]types.ChatMessage, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		branch = append(branch, reversed[i])
	}
	return branch, nil
}

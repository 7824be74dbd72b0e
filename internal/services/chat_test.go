package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/embeddings"
	"github.com/doctalk/doctalk-backend/internal/llm"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/pkg/dbctx"
	"github.com/doctalk/doctalk-backend/internal/platform/qdrant"
	"github.com/doctalk/doctalk-backend/internal/rag"
	"github.com/doctalk/doctalk-backend/internal/repos"
	"github.com/doctalk/doctalk-backend/internal/study"
	"github.com/doctalk/doctalk-backend/internal/types"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (fakeEmbedder) Dimension() int  { return 4 }
func (fakeEmbedder) Profile() string { return "test-profile" }

type fakeVectorStore struct {
	hits []qdrant.Hit
}

func (f *fakeVectorStore) EnsureCollection(ctx context.Context) error { return nil }

func (f *fakeVectorStore) Upsert(ctx context.Context, conversationID, documentID int64, chunks []qdrant.EmbeddedChunk) error {
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, conversationID int64, queryVec []float32, k int, activeDocIDs []int64) ([]qdrant.Hit, error) {
	return f.hits, nil
}

func (f *fakeVectorStore) DeleteByDocument(ctx context.Context, conversationID, documentID int64) (string, error) {
	return "", nil
}

func (f *fakeVectorStore) DeleteByConversation(ctx context.Context, conversationID int64) (string, error) {
	return "", nil
}

type stubProvider struct {
	response string
	err      error

	lastQuery string
}

func (p *stubProvider) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	p.lastQuery = req.Query
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Result{
		Response:     p.response,
		Sources:      llm.ExtractSources(req.ContextDocs),
		SourceChunks: llm.ExtractSourceChunks(req.ContextDocs),
	}, nil
}

func (p *stubProvider) GenerateSimple(ctx context.Context, prompt string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.response, nil
}

type chatFixture struct {
	db    *gorm.DB
	svc   *ChatService
	msgs  repos.MessageRepo
	convs repos.ConversationRepo
	conv  *types.Conversation
	locks *llm.Locks
	dbc   dbctx.Context
}

func (f *chatFixture) addDocument(t *testing.T, filename string) *types.Document {
	t.Helper()
	doc := &types.Document{
		ConversationID: f.conv.ID,
		Filename:       filename,
		Kind:           "file",
		Active:         true,
	}
	require.NoError(t, f.db.Create(doc).Error)
	return doc
}

func newChatFixture(t *testing.T, provider llm.Provider, hits []qdrant.Hit) *chatFixture {
	t.Helper()
	db := newTestDB(t)
	log := logger.NewNop()

	convs := repos.NewConversationRepo(db, log)
	docs := repos.NewDocumentRepo(db, log)
	chunks := repos.NewChunkRepo(db, log)
	msgs := repos.NewMessageRepo(db, log)
	branch := NewBranchStore(log, msgs)

	reg := embeddings.NewRegistry(log, func(profile string) (embeddings.Embedder, error) {
		return fakeEmbedder{}, nil
	})
	locks := llm.NewLocks(log, llm.LocksConfig{
		ConversationTimeout: 100 * time.Millisecond,
		LocalTimeout:        100 * time.Millisecond,
		LocalMaxParallel:    2,
	})

	svc := NewChatService(
		log, db, convs, docs, chunks, branch, reg,
		&fakeVectorStore{hits: hits}, locks,
		ProviderSet{Cloud: provider, Local: provider},
		study.NewProcessor(log, 1),
		ChatServiceConfig{},
	)

	conv := &types.Conversation{
		UserID:           1,
		Title:            "test",
		LLMMode:          "cloud",
		EmbeddingProfile: "test-profile",
		EmbeddingDim:     4,
	}
	require.NoError(t, db.Create(conv).Error)

	return &chatFixture{
		db:    db,
		svc:   svc,
		msgs:  msgs,
		convs: convs,
		conv:  conv,
		locks: locks,
		dbc:   dbctx.Context{Ctx: context.Background()},
	}
}

func TestChatFirstTurnStreamsAndPersists(t *testing.T) {
	hits := []qdrant.Hit{{
		Content:       "alpha is the first letter",
		Metadata:      rag.ChunkMetadata{Source: "greek.txt"},
		AdjustedScore: 0.9,
	}}
	f := newChatFixture(t, &stubProvider{response: "Alpha comes first [1]."}, hits)
	f.addDocument(t, "greek.txt")

	var frames []Frame
	err := f.svc.Stream(context.Background(), 1, ChatRequest{
		Message:        "what is alpha?",
		ConversationID: f.conv.ID,
	}, func(fr Frame) error {
		frames = append(frames, fr)
		return nil
	})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(frames), 3)
	require.Equal(t, "meta", frames[0].Type)
	require.Equal(t, []string{"greek.txt"}, frames[0].Sources)
	require.NotNil(t, frames[0].UserMessageID)
	require.NotNil(t, frames[0].EditGroupID)

	last := frames[len(frames)-1]
	require.Equal(t, "done", last.Type)
	require.False(t, last.Error)
	require.Equal(t, "Alpha comes first [1].", last.FullResponse)

	var streamed strings.Builder
	for _, fr := range frames[1 : len(frames)-1] {
		require.Equal(t, "token", fr.Type)
		streamed.WriteString(fr.Content)
	}
	require.Equal(t, "Alpha comes first [1].", streamed.String())

	all, err := f.msgs.ListByConversation(f.dbc, f.conv.ID, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, types.RoleUser, all[0].Role)
	require.Equal(t, types.RoleAssistant, all[1].Role)
	require.NotNil(t, all[1].ReplyToMessageID)
	require.Equal(t, all[0].ID, *all[1].ReplyToMessageID)
	require.Equal(t, "greek.txt", all[1].Sources)

	require.Equal(t, 0, f.locks.HeldConversations())
}

func TestChatBusyConversationRecordsErrorReply(t *testing.T) {
	f := newChatFixture(t, &stubProvider{response: "never reached"}, nil)

	require.NoError(t, f.locks.AcquireConversation(context.Background(), f.conv.ID))
	defer f.locks.ReleaseConversation(f.conv.ID)

	var frames []Frame
	err := f.svc.Stream(context.Background(), 1, ChatRequest{
		Message:        "hello",
		ConversationID: f.conv.ID,
	}, func(fr Frame) error {
		frames = append(frames, fr)
		return nil
	})
	require.Error(t, err)
	require.Equal(t, apperr.KindBusy, apperr.KindOf(err))

	// the user turn is not orphaned: the failure is an assistant reply
	all, lerr := f.msgs.ListByConversation(f.dbc, f.conv.ID, true)
	require.NoError(t, lerr)
	require.Len(t, all, 2)
	require.Equal(t, types.RoleAssistant, all[1].Role)
	require.Contains(t, all[1].Content, "[Error:")

	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	require.Equal(t, "done", last.Type)
	require.True(t, last.Error)
}

func TestChatProviderFailureRecordsErrorReply(t *testing.T) {
	f := newChatFixture(t, &stubProvider{err: errors.New("model exploded")}, nil)

	_, err := f.svc.Chat(context.Background(), 1, ChatRequest{
		Message:        "hello",
		ConversationID: f.conv.ID,
	})
	require.Error(t, err)

	all, lerr := f.msgs.ListByConversation(f.dbc, f.conv.ID, true)
	require.NoError(t, lerr)
	require.Len(t, all, 2)
	require.Contains(t, all[1].Content, "[Error:")
	require.Equal(t, 0, f.locks.HeldConversations())
}

func TestChatSecondTurnRequiresParent(t *testing.T) {
	f := newChatFixture(t, &stubProvider{response: "first answer"}, nil)

	out, err := f.svc.Chat(context.Background(), 1, ChatRequest{
		Message:        "first question",
		ConversationID: f.conv.ID,
	})
	require.NoError(t, err)

	_, err = f.svc.Chat(context.Background(), 1, ChatRequest{
		Message:        "follow-up without parent",
		ConversationID: f.conv.ID,
	})
	require.Error(t, err)
	require.Equal(t, apperr.KindParentRequired, apperr.KindOf(err))

	// pinning the assistant parent succeeds
	out2, err := f.svc.Chat(context.Background(), 1, ChatRequest{
		Message:         "follow-up with parent",
		ConversationID:  f.conv.ID,
		ParentMessageID: &out.AssistantMessageID,
	})
	require.NoError(t, err)
	require.NotZero(t, out2.AssistantMessageID)
}

func TestChatRegenerateCreatesSiblingAnswer(t *testing.T) {
	f := newChatFixture(t, &stubProvider{response: "an answer"}, nil)

	out, err := f.svc.Chat(context.Background(), 1, ChatRequest{
		Message:        "question",
		ConversationID: f.conv.ID,
	})
	require.NoError(t, err)

	out2, err := f.svc.Chat(context.Background(), 1, ChatRequest{
		ConversationID: f.conv.ID,
		Regenerate:     true,
	})
	require.NoError(t, err)
	require.Equal(t, out.UserMessageID, out2.UserMessageID)
	require.NotEqual(t, out.AssistantMessageID, out2.AssistantMessageID)

	// both answers reply to the same user message; neither is archived
	all, lerr := f.msgs.ListByConversation(f.dbc, f.conv.ID, true)
	require.NoError(t, lerr)
	require.Len(t, all, 3)
	require.Equal(t, *all[1].ReplyToMessageID, *all[2].ReplyToMessageID)
	require.False(t, all[1].IsArchived)
	require.False(t, all[2].IsArchived)
}

func TestRegenerateReplyAnswersEditedMessage(t *testing.T) {
	provider := &stubProvider{response: "a fresh answer"}
	f := newChatFixture(t, provider, nil)

	out, err := f.svc.Chat(context.Background(), 1, ChatRequest{
		Message:        "question one",
		ConversationID: f.conv.ID,
	})
	require.NoError(t, err)

	// a later turn, so the edited message is no longer the latest user turn
	out2, err := f.svc.Chat(context.Background(), 1, ChatRequest{
		Message:         "question two",
		ConversationID:  f.conv.ID,
		ParentMessageID: &out.AssistantMessageID,
	})
	require.NoError(t, err)

	require.NoError(t, f.msgs.UpdateFields(f.dbc, out.UserMessageID, map[string]any{
		"content":   "question one, edited",
		"is_edited": 1,
	}))

	out3, err := f.svc.RegenerateReply(context.Background(), 1, out.UserMessageID)
	require.NoError(t, err)
	require.Equal(t, out.UserMessageID, out3.UserMessageID)
	require.NotEqual(t, out.AssistantMessageID, out3.AssistantMessageID)
	require.NotEqual(t, out2.AssistantMessageID, out3.AssistantMessageID)
	require.Equal(t, "question one, edited", provider.lastQuery)

	// the new answer is a sibling of the first; nothing is archived
	fresh, err := f.msgs.GetByID(f.dbc, out3.AssistantMessageID)
	require.NoError(t, err)
	require.NotNil(t, fresh.ReplyToMessageID)
	require.Equal(t, out.UserMessageID, *fresh.ReplyToMessageID)
	old, err := f.msgs.GetByID(f.dbc, out.AssistantMessageID)
	require.NoError(t, err)
	require.False(t, old.IsArchived)
	require.Equal(t, 0, f.locks.HeldConversations())
}

func TestRegenerateReplyRejectsAssistantTarget(t *testing.T) {
	f := newChatFixture(t, &stubProvider{response: "an answer"}, nil)

	out, err := f.svc.Chat(context.Background(), 1, ChatRequest{
		Message:        "question",
		ConversationID: f.conv.ID,
	})
	require.NoError(t, err)

	_, err = f.svc.RegenerateReply(context.Background(), 1, out.AssistantMessageID)
	require.Error(t, err)
	require.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestRegenerateReplyRejectsForeignUser(t *testing.T) {
	f := newChatFixture(t, &stubProvider{response: "an answer"}, nil)

	out, err := f.svc.Chat(context.Background(), 1, ChatRequest{
		Message:        "question",
		ConversationID: f.conv.ID,
	})
	require.NoError(t, err)

	_, err = f.svc.RegenerateReply(context.Background(), 99, out.UserMessageID)
	require.Error(t, err)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestChatTouchesConversationOnAnswer(t *testing.T) {
	f := newChatFixture(t, &stubProvider{response: "ok"}, nil)

	before, err := f.convs.GetByID(f.dbc, f.conv.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = f.svc.Chat(context.Background(), 1, ChatRequest{
		Message:        "question",
		ConversationID: f.conv.ID,
	})
	require.NoError(t, err)

	after, err := f.convs.GetByID(f.dbc, f.conv.ID)
	require.NoError(t, err)
	require.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	f := newChatFixture(t, &stubProvider{response: "ok"}, nil)

	_, err := f.svc.Chat(context.Background(), 1, ChatRequest{
		Message:        "   ",
		ConversationID: f.conv.ID,
	})
	require.Error(t, err)
	require.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestChatRejectsForeignConversation(t *testing.T) {
	f := newChatFixture(t, &stubProvider{response: "ok"}, nil)

	_, err := f.svc.Chat(context.Background(), 99, ChatRequest{
		Message:        "hello",
		ConversationID: f.conv.ID,
	})
	require.Error(t, err)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

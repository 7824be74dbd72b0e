package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/llm"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/pkg/dbctx"
	"github.com/doctalk/doctalk-backend/internal/repos"
	"github.com/doctalk/doctalk-backend/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.User{},
		&types.Conversation{},
		&types.Document{},
		&types.DocumentChunk{},
		&types.ChatMessage{},
		&types.Flashcard{},
		&types.Mindmap{},
	))
	return db
}

type branchFixture struct {
	db    *gorm.DB
	store *BranchStore
	msgs  repos.MessageRepo
	conv  *types.Conversation
	dbc   dbctx.Context
}

func newBranchFixture(t *testing.T) (*BranchStore, repos.MessageRepo, *types.Conversation, dbctx.Context) {
	f := newBranchFixtureFull(t)
	return f.store, f.msgs, f.conv, f.dbc
}

func newBranchFixtureFull(t *testing.T) *branchFixture {
	t.Helper()
	db := newTestDB(t)
	log := logger.NewNop()
	msgs := repos.NewMessageRepo(db, log)
	store := NewBranchStore(log, msgs)

	conv := &types.Conversation{UserID: 1, Title: "test", LLMMode: "cloud"}
	require.NoError(t, db.Create(conv).Error)
	return &branchFixture{
		db:    db,
		store: store,
		msgs:  msgs,
		conv:  conv,
		dbc:   dbctx.Context{Ctx: context.Background()},
	}
}

func TestResolveParentFirstTurnIsRoot(t *testing.T) {
	store, _, conv, dbc := newBranchFixture(t)

	res, err := store.ResolveParent(dbc, conv.ID, ChatRequest{Message: "hello"})
	require.NoError(t, err)
	require.Nil(t, res.ParentID)
	require.False(t, res.Regenerate)
}

func TestResolveParentFollowUpRequiresParent(t *testing.T) {
	store, _, conv, dbc := newBranchFixture(t)

	user, err := store.AppendUserMessage(dbc, conv.ID, "q1", nil, nil, 1)
	require.NoError(t, err)
	_, err = store.AppendAssistantMessage(dbc, conv.ID, "a1", &user.ID, nil, nil, "")
	require.NoError(t, err)

	_, err = store.ResolveParent(dbc, conv.ID, ChatRequest{Message: "q2"})
	require.Error(t, err)
	require.Equal(t, apperr.KindParentRequired, apperr.KindOf(err))
}

func TestResolveParentExplicitMustBeAssistant(t *testing.T) {
	store, _, conv, dbc := newBranchFixture(t)

	user, err := store.AppendUserMessage(dbc, conv.ID, "q1", nil, nil, 1)
	require.NoError(t, err)

	_, err = store.ResolveParent(dbc, conv.ID, ChatRequest{Message: "q2", ParentMessageID: &user.ID})
	require.Error(t, err)
	require.Equal(t, apperr.KindInvalidParent, apperr.KindOf(err))
}

func TestResolveParentExplicitRejectsForeignConversation(t *testing.T) {
	f := newBranchFixtureFull(t)
	store, conv, dbc := f.store, f.conv, f.dbc

	other := &types.Conversation{UserID: 1, Title: "other", LLMMode: "cloud"}
	require.NoError(t, f.db.Create(other).Error)
	user, err := store.AppendUserMessage(dbc, other.ID, "q", nil, nil, 1)
	require.NoError(t, err)
	foreign, err := store.AppendAssistantMessage(dbc, other.ID, "a", &user.ID, nil, nil, "")
	require.NoError(t, err)

	_, err = store.ResolveParent(dbc, conv.ID, ChatRequest{Message: "q2", ParentMessageID: &foreign.ID})
	require.Error(t, err)
	require.Equal(t, apperr.KindInvalidParent, apperr.KindOf(err))
}

func TestAppendUserMessageBackfillsEditGroup(t *testing.T) {
	store, msgs, conv, dbc := newBranchFixture(t)

	user, err := store.AppendUserMessage(dbc, conv.ID, "q1", nil, nil, 1)
	require.NoError(t, err)
	require.NotNil(t, user.EditGroupID)
	require.Equal(t, user.ID, *user.EditGroupID)

	stored, err := msgs.GetByID(dbc, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.EditGroupID)
	require.Equal(t, user.ID, *stored.EditGroupID)
	require.Equal(t, 1, stored.VersionIndex)
}

func TestEditCreatesSiblingWithoutArchiving(t *testing.T) {
	store, msgs, conv, dbc := newBranchFixture(t)

	v1, err := store.AppendUserMessage(dbc, conv.ID, "original", nil, nil, 1)
	require.NoError(t, err)

	next, err := store.NextVersionIndex(dbc, *v1.EditGroupID)
	require.NoError(t, err)
	require.Equal(t, 2, next)

	v2, err := store.AppendUserMessage(dbc, conv.ID, "edited", v1.ReplyToMessageID, v1.EditGroupID, next)
	require.NoError(t, err)
	require.Equal(t, *v1.EditGroupID, *v2.EditGroupID)
	require.Equal(t, 2, v2.VersionIndex)
	require.Equal(t, 1, v2.IsEdited)

	// the original version stays navigable
	original, err := msgs.GetByID(dbc, v1.ID)
	require.NoError(t, err)
	require.False(t, original.IsArchived)

	versions, err := msgs.ListByEditGroup(dbc, *v1.EditGroupID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, v1.ID, versions[0].ID)
}

func TestAppendAssistantMessageStoresSourceChunkRefs(t *testing.T) {
	store, msgs, conv, dbc := newBranchFixture(t)

	u, err := store.AppendUserMessage(dbc, conv.ID, "q", nil, nil, 1)
	require.NoError(t, err)

	chunks := []llm.SourceChunk{
		{Index: 1, Source: "notes.txt", Chunk: "first excerpt"},
		{Index: 2, Source: "paper.pdf", Chunk: "second excerpt"},
	}
	a, err := store.AppendAssistantMessage(dbc, conv.ID, "answer", &u.ID, []string{"notes.txt", "paper.pdf"}, chunks, "")
	require.NoError(t, err)

	stored, err := msgs.GetByID(dbc, a.ID)
	require.NoError(t, err)
	var refs []types.SourceChunkRef
	require.NoError(t, json.Unmarshal(stored.SourceChunks, &refs))
	require.Len(t, refs, 2)
	require.Equal(t, types.SourceChunkRef{Index: 1, Source: "notes.txt", Chunk: "first excerpt"}, refs[0])
	require.Equal(t, "paper.pdf", refs[1].Source)
}

func TestResolveParentRegenerateTargetsLatestUser(t *testing.T) {
	store, _, conv, dbc := newBranchFixture(t)

	u1, err := store.AppendUserMessage(dbc, conv.ID, "q1", nil, nil, 1)
	require.NoError(t, err)
	a1, err := store.AppendAssistantMessage(dbc, conv.ID, "a1", &u1.ID, nil, nil, "")
	require.NoError(t, err)
	u2, err := store.AppendUserMessage(dbc, conv.ID, "q2", &a1.ID, nil, 1)
	require.NoError(t, err)

	res, err := store.ResolveParent(dbc, conv.ID, ChatRequest{Regenerate: true})
	require.NoError(t, err)
	require.True(t, res.Regenerate)
	require.Equal(t, u2.ID, res.LatestUser.ID)
	require.NotNil(t, res.ParentID)
	require.Equal(t, a1.ID, *res.ParentID)
}

func TestBuildBranchHistoryStaysOnOneBranch(t *testing.T) {
	store, _, conv, dbc := newBranchFixture(t)

	// trunk: u1 -> a1
	u1, err := store.AppendUserMessage(dbc, conv.ID, "q1", nil, nil, 1)
	require.NoError(t, err)
	a1, err := store.AppendAssistantMessage(dbc, conv.ID, "a1", &u1.ID, nil, nil, "")
	require.NoError(t, err)

	// branch A: u2a -> a2a
	u2a, err := store.AppendUserMessage(dbc, conv.ID, "branch A question", &a1.ID, nil, 1)
	require.NoError(t, err)
	a2a, err := store.AppendAssistantMessage(dbc, conv.ID, "branch A answer", &u2a.ID, nil, nil, "")
	require.NoError(t, err)

	// branch B: u2b -> a2b
	u2b, err := store.AppendUserMessage(dbc, conv.ID, "branch B question", &a1.ID, nil, 1)
	require.NoError(t, err)
	_, err = store.AppendAssistantMessage(dbc, conv.ID, "branch B answer", &u2b.ID, nil, nil, "")
	require.NoError(t, err)

	history, err := store.BuildBranchHistory(dbc, conv.ID, &a2a.ID, 0)
	require.NoError(t, err)

	require.Len(t, history, 4)
	require.Equal(t, "q1", history[0].Content)
	require.Equal(t, "a1", history[1].Content)
	require.Equal(t, "branch A question", history[2].Content)
	require.Equal(t, "branch A answer", history[3].Content)
	for _, msg := range history {
		require.NotContains(t, msg.Content, "branch B")
	}
}

func TestBuildBranchHistoryCapsLength(t *testing.T) {
	store, _, conv, dbc := newBranchFixture(t)

	var parent *int64
	for i := 0; i < 6; i++ {
		u, err := store.AppendUserMessage(dbc, conv.ID, fmt.Sprintf("q%d", i), parent, nil, 1)
		require.NoError(t, err)
		a, err := store.AppendAssistantMessage(dbc, conv.ID, fmt.Sprintf("a%d", i), &u.ID, nil, nil, "")
		require.NoError(t, err)
		parent = &a.ID
	}

	history, err := store.BuildBranchHistory(dbc, conv.ID, parent, 4)
	require.NoError(t, err)
	require.Len(t, history, 4)
	// the cap keeps the newest messages
	require.Equal(t, "a5", history[3].Content)
}

func TestListActiveBranchFollowsNewestAssistant(t *testing.T) {
	store, _, conv, dbc := newBranchFixture(t)

	u1, err := store.AppendUserMessage(dbc, conv.ID, "q1", nil, nil, 1)
	require.NoError(t, err)
	a1, err := store.AppendAssistantMessage(dbc, conv.ID, "a1", &u1.ID, nil, nil, "")
	require.NoError(t, err)

	// regenerate: second answer to the same user message
	a2, err := store.AppendAssistantMessage(dbc, conv.ID, "a1 regenerated", &u1.ID, nil, nil, "")
	require.NoError(t, err)

	branch, err := store.ListActiveBranch(dbc, conv.ID)
	require.NoError(t, err)
	require.Len(t, branch, 2)
	require.Equal(t, u1.ID, branch[0].ID)
	require.Equal(t, a2.ID, branch[1].ID)
	require.NotEqual(t, a1.ID, branch[1].ID)
}

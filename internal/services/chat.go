package services

import (
	"context"
	"strings"

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

// Frame is one SSE event of the chat stream. Type is "meta", "token",
// "error" or "done"; the other fields are populated per type.
type Frame struct {
	Type string `json:"type"`

	Sources       []string          `json:"sources,omitempty"`
	SourceChunks  []llm.SourceChunk `json:"sourceChunks,omitempty"`
	UserMessageID *int64            `json:"userMessageId,omitempty"`
	EditGroupID   *int64            `json:"editGroupId,omitempty"`

	Content string `json:"content,omitempty"`

	Message string `json:"message,omitempty"`

	AssistantMessageID int64  `json:"assistantMessageId,omitempty"`
	FullResponse       string `json:"fullResponse,omitempty"`
	Error              bool   `json:"error,omitempty"`
}

// ProviderSet holds the configured provider families.
type ProviderSet struct {
	Cloud llm.Provider
	Local llm.Provider
}

// ForMode resolves a conversation's pinned mode to a provider. The
// second return reports whether the local concurrency cap applies.
func (ps ProviderSet) ForMode(mode string) (llm.Provider, bool, error) {
	if mode == "local" {
		if ps.Local == nil {
			return nil, false, apperr.New(apperr.KindProvider, "local provider not configured")
		}
		return ps.Local, true, nil
	}
	if ps.Cloud == nil {
		return nil, false, apperr.New(apperr.KindProvider, "cloud provider not configured")
	}
	return ps.Cloud, false, nil
}

type ChatServiceConfig struct {
	// Corpus-size thresholds (bytes of chunk text) above which a
	// summary-intent request is answered hierarchically instead of
	// through retrieval.
	LocalContextBudget int
	CloudContextBudget int
	HistoryMax         int
}

// ChatService drives one chat turn end to end: branching, retrieval,
// locking, generation, persistence, streaming.
type ChatService struct {
	log       *logger.Logger
	db        *gorm.DB
	convs     repos.ConversationRepo
	docs      repos.DocumentRepo
	chunks    repos.ChunkRepo
	branch    *BranchStore
	reg       *embeddings.Registry
	vectors   qdrant.VectorStore
	locks     *llm.Locks
	providers ProviderSet
	processor *study.Processor
	cfg       ChatServiceConfig
}

func NewChatService(
	log *logger.Logger,
	db *gorm.DB,
	convs repos.ConversationRepo,
	docs repos.DocumentRepo,
	chunks repos.ChunkRepo,
	branch *BranchStore,
	reg *embeddings.Registry,
	vectors qdrant.VectorStore,
	locks *llm.Locks,
	providers ProviderSet,
	processor *study.Processor,
	cfg ChatServiceConfig,
) *ChatService {
	if cfg.LocalContextBudget <= 0 {
		cfg.LocalContextBudget = 8000
	}
	if cfg.CloudContextBudget <= 0 {
		cfg.CloudContextBudget = 30000
	}
	if cfg.HistoryMax <= 0 {
		cfg.HistoryMax = branchHistoryMax
	}
	return &ChatService{
		log:       log.With("service", "ChatService"),
		db:        db,
		convs:     convs,
		docs:      docs,
		chunks:    chunks,
		branch:    branch,
		reg:       reg,
		vectors:   vectors,
		locks:     locks,
		providers: providers,
		processor: processor,
		cfg:       cfg,
	}
}

type ChatOutcome struct {
	UserMessageID      int64             `json:"user_message_id"`
	EditGroupID        *int64            `json:"edit_group_id,omitempty"`
	AssistantMessageID int64             `json:"assistant_message_id"`
	Response           string            `json:"response"`
	Sources            []string          `json:"sources,omitempty"`
	SourceChunks       []llm.SourceChunk `json:"source_chunks,omitempty"`
}

// Chat answers without streaming.
func (s *ChatService) Chat(ctx context.Context, userID int64, req ChatRequest) (*ChatOutcome, error) {
	return s.run(ctx, userID, req, nil)
}

// Stream answers over SSE via emit. Failures before the user message is
// persisted return an error with no frames emitted, so the handler can
// answer with a plain HTTP status; later failures are reported through
// error and done frames (and recorded as an assistant reply) instead.
func (s *ChatService) Stream(ctx context.Context, userID int64, req ChatRequest, emit func(Frame) error) error {
	_, err := s.run(ctx, userID, req, emit)
	return err
}

// RegenerateReply produces a fresh assistant answer to an existing user
// message as a sibling of any earlier answers, using the message's
// current content. Backs the regenerate option of the message edit
// endpoint, where the target need not be the conversation's latest turn.
func (s *ChatService) RegenerateReply(ctx context.Context, userID, messageID int64) (*ChatOutcome, error) {
	dbc := dbctx.Context{Ctx: ctx}
	msg, err := s.branch.msgs.GetByID(dbc, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Role != types.RoleUser {
		return nil, apperr.New(apperr.KindInvalid, "only user messages can be regenerated")
	}
	return s.run(ctx, userID, ChatRequest{
		ConversationID: msg.ConversationID,
		Regenerate:     true,
		regenerateFor:  msg,
	}, nil)
}

func (s *ChatService) run(ctx context.Context, userID int64, req ChatRequest, emit func(Frame) error) (*ChatOutcome, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" && !req.Regenerate {
		return nil, apperr.New(apperr.KindInvalid, "message text is required")
	}

	dbc := dbctx.Context{Ctx: ctx}
	conv, err := s.convs.GetOwned(dbc, req.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	provider, isLocal, err := s.providers.ForMode(conv.LLMMode)
	if err != nil {
		return nil, err
	}

	resolution, err := s.branch.ResolveParent(dbc, conv.ID, req)
	if err != nil {
		return nil, err
	}
	query := req.Message
	if resolution.Regenerate && query == "" {
		query = resolution.LatestUser.Content
	}

	history, err := s.branch.BuildBranchHistory(dbc, conv.ID, resolution.ParentID, s.cfg.HistoryMax)
	if err != nil {
		return nil, err
	}

	activeDocs, err := s.docs.ListActiveByConversation(dbc, conv.ID)
	if err != nil {
		return nil, err
	}
	activeIDs := make([]int64, 0, len(activeDocs))
	activeNames := make([]string, 0, len(activeDocs))
	for _, d := range activeDocs {
		activeIDs = append(activeIDs, d.ID)
		activeNames = append(activeNames, d.Filename)
	}

	summary := rag.IsSummaryIntent(query)

	// Summary questions over a corpus too big for one prompt skip
	// retrieval and run the hierarchical summarizer over all chunks.
	hierarchical := false
	var corpus []string
	if summary && len(activeIDs) > 0 {
		rows, err := s.chunks.ListByDocuments(dbc, conv.ID, activeIDs, 0)
		if err != nil {
			return nil, err
		}
		total := 0
		contents := make([]string, 0, len(rows))
		for _, row := range rows {
			total += len(row.Content)
			contents = append(contents, row.Content)
		}
		budget := s.cfg.CloudContextBudget
		if isLocal {
			budget = s.cfg.LocalContextBudget
		}
		if total > budget {
			hierarchical = true
			corpus = contents
		}
	}

	var bundle *rag.ContextBundle
	var contextDocs []llm.ContextDoc
	if !hierarchical {
		bundle, err = s.retrieve(ctx, conv, query, history, activeIDs, summary)
		if err != nil {
			return nil, err
		}
		for _, doc := range bundle.DocumentChunks {
			contextDocs = append(contextDocs, llm.ContextDoc{Source: doc.Source, Content: doc.Content})
		}
	}

	// The user turn is persisted before any lock or LLM call, so a
	// later failure still leaves a coherent pair in the reply graph.
	var userMsg *types.ChatMessage
	if resolution.Regenerate {
		userMsg = resolution.LatestUser
	} else {
		var editGroupID *int64
		version := 1
		if req.IsEdit {
			editGroupID = req.EditGroupID
			if version, err = s.branch.NextVersionIndex(dbc, *editGroupID); err != nil {
				return nil, err
			}
		}
		if userMsg, err = s.branch.AppendUserMessage(dbc, conv.ID, query, resolution.ParentID, editGroupID, version); err != nil {
			return nil, err
		}
	}

	if err := s.locks.AcquireConversation(ctx, conv.ID); err != nil {
		return s.finishWithError(ctx, emit, conv, userMsg, "", err)
	}
	localHeld := false
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		s.locks.ReleaseConversation(conv.ID)
		if localHeld {
			s.locks.ReleaseLocal()
		}
	}
	defer release()

	if isLocal {
		if err := s.locks.AcquireLocal(ctx); err != nil {
			release()
			return s.finishWithError(ctx, emit, conv, userMsg, "", err)
		}
		localHeld = true
	}

	meta := Frame{
		Type:          "meta",
		UserMessageID: &userMsg.ID,
		EditGroupID:   userMsg.EditGroupID,
	}
	if hierarchical {
		meta.Sources = activeNames
	} else {
		meta.Sources = llm.ExtractSources(contextDocs)
		meta.SourceChunks = llm.ExtractSourceChunks(contextDocs)
	}
	if emit != nil {
		if err := emit(meta); err != nil {
			return nil, err
		}
	}

	var accumulated strings.Builder
	onToken := func(tok string) error {
		accumulated.WriteString(tok)
		if emit != nil {
			return emit(Frame{Type: "token", Content: tok})
		}
		return nil
	}

	var result *llm.Result
	if hierarchical {
		text, gerr := s.processor.Summarize(ctx, provider, corpus, isLocal)
		if gerr != nil {
			release()
			return s.finishWithError(ctx, emit, conv, userMsg, accumulated.String(), gerr)
		}
		if err := emitWords(text, onToken); err != nil {
			release()
			return s.disconnect(conv, userMsg, accumulated.String(), err)
		}
		result = &llm.Result{Response: text, Sources: activeNames}
	} else {
		llmReq := llm.Request{
			Query:         query,
			ContextDocs:   contextDocs,
			History:       historyToMessages(bundle.RecentContext),
			AuxContext:    auxContext(bundle),
			Model:         req.CloudModel,
			SummaryIntent: summary,
		}
		streamer, canStream := provider.(llm.Streamer)
		var gerr error
		if canStream && emit != nil {
			result, gerr = streamer.GenerateStream(ctx, llmReq, onToken)
		} else {
			result, gerr = provider.Generate(ctx, llmReq)
			if gerr == nil && emit != nil {
				if err := emitWords(result.Response, onToken); err != nil {
					release()
					return s.disconnect(conv, userMsg, accumulated.String(), err)
				}
			}
		}
		if gerr != nil {
			release()
			if ctx.Err() != nil {
				return s.disconnect(conv, userMsg, accumulated.String(), gerr)
			}
			return s.finishWithError(ctx, emit, conv, userMsg, accumulated.String(), gerr)
		}
	}
	release()

	snapshot := ""
	if bundle != nil {
		snapshot = bundle.CombinedContext
	}
	assistant, err := s.persistAssistant(ctx, conv, userMsg, result.Response, result.Sources, result.SourceChunks, snapshot)
	if err != nil {
		return s.finishWithError(ctx, emit, conv, userMsg, accumulated.String(), err)
	}

	if emit != nil {
		_ = emit(Frame{
			Type:               "done",
			AssistantMessageID: assistant.ID,
			FullResponse:       result.Response,
		})
	}

	return &ChatOutcome{
		UserMessageID:      userMsg.ID,
		EditGroupID:        userMsg.EditGroupID,
		AssistantMessageID: assistant.ID,
		Response:           result.Response,
		Sources:            result.Sources,
		SourceChunks:       result.SourceChunks,
	}, nil
}

func (s *ChatService) retrieve(ctx context.Context, conv *types.Conversation, query string, history []rag.HistoryMessage, activeIDs []int64, summary bool) (*rag.ContextBundle, error) {
	embedder, err := s.reg.Get(conv.EmbeddingProfile)
	if err != nil {
		return nil, err
	}

	nameByDoc := make(map[int64]string)
	docs, err := s.docs.ListByConversation(dbctx.Context{Ctx: ctx}, conv.ID)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		nameByDoc[d.ID] = d.Filename
	}

	searchDocs := func(ctx context.Context, queryVec []float32, k int) ([]rag.RetrievedDoc, error) {
		if len(activeIDs) == 0 {
			return nil, nil
		}
		hits, err := s.vectors.Search(ctx, conv.ID, queryVec, k, activeIDs)
		if err != nil {
			return nil, err
		}
		out := make([]rag.RetrievedDoc, 0, len(hits))
		for _, hit := range hits {
			out = append(out, rag.RetrievedDoc{
				Content: hit.Content,
				Source:  hit.Metadata.Source,
				Score:   hit.AdjustedScore,
			})
		}
		return out, nil
	}
	fallbackChunks := func(ctx context.Context, limit int) ([]rag.RetrievedDoc, error) {
		if len(activeIDs) == 0 {
			return nil, nil
		}
		rows, err := s.chunks.ListByDocuments(dbctx.Context{Ctx: ctx}, conv.ID, activeIDs, limit)
		if err != nil {
			return nil, err
		}
		out := make([]rag.RetrievedDoc, 0, len(rows))
		for _, row := range rows {
			source := ""
			if row.DocumentID != nil {
				source = nameByDoc[*row.DocumentID]
			}
			out = append(out, rag.RetrievedDoc{Content: row.Content, Source: source})
		}
		return out, nil
	}

	retriever := rag.NewRetriever(s.log, embedder, searchDocs, fallbackChunks)
	docK, chatK, recentN := rag.ModeDefaults(conv.LLMMode)
	if summary {
		docK, chatK, recentN = rag.SummaryDefaults()
	}
	return retriever.BuildContext(ctx, query, history, docK, chatK, recentN)
}

// persistAssistant writes the assistant reply and bumps the
// conversation's updatedAt in one commit.
func (s *ChatService) persistAssistant(ctx context.Context, conv *types.Conversation, userMsg *types.ChatMessage, content string, sources []string, sourceChunks []llm.SourceChunk, snapshot string) (*types.ChatMessage, error) {
	var assistant *types.ChatMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		msg, err := s.branch.AppendAssistantMessage(txc, conv.ID, content, &userMsg.ID, sources, sourceChunks, snapshot)
		if err != nil {
			return err
		}
		assistant = msg
		return s.convs.Touch(txc, conv.ID)
	})
	if err != nil {
		return nil, err
	}
	return assistant, nil
}

// finishWithError records the failure as an assistant reply so the user
// turn is not orphaned, then reports it through the stream.
func (s *ChatService) finishWithError(ctx context.Context, emit func(Frame) error, conv *types.Conversation, userMsg *types.ChatMessage, accumulated string, cause error) (*ChatOutcome, error) {
	content := errorContent(accumulated, cause)

	// persistence must survive a cancelled request context
	assistant, perr := s.persistAssistant(context.Background(), conv, userMsg, content, nil, nil, "")
	if perr != nil {
		s.log.Error("Failed to persist error assistant message", "conversation_id", conv.ID, "error", perr)
	}

	if emit != nil {
		_ = emit(Frame{Type: "error", Message: cause.Error()})
		done := Frame{Type: "done", FullResponse: content, Error: true}
		if assistant != nil {
			done.AssistantMessageID = assistant.ID
		}
		_ = emit(done)
	}
	return nil, cause
}

// disconnect handles a client that went away mid-stream: no frames can
// be delivered, but accumulated text is persisted best-effort.
func (s *ChatService) disconnect(conv *types.Conversation, userMsg *types.ChatMessage, accumulated string, cause error) (*ChatOutcome, error) {
	s.log.Warn("Client disconnected mid-stream", "conversation_id", conv.ID, "accumulated", len(accumulated))
	content := errorContent(accumulated, apperr.New(apperr.KindInternal, "response interrupted"))
	if _, perr := s.persistAssistant(context.Background(), conv, userMsg, content, nil, nil, ""); perr != nil {
		s.log.Error("Failed to persist interrupted assistant message", "conversation_id", conv.ID, "error", perr)
	}
	return nil, cause
}

func errorContent(accumulated string, cause error) string {
	marker := "[Error: " + cause.Error() + "]"
	if strings.TrimSpace(accumulated) == "" {
		return marker
	}
	return accumulated + "\n\n" + marker
}

// emitWords simulates token streaming for providers without native
// streaming by emitting space-delimited words.
func emitWords(text string, onToken func(string) error) error {
	words := strings.Fields(text)
	for i, word := range words {
		tok := word
		if i < len(words)-1 {
			tok += " "
		}
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

func historyToMessages(history []rag.HistoryMessage) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, h := range history {
		out = append(out, llm.Message{Role: h.Role, Content: h.Content})
	}
	return out
}

func auxContext(b *rag.ContextBundle) string {
	if b == nil || len(b.RelevantChatHistory) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, hit := range b.RelevantChatHistory {
		sb.WriteString(hit.Text)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

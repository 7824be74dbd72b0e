package llm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/logger"
)

// Locks serializes LLM calls per conversation and caps concurrent local
// model calls process-wide. Release never blocks on the caller's context
// so a client disconnect cannot leak a held lock.
type Locks struct {
	log *logger.Logger

	mu            sync.Mutex
	conversations map[int64]*convLock

	localSem     *semaphore.Weighted
	convTimeout  time.Duration
	localTimeout time.Duration
}

type convLock struct {
	ch      chan struct{}
	held    bool
	waiters int
}

type LocksConfig struct {
	ConversationTimeout time.Duration
	LocalTimeout        time.Duration
	LocalMaxParallel    int64
}

func NewLocks(log *logger.Logger, cfg LocksConfig) *Locks {
	if cfg.ConversationTimeout <= 0 {
		cfg.ConversationTimeout = 300 * time.Second
	}
	if cfg.LocalTimeout <= 0 {
		cfg.LocalTimeout = 180 * time.Second
	}
	if cfg.LocalMaxParallel <= 0 {
		cfg.LocalMaxParallel = 6
	}
	return &Locks{
		log:           log.With("service", "LLMLocks"),
		conversations: make(map[int64]*convLock),
		localSem:      semaphore.NewWeighted(cfg.LocalMaxParallel),
		convTimeout:   cfg.ConversationTimeout,
		localTimeout:  cfg.LocalTimeout,
	}
}

// AcquireConversation blocks until the conversation is free, the timeout
// elapses, or ctx is cancelled. On success the caller owns the lock and
// must call ReleaseConversation exactly once.
func (l *Locks) AcquireConversation(ctx context.Context, conversationID int64) error {
	l.mu.Lock()
	entry, ok := l.conversations[conversationID]
	if !ok {
		entry = &convLock{ch: make(chan struct{}, 1)}
		l.conversations[conversationID] = entry
	}
	entry.waiters++
	l.mu.Unlock()

	timer := time.NewTimer(l.convTimeout)
	defer timer.Stop()

	select {
	case entry.ch <- struct{}{}:
		l.mu.Lock()
		entry.held = true
		entry.waiters--
		l.mu.Unlock()
		return nil
	case <-timer.C:
		l.abandonWait(conversationID, entry)
		return apperr.New(apperr.KindBusy, "Another request is in progress for this conversation. Please wait.")
	case <-ctx.Done():
		l.abandonWait(conversationID, entry)
		return ctx.Err()
	}
}

// ReleaseConversation is idempotent and deliberately context-free: it
// must succeed even when the request that acquired the lock is gone.
func (l *Locks) ReleaseConversation(conversationID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.conversations[conversationID]
	if !ok || !entry.held {
		return
	}
	entry.held = false
	<-entry.ch

	if entry.waiters == 0 {
		delete(l.conversations, conversationID)
	}
}

func (l *Locks) abandonWait(conversationID int64, entry *convLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.waiters--
	// entries are only collected while nobody holds or awaits them
	if !entry.held && entry.waiters == 0 {
		delete(l.conversations, conversationID)
	}
}

// AcquireLocal reserves one slot of the global local-model cap.
func (l *Locks) AcquireLocal(ctx context.Context) error {
	ctx2, cancel := context.WithTimeout(ctx, l.localTimeout)
	defer cancel()

	if err := l.localSem.Acquire(ctx2, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.New(apperr.KindBusy, "Local model is at capacity. Please retry shortly.")
	}
	return nil
}

func (l *Locks) ReleaseLocal() {
	l.localSem.Release(1)
}

// HeldConversations reports how many conversation locks are currently
// held; used by tests and the health endpoint.
func (l *Locks) HeldConversations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, entry := range l.conversations {
		if entry.held {
			n++
		}
	}
	return n
}

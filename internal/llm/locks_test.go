package llm

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/logger"
)

func newTestLocks(convTimeout time.Duration) *Locks {
	return NewLocks(logger.NewNop(), LocksConfig{
		ConversationTimeout: convTimeout,
		LocalTimeout:        time.Second,
		LocalMaxParallel:    2,
	})
}

func TestConversationLockSerializes(t *testing.T) {
	locks := newTestLocks(5 * time.Second)

	var inFlight int32
	var maxInFlight int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := locks.AcquireConversation(context.Background(), 1); err != nil {
				t.Errorf("AcquireConversation: %v", err)
				return
			}
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				prev := atomic.LoadInt32(&maxInFlight)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			locks.ReleaseConversation(1)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("max in-flight: want=1 got=%d", got)
	}
	if held := locks.HeldConversations(); held != 0 {
		t.Fatalf("locks still held after completion: %d", held)
	}
}

func TestConversationLockTimeoutIsBusy(t *testing.T) {
	locks := newTestLocks(50 * time.Millisecond)

	if err := locks.AcquireConversation(context.Background(), 1); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer locks.ReleaseConversation(1)

	err := locks.AcquireConversation(context.Background(), 1)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if apperr.KindOf(err) != apperr.KindBusy {
		t.Fatalf("kind: want=busy got=%v", apperr.KindOf(err))
	}
}

func TestConversationLocksAreIndependent(t *testing.T) {
	locks := newTestLocks(time.Second)

	if err := locks.AcquireConversation(context.Background(), 1); err != nil {
		t.Fatalf("acquire conv 1: %v", err)
	}
	if err := locks.AcquireConversation(context.Background(), 2); err != nil {
		t.Fatalf("acquire conv 2 should not block: %v", err)
	}
	locks.ReleaseConversation(1)
	locks.ReleaseConversation(2)
}

func TestReleaseIsIdempotent(t *testing.T) {
	locks := newTestLocks(time.Second)
	if err := locks.AcquireConversation(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	locks.ReleaseConversation(1)
	locks.ReleaseConversation(1)
	locks.ReleaseConversation(99)

	// lock must be reusable afterwards
	if err := locks.AcquireConversation(context.Background(), 1); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	locks.ReleaseConversation(1)
}

func TestEntryCollectedAfterRelease(t *testing.T) {
	locks := newTestLocks(time.Second)
	if err := locks.AcquireConversation(context.Background(), 7); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	locks.ReleaseConversation(7)

	locks.mu.Lock()
	_, exists := locks.conversations[7]
	locks.mu.Unlock()
	if exists {
		t.Fatalf("entry not collected after release with no waiters")
	}
}

func TestCancelledWaiterDoesNotLeak(t *testing.T) {
	locks := newTestLocks(5 * time.Second)
	if err := locks.AcquireConversation(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- locks.AcquireConversation(ctx, 1) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-done; err == nil {
		t.Fatalf("expected cancellation error")
	}
	locks.ReleaseConversation(1)

	locks.mu.Lock()
	_, exists := locks.conversations[1]
	locks.mu.Unlock()
	if exists {
		t.Fatalf("entry leaked after cancelled waiter and release")
	}
}

func TestRandomCancellationLeavesLockFree(t *testing.T) {
	locks := newTestLocks(time.Second)
	rng := rand.New(rand.NewSource(42))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(cancelAfter time.Duration) {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				time.Sleep(cancelAfter)
				cancel()
			}()
			if err := locks.AcquireConversation(ctx, 3); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
			locks.ReleaseConversation(3)
		}(time.Duration(rng.Intn(5)) * time.Millisecond)
	}
	wg.Wait()

	if err := locks.AcquireConversation(context.Background(), 3); err != nil {
		t.Fatalf("lock not free after cancellation storm: %v", err)
	}
	locks.ReleaseConversation(3)
	if held := locks.HeldConversations(); held != 0 {
		t.Fatalf("held locks remain: %d", held)
	}
}

func TestLocalSemaphoreCap(t *testing.T) {
	locks := newTestLocks(time.Second)

	if err := locks.AcquireLocal(context.Background()); err != nil {
		t.Fatalf("acquire local 1: %v", err)
	}
	if err := locks.AcquireLocal(context.Background()); err != nil {
		t.Fatalf("acquire local 2: %v", err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := locks.AcquireLocal(ctx)
	if err == nil {
		t.Fatalf("expected third local acquire to fail at cap")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("local acquire did not respect context deadline")
	}

	locks.ReleaseLocal()
	locks.ReleaseLocal()

	if err := locks.AcquireLocal(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	locks.ReleaseLocal()
}

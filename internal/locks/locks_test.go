package locks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

func TestWithLockIsExclusivePerIdentity(test *testing.T) {
	test.Parallel()
	manager := NewManager()
	identity := mustIdentity(test, "user-1")
	var (
		active    int32
		maxActive int32
		waitGroup sync.WaitGroup
	)
	for index := 0; index < 20; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			err := manager.WithLock(context.Background(), identity, func(ctx context.Context) error {
				current := atomic.AddInt32(&active, 1)
				for {
					observed := atomic.LoadInt32(&maxActive)
					if current <= observed || atomic.CompareAndSwapInt32(&maxActive, observed, current) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			if err != nil {
				test.Errorf("with lock: %v", err)
			}
		}()
	}
	waitGroup.Wait()
	if maxActive != 1 {
		test.Fatalf("expected at most one holder, observed %d", maxActive)
	}
	if manager.Len() != 0 {
		test.Fatalf("expected empty lock table, got %d", manager.Len())
	}
}

func TestDifferentIdentitiesDoNotBlock(test *testing.T) {
	test.Parallel()
	manager := NewManager(WithTimeout(50 * time.Millisecond))
	first, err := manager.Acquire(context.Background(), mustIdentity(test, "user-1"))
	if err != nil {
		test.Fatalf("acquire first: %v", err)
	}
	defer first.Release()
	second, err := manager.Acquire(context.Background(), mustIdentity(test, "user-2"))
	if err != nil {
		test.Fatalf("acquire second while first held: %v", err)
	}
	second.Release()
}

func TestAcquireTimesOut(test *testing.T) {
	test.Parallel()
	var (
		observedMutex sync.Mutex
		failures      int
	)
	manager := NewManager(
		WithTimeout(20*time.Millisecond),
		WithWaitObserver(func(_ time.Duration, acquired bool) {
			observedMutex.Lock()
			defer observedMutex.Unlock()
			if !acquired {
				failures++
			}
		}),
	)
	identity := mustIdentity(test, "user-1")
	holder, err := manager.Acquire(context.Background(), identity)
	if err != nil {
		test.Fatalf("acquire: %v", err)
	}
	_, err = manager.Acquire(context.Background(), identity)
	if !errors.Is(err, ErrLockTimeout) {
		test.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	holder.Release()
	if manager.Held(identity) {
		test.Fatalf("expected identity released")
	}
	observedMutex.Lock()
	defer observedMutex.Unlock()
	if failures != 1 {
		test.Fatalf("expected one failed acquisition observed, got %d", failures)
	}
}

func TestAcquireHonorsCancellation(test *testing.T) {
	test.Parallel()
	manager := NewManager()
	identity := mustIdentity(test, "user-1")
	holder, err := manager.Acquire(context.Background(), identity)
	if err != nil {
		test.Fatalf("acquire: %v", err)
	}
	defer holder.Release()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := manager.Acquire(ctx, identity); !errors.Is(err, context.Canceled) {
		test.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWithLockReleasesOnErrorAndPanic(test *testing.T) {
	test.Parallel()
	manager := NewManager(WithTimeout(50 * time.Millisecond))
	identity := mustIdentity(test, "user-1")
	errWork := errors.New("work failed")
	if err := manager.WithLock(context.Background(), identity, func(context.Context) error { return errWork }); !errors.Is(err, errWork) {
		test.Fatalf("expected work error, got %v", err)
	}
	func() {
		defer func() {
			if recovered := recover(); recovered == nil {
				test.Fatalf("expected panic to propagate")
			}
		}()
		_ = manager.WithLock(context.Background(), identity, func(context.Context) error { panic("boom") })
	}()
	if manager.Held(identity) {
		test.Fatalf("expected lock released after panic")
	}
	if err := manager.WithLock(context.Background(), identity, func(context.Context) error { return nil }); err != nil {
		test.Fatalf("expected lock available, got %v", err)
	}
}

func TestReleaseIsIdempotent(test *testing.T) {
	test.Parallel()
	manager := NewManager()
	identity := mustIdentity(test, "user-1")
	guard, err := manager.Acquire(context.Background(), identity)
	if err != nil {
		test.Fatalf("acquire: %v", err)
	}
	guard.Release()
	guard.Release()
	var nilGuard *Guard
	nilGuard.Release()
	if manager.Len() != 0 {
		test.Fatalf("expected empty table, got %d", manager.Len())
	}
}

func TestAcquireRejectsEmptyIdentity(test *testing.T) {
	test.Parallel()
	if _, err := NewManager().Acquire(context.Background(), ledger.Identity{}); !errors.Is(err, ledger.ErrInvalidIdentity) {
		test.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

func mustIdentity(test *testing.T, raw string) ledger.Identity {
	test.Helper()
	identity, err := ledger.NewIdentity(raw)
	if err != nil {
		test.Fatalf("identity: %v", err)
	}
	return identity
}

// Package locks serializes work per identity without blocking other identities.
package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

// DefaultTimeout bounds how long Acquire waits for a busy identity.
const DefaultTimeout = 30 * time.Second

// ErrLockTimeout is returned when the lock could not be acquired in time.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Option configures a Manager.
type Option func(*Manager)

// WaitObserver receives how long each acquisition waited and whether it succeeded.
type WaitObserver func(waited time.Duration, acquired bool)

// WithTimeout overrides DefaultTimeout. Non-positive values disable the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(manager *Manager) {
		manager.timeout = timeout
	}
}

// WithWaitObserver wires a callback invoked after every acquisition attempt.
func WithWaitObserver(observer WaitObserver) Option {
	return func(manager *Manager) {
		manager.observer = observer
	}
}

// Manager hands out one lock per identity. Waiters are served in arrival order.
type Manager struct {
	mutex    sync.Mutex
	locks    map[string]*identityLock
	timeout  time.Duration
	observer WaitObserver
	nowFn    func() time.Time
}

type identityLock struct {
	token chan struct{}
	refs  int
}

// Guard is a held lock. Release is safe to call more than once.
type Guard struct {
	manager  *Manager
	identity string
	lock     *identityLock
	once     sync.Once
}

// NewManager builds an empty lock table.
func NewManager(options ...Option) *Manager {
	manager := &Manager{
		locks:   map[string]*identityLock{},
		timeout: DefaultTimeout,
		nowFn:   time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(manager)
		}
	}
	return manager
}

// Acquire waits for the identity's lock, the timeout or ctx cancellation.
func (manager *Manager) Acquire(ctx context.Context, identity ledger.Identity) (*Guard, error) {
	key := identity.String()
	if key == "" {
		return nil, fmt.Errorf("%w: empty value", ledger.ErrInvalidIdentity)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock := manager.reference(key)
	waitCtx := ctx
	if manager.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, manager.timeout)
		defer cancel()
	}
	started := manager.nowFn()
	select {
	case lock.token <- struct{}{}:
		manager.observe(started, true)
		return &Guard{manager: manager, identity: key, lock: lock}, nil
	case <-waitCtx.Done():
		manager.dereference(key, lock)
		manager.observe(started, false)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: identity %s after %s", ErrLockTimeout, key, manager.timeout)
	}
}

// WithLock runs fn while holding the identity's lock. The lock is released on
// every exit path, including panics.
func (manager *Manager) WithLock(ctx context.Context, identity ledger.Identity, fn func(ctx context.Context) error) error {
	guard, err := manager.Acquire(ctx, identity)
	if err != nil {
		return err
	}
	defer guard.Release()
	return fn(ctx)
}

// Held reports whether the identity currently has a holder or waiters.
func (manager *Manager) Held(identity ledger.Identity) bool {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	_, found := manager.locks[identity.String()]
	return found
}

// Len returns the number of identities with in-flight work.
func (manager *Manager) Len() int {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return len(manager.locks)
}

// Release frees the lock and drops the table entry once nobody references it.
func (guard *Guard) Release() {
	if guard == nil {
		return
	}
	guard.once.Do(func() {
		<-guard.lock.token
		guard.manager.dereference(guard.identity, guard.lock)
	})
}

func (manager *Manager) reference(key string) *identityLock {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	lock, found := manager.locks[key]
	if !found {
		lock = &identityLock{token: make(chan struct{}, 1)}
		manager.locks[key] = lock
	}
	lock.refs++
	return lock
}

func (manager *Manager) dereference(key string, lock *identityLock) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(manager.locks, key)
	}
}

func (manager *Manager) observe(started time.Time, acquired bool) {
	if manager.observer == nil {
		return
	}
	manager.observer(manager.nowFn().Sub(started), acquired)
}

package webhook

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// DefaultEventSetCapacity bounds the in-memory processed event set.
const DefaultEventSetCapacity = 200

// EventSet remembers processed event ids. MarkProcessed fails with
// ErrAlreadyProcessed when the id was claimed before.
type EventSet interface {
	IsDuplicate(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
	Forget(ctx context.Context, eventID string) error
}

// MemoryEventSet is a bounded set evicting the oldest id first.
type MemoryEventSet struct {
	mutex    sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewMemoryEventSet builds a set holding at most capacity ids.
func NewMemoryEventSet(capacity int) *MemoryEventSet {
	if capacity <= 0 {
		capacity = DefaultEventSetCapacity
	}
	return &MemoryEventSet{capacity: capacity, order: list.New(), index: map[string]*list.Element{}}
}

func (set *MemoryEventSet) IsDuplicate(_ context.Context, eventID string) (bool, error) {
	set.mutex.Lock()
	defer set.mutex.Unlock()
	_, found := set.index[eventID]
	return found, nil
}

func (set *MemoryEventSet) MarkProcessed(_ context.Context, eventID string) error {
	set.mutex.Lock()
	defer set.mutex.Unlock()
	if _, found := set.index[eventID]; found {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, eventID)
	}
	set.index[eventID] = set.order.PushBack(eventID)
	for set.order.Len() > set.capacity {
		oldest := set.order.Front()
		set.order.Remove(oldest)
		delete(set.index, oldest.Value.(string))
	}
	return nil
}

func (set *MemoryEventSet) Forget(_ context.Context, eventID string) error {
	set.mutex.Lock()
	defer set.mutex.Unlock()
	if element, found := set.index[eventID]; found {
		set.order.Remove(element)
		delete(set.index, eventID)
	}
	return nil
}

// Len returns the number of remembered ids.
func (set *MemoryEventSet) Len() int {
	set.mutex.Lock()
	defer set.mutex.Unlock()
	return set.order.Len()
}

package dubbing

import (
	"context"
	"fmt"
	"sync"

	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

// DefaultHistoryLimit bounds the number of jobs kept per identity by MemoryHistory.
const DefaultHistoryLimit = 50

// HistoryItem describes one finished dubbing job.
type HistoryItem struct {
	JobID          string
	Identity       ledger.Identity
	FileName       string
	InputName      string
	AudioLocation  string
	CreditsUsed    ledger.Credits
	Language       string
	Voice          string
	Provider       string
	CreatedUnixUTC int64
}

// HistoryFinder looks up a single job owned by an identity.
type HistoryFinder interface {
	Find(ctx context.Context, identity ledger.Identity, jobID string) (HistoryItem, error)
}

// HistoryRecorder stores finished jobs per identity.
type HistoryRecorder interface {
	Record(ctx context.Context, item HistoryItem) error
	List(ctx context.Context, identity ledger.Identity, limit int) ([]HistoryItem, error)
}

// MemoryHistory keeps the most recent jobs per identity in memory.
type MemoryHistory struct {
	mutex   sync.Mutex
	limit   int
	entries map[string][]HistoryItem
}

// NewMemoryHistory builds a recorder retaining limit jobs per identity.
func NewMemoryHistory(limit int) *MemoryHistory {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MemoryHistory{limit: limit, entries: map[string][]HistoryItem{}}
}

// Record appends a job and evicts the oldest beyond the limit.
func (history *MemoryHistory) Record(_ context.Context, item HistoryItem) error {
	history.mutex.Lock()
	defer history.mutex.Unlock()
	key := item.Identity.String()
	items := append(history.entries[key], item)
	if len(items) > history.limit {
		items = items[len(items)-history.limit:]
	}
	history.entries[key] = items
	return nil
}

// List returns up to limit jobs, newest first.
func (history *MemoryHistory) List(_ context.Context, identity ledger.Identity, limit int) ([]HistoryItem, error) {
	history.mutex.Lock()
	defer history.mutex.Unlock()
	items := history.entries[identity.String()]
	result := make([]HistoryItem, 0, len(items))
	for index := len(items) - 1; index >= 0; index-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, items[index])
	}
	return result, nil
}

// Find returns the job with jobID when identity owns it, else ErrJobNotFound.
func (history *MemoryHistory) Find(_ context.Context, identity ledger.Identity, jobID string) (HistoryItem, error) {
	history.mutex.Lock()
	defer history.mutex.Unlock()
	for _, item := range history.entries[identity.String()] {
		if item.JobID == jobID {
			return item, nil
		}
	}
	return HistoryItem{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
}

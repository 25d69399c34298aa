package transaction

import (
	"context"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record // keyed by business transaction id
}

// NewMemoryRepository constructs an in-memory repository for tests and dev mode.
func NewMemoryRepository() Repository {
	return &memoryRepository{records: make(map[string]Record)}
}

func (r *memoryRepository) Create(_ context.Context, record Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.TransactionID]; exists {
		return ErrDuplicate
	}
	r.records[record.TransactionID] = record
	return nil
}

func (r *memoryRepository) Get(_ context.Context, transactionID string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[transactionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record, nil
}

func (r *memoryRepository) Update(_ context.Context, record Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.TransactionID]; !exists {
		return ErrNotFound
	}
	r.records[record.TransactionID] = record
	return nil
}

func (r *memoryRepository) ListByWallet(_ context.Context, walletID string) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []Record
	for _, record := range r.records {
		if record.FromWalletID == walletID || record.ToWalletID == walletID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

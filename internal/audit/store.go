package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

// Store persists receipts for audit retrieval. Stores are append-only per
// quote and must return receipts in append order.
type Store interface {
	Append(ctx context.Context, receipt *rfq.Receipt) error
	List(ctx context.Context, quoteID uuid.UUID) ([]*rfq.Receipt, error)
	Close() error
}

// MemoryStore is the engine's default store: per-quote receipt slices behind
// one RWMutex. Receipts are immutable so callers share the stored pointers.
type MemoryStore struct {
	mu       sync.RWMutex
	receipts map[uuid.UUID][]*rfq.Receipt
}

// NewMemoryStore creates an empty in-memory receipt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{receipts: make(map[uuid.UUID][]*rfq.Receipt)}
}

func (s *MemoryStore) Append(ctx context.Context, receipt *rfq.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[receipt.QuoteID] = append(s.receipts[receipt.QuoteID], receipt)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, quoteID uuid.UUID) ([]*rfq.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.receipts[quoteID]
	out := make([]*rfq.Receipt, len(stored))
	copy(out, stored)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

package journal

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrDuplicate is returned when an entry id was already appended.
var ErrDuplicate = errors.New("journal entry already exists")

// Entry records one finished workflow. Entries are written once and never used to
// resume or de-duplicate later requests. ID is assigned by the server;
// ClientRequestID is whatever id the caller supplied and may repeat.
type Entry struct {
	ID              string    `json:"id"`
	ClientRequestID string    `json:"clientRequestId,omitempty"`
	Receiver        string    `json:"receiver"`
	Destination     string    `json:"destination"`
	TokenID         string    `json:"tokenId,omitempty"`
	Success         bool      `json:"success"`
	State           string    `json:"state"`
	Step            string    `json:"step,omitempty"`
	Error           string    `json:"error,omitempty"`
	MintTx          string    `json:"mintTx,omitempty"`
	TransferTx      string    `json:"transferTx,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// Store abstracts journal persistence.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	Ping(ctx context.Context) error
}

// MemoryStore keeps the most recent entries in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	limit int
	order []string
	data  map[string]Entry
}

// NewMemoryStore keeps at most limit entries, dropping the oldest first. A limit of
// zero or less keeps everything.
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{
		limit: limit,
		data:  make(map[string]Entry),
	}
}

func (m *MemoryStore) Append(_ context.Context, entry Entry) error {
	if entry.ID == "" {
		return errors.New("journal entry id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[entry.ID]; ok {
		return errors.Wrap(ErrDuplicate, entry.ID)
	}
	m.data[entry.ID] = entry
	m.order = append(m.order, entry.ID)
	if m.limit > 0 && len(m.order) > m.limit {
		evict := m.order[0]
		m.order = m.order[1:]
		delete(m.data, evict)
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.data[id]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

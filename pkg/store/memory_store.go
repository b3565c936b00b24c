package store

import (
	"context"
	"sync"
	"time"

	"casedesk/pkg/domain"
)

// MemoryStore keeps all records in-process. The single mutex serializes
// mutations, which trivially satisfies the per-case ordering guarantees of
// the Store contract. Used in tests and for local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	cases   map[string]domain.Case
	order   []string
	updates map[string][]domain.Update
	lastSeq map[string]int64
	docs    map[string][]domain.Document
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:   make(map[string]domain.Case),
		updates: make(map[string][]domain.Update),
		lastSeq: make(map[string]int64),
		docs:    make(map[string][]domain.Document),
	}
}

func (m *MemoryStore) CreateCase(_ context.Context, c domain.Case) (domain.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.cases[c.ID]; !exists {
		m.order = append(m.order, c.ID)
	}
	m.cases[c.ID] = c
	return c, nil
}

func (m *MemoryStore) GetCase(_ context.Context, id string) (domain.Case, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	return c, ok, nil
}

func (m *MemoryStore) ListCases(_ context.Context) ([]domain.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Case, 0, len(m.order))
	for _, id := range m.order {
		if c, ok := m.cases[id]; ok {
			res = append(res, c)
		}
	}
	return res, nil
}

func (m *MemoryStore) ListCasesByCustomer(_ context.Context, customerID string) ([]domain.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Case, 0, len(m.order))
	for _, id := range m.order {
		if c, ok := m.cases[id]; ok && c.CustomerID == customerID {
			res = append(res, c)
		}
	}
	return res, nil
}

func (m *MemoryStore) ApplyTransition(_ context.Context, caseID string, from, to domain.CaseStatus, upd domain.Update) (domain.Case, domain.Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[caseID]
	if !ok {
		return domain.Case{}, domain.Update{}, domain.ErrNotFound
	}
	if c.Status != from {
		return domain.Case{}, domain.Update{}, ErrConflict
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	appended := m.appendLocked(caseID, upd)
	m.cases[caseID] = c
	return c, appended, nil
}

func (m *MemoryStore) SetPriority(_ context.Context, caseID string, p domain.Priority, upd domain.Update) (domain.Case, domain.Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[caseID]
	if !ok {
		return domain.Case{}, domain.Update{}, domain.ErrNotFound
	}
	c.Priority = p
	c.UpdatedAt = time.Now().UTC()
	appended := m.appendLocked(caseID, upd)
	m.cases[caseID] = c
	return c, appended, nil
}

func (m *MemoryStore) AppendUpdate(_ context.Context, upd domain.Update) (domain.Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[upd.CaseID]
	if !ok {
		return domain.Update{}, domain.ErrNotFound
	}
	appended := m.appendLocked(upd.CaseID, upd)
	c.UpdatedAt = time.Now().UTC()
	m.cases[upd.CaseID] = c
	return appended, nil
}

func (m *MemoryStore) ListUpdates(_ context.Context, caseID string) ([]domain.Update, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Update, len(m.updates[caseID]))
	copy(res, m.updates[caseID])
	return res, nil
}

func (m *MemoryStore) AttachDocument(_ context.Context, doc domain.Document, upd domain.Update) (domain.Document, domain.Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[doc.CaseID]
	if !ok {
		return domain.Document{}, domain.Update{}, domain.ErrNotFound
	}
	m.docs[doc.CaseID] = append(m.docs[doc.CaseID], doc)
	appended := m.appendLocked(doc.CaseID, upd)
	c.UpdatedAt = time.Now().UTC()
	m.cases[doc.CaseID] = c
	return doc, appended, nil
}

func (m *MemoryStore) GetDocument(_ context.Context, caseID, docID string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.docs[caseID] {
		if d.ID == docID {
			return d, true, nil
		}
	}
	return domain.Document{}, false, nil
}

func (m *MemoryStore) DetachDocument(_ context.Context, caseID, docID string, upd domain.Update) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[caseID]
	if !ok {
		return false, domain.ErrNotFound
	}
	docs := m.docs[caseID]
	for i, d := range docs {
		if d.ID != docID {
			continue
		}
		if d.Deleted() {
			return false, nil
		}
		now := time.Now().UTC()
		docs[i].DeletedAt = &now
		m.appendLocked(caseID, upd)
		c.UpdatedAt = now
		m.cases[caseID] = c
		return true, nil
	}
	return false, domain.ErrNotFound
}

func (m *MemoryStore) ListDocuments(_ context.Context, caseID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, len(m.docs[caseID]))
	copy(res, m.docs[caseID])
	return res, nil
}

// appendLocked assigns the next per-case sequence number. Callers must hold
// the write lock.
func (m *MemoryStore) appendLocked(caseID string, upd domain.Update) domain.Update {
	m.lastSeq[caseID]++
	upd.Seq = m.lastSeq[caseID]
	if upd.CreatedAt.IsZero() {
		upd.CreatedAt = time.Now().UTC()
	}
	m.updates[caseID] = append(m.updates[caseID], upd)
	return upd
}

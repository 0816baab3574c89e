package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store with a real uniqueness constraint on
// (client, month, year)
type memStore struct {
	mu    sync.Mutex
	byID  map[string]*Invoice
	byKey map[string]string

	// beforeInsert runs inside InsertIfAbsent before the uniqueness check
	beforeInsert func(s *memStore, inv *Invoice)
	// hideAfterInsert makes every read miss once a record was inserted
	hideAfterInsert bool
	hidden          bool

	updates int
	inserts int
}

func newMemStore() *memStore {
	return &memStore{
		byID:  make(map[string]*Invoice),
		byKey: make(map[string]string),
	}
}

func key(clientID string, p Period) string {
	return clientID + "/" + p.String()
}

func clone(inv *Invoice) *Invoice {
	c := *inv
	if inv.PaidAt != nil {
		t := *inv.PaidAt
		c.PaidAt = &t
	}
	return &c
}

// put stores a record directly, bypassing hooks
func (s *memStore) put(inv *Invoice) {
	s.byID[inv.ID] = clone(inv)
	s.byKey[key(inv.ClientID, inv.Period())] = inv.ID
}

func (s *memStore) GetByID(ctx context.Context, id string) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[id]
	if !ok || s.hidden {
		return nil, ErrNotFound
	}
	return clone(inv), nil
}

func (s *memStore) FindByPeriod(ctx context.Context, clientID string, p Period) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key(clientID, p)]
	if !ok || s.hidden {
		return nil, ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *memStore) InsertIfAbsent(ctx context.Context, inv *Invoice) (InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beforeInsert != nil {
		s.beforeInsert(s, inv)
	}
	if _, exists := s.byKey[key(inv.ClientID, inv.Period())]; exists {
		return AlreadyExists{}, nil
	}
	s.put(inv)
	s.inserts++
	if s.hideAfterInsert {
		s.hidden = true
	}
	return Inserted{Invoice: clone(inv)}, nil
}

func (s *memStore) Update(ctx context.Context, inv *Invoice) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[inv.ID]
	if !ok {
		return nil, ErrNotFound
	}
	next := clone(inv)
	next.Status = stored.Status
	next.PaidAt = stored.PaidAt
	s.byID[inv.ID] = next
	s.updates++
	return clone(next), nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id string, status Status, at time.Time) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	stored.setStatus(status, at)
	stored.UpdatedAt = at
	s.updates++
	return clone(stored), nil
}

func (s *memStore) ListByClient(ctx context.Context, clientID string) ([]*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Invoice
	for _, inv := range s.byID {
		if inv.ClientID == clientID {
			out = append(out, clone(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BillingYear != out[j].BillingYear {
			return out[i].BillingYear > out[j].BillingYear
		}
		return out[i].BillingMonth > out[j].BillingMonth
	})
	return out, nil
}

func (s *memStore) ListByPeriod(ctx context.Context, p Period) ([]*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Invoice
	for _, inv := range s.byID {
		if inv.Period() == p {
			out = append(out, clone(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceNumber < out[j].InvoiceNumber })
	return out, nil
}

func (s *memStore) MarkOverdue(ctx context.Context, asOf, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, inv := range s.byID {
		if inv.Status == StatusGenerated && inv.DueDate.Before(asOf) {
			inv.Status = StatusOverdue
			inv.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

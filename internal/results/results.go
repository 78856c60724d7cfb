// Package results is the token-keyed store through which slow commands
// report their outcome. Records expire after a fixed TTL; an expired
// record is indistinguishable from one that was never written.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("result not found")
	ErrExists   = errors.New("result already exists")
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusError }

type Record struct {
	Token     string          `json:"token"`
	Status    Status          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Store is shared by the dispatcher, the workers and the results endpoint.
type Store interface {
	// Put replaces the record for token as a whole and restarts its TTL.
	Put(ctx context.Context, token string, status Status, payload json.RawMessage) error
	// Create writes a fresh record only when no live one holds token,
	// returning ErrExists otherwise.
	Create(ctx context.Context, token string, status Status) error
	Get(ctx context.Context, token string) (Record, error)
	Delete(ctx context.Context, token string) error
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryStore{records: make(map[string]Record), ttl: ttl, now: time.Now}
}

// SetClock overrides the time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Put(_ context.Context, token string, status Status, payload json.RawMessage) error {
	if token == "" {
		return errors.New("empty token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	rec := Record{
		Token:     token,
		Status:    status,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if prev, ok := s.records[token]; ok && now.Before(prev.ExpiresAt) {
		rec.CreatedAt = prev.CreatedAt
	}
	s.records[token] = rec
	return nil
}

func (s *MemoryStore) Create(_ context.Context, token string, status Status) error {
	if token == "" {
		return errors.New("empty token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if prev, ok := s.records[token]; ok && now.Before(prev.ExpiresAt) {
		return ErrExists
	}
	s.records[token] = Record{Token: token, Status: status, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, token string) (Record, error) {
	s.mu.RLock()
	rec, ok := s.records[token]
	now := s.now()
	s.mu.RUnlock()
	if !ok || !now.Before(rec.ExpiresAt) {
		return Record{}, ErrNotFound
	}
	rec.Payload = append(json.RawMessage(nil), rec.Payload...)
	return rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.records, token)
	s.mu.Unlock()
	return nil
}

// Evict removes expired records and returns how many were dropped.
func (s *MemoryStore) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, rec := range s.records {
		if !now.Before(rec.ExpiresAt) {
			delete(s.records, token)
			n++
		}
	}
	return n
}

// Len counts records still held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Sweep evicts with the store's own clock.
func (s *MemoryStore) Sweep() int {
	s.mu.RLock()
	now := s.now()
	s.mu.RUnlock()
	return s.Evict(now)
}

// ErrorPayload is the payload stored for a failed command.
func ErrorPayload(err error) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return data
}

package queue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type RecordType string

const (
	EnqueueRecord RecordType = "ENQUEUE"
	AckRecord     RecordType = "ACK"
)

// Record is one line of the journal.
type Record struct {
	Type      RecordType `json:"type"`
	ID        string     `json:"id"`
	Topic     string     `json:"topic"`
	Payload   []byte     `json:"payload,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Journal is an append-only JSONL log of enqueues and acks.
type Journal struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Journal{path: path, f: f}, nil
}

func (j *Journal) Append(rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(j.f).Encode(rec); err != nil {
		return fmt.Errorf("encode append: %w", err)
	}
	return nil
}

// Replay returns the enqueues that were never acked, oldest first, and
// rewrites the journal to hold only those.
func (j *Journal) Replay() ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.compactUnlocked()
}

// Compact drops acked enqueues and their acks from the journal while it
// stays open for appends. It returns how many enqueues remain.
func (j *Journal) Compact() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return 0, ErrClosed
	}
	out, err := j.compactUnlocked()
	return len(out), err
}

func (j *Journal) compactUnlocked() ([]Record, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return nil, fmt.Errorf("open read: %w", err)
	}
	s := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	s.Buffer(buf, 10*1024*1024)

	var order []string
	pending := make(map[string]Record)
	for s.Scan() {
		line := s.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// torn tail after a crash
			continue
		}
		switch rec.Type {
		case EnqueueRecord:
			if _, ok := pending[rec.ID]; !ok {
				order = append(order, rec.ID)
			}
			pending[rec.ID] = rec
		case AckRecord:
			delete(pending, rec.ID)
		}
	}
	_ = f.Close()
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	out := make([]Record, 0, len(pending))
	for _, id := range order {
		if rec, ok := pending[id]; ok {
			out = append(out, rec)
		}
	}
	if err := j.rewriteUnlocked(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *Journal) rewriteUnlocked(records []Record) error {
	tmp := j.path + ".tmp"
	wf, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open compact: %w", err)
	}
	enc := json.NewEncoder(wf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			_ = wf.Close()
			return fmt.Errorf("encode compact: %w", err)
		}
	}
	if err := wf.Close(); err != nil {
		return err
	}
	if j.f != nil {
		_ = j.f.Close()
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("swap journal: %w", err)
	}
	j.f, err = os.OpenFile(j.path, os.O_APPEND|os.O_WRONLY, 0o644)
	return err
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

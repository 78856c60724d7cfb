package auth

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileRepository keeps sessions as a JSON array on disk.
type FileRepository struct {
	path string
	mu   sync.Mutex
}

func NewFileRepository(path string) (*FileRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	// Touch file if not exists
	f, err := os.OpenFile(path, os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("touch file: %w", err)
	}
	_ = f.Close()
	return &FileRepository{path: path}, nil
}

func (r *FileRepository) LoadAll() ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadUnlocked()
}

func (r *FileRepository) Upsert(session Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions, err := r.loadUnlocked()
	if err != nil {
		return err
	}
	updated := false
	for i, s := range sessions {
		if s.ID == session.ID {
			sessions[i] = session
			updated = true
			break
		}
	}
	if !updated {
		sessions = append(sessions, session)
	}
	return r.saveUnlocked(sessions)
}

func (r *FileRepository) Remove(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions, err := r.loadUnlocked()
	if err != nil {
		return err
	}
	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if s.ID != sessionID {
			out = append(out, s)
		}
	}
	return r.saveUnlocked(out)
}

func (r *FileRepository) loadUnlocked() ([]Session, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	var sessions []Session
	if err := json.NewDecoder(f).Decode(&sessions); err != nil {
		if err == io.EOF {
			return []Session{}, nil
		}
		return nil, fmt.Errorf("decode %s: %w", r.path, err)
	}
	return sessions, nil
}

func (r *FileRepository) saveUnlocked(sessions []Session) error {
	f, err := os.OpenFile(r.path, os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(sessions)
}

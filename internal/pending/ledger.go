// Package pending tracks edits a client has shown before the server
// confirmed them, so each one can later be kept or undone.
package pending

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	Speculative State = iota
	Confirmed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Speculative:
		return "speculative"
	case Confirmed:
		return "confirmed"
	case RolledBack:
		return "rolled_back"
	}
	return "unknown"
}

// DefaultCeiling is how long an edit may stay speculative.
const DefaultCeiling = 10 * time.Second

// Edit is one optimistic change of a key, identified by its token.
type Edit struct {
	Token    string
	Key      string
	Value    string
	Previous string
	// HadPrevious is false when the key was absent before the edit.
	HadPrevious bool
	State       State
	CreatedAt   time.Time
	SettledAt   time.Time
}

// Ledger is a local key/value view plus the edits applied to it on speculation.
type Ledger struct {
	mu      sync.Mutex
	view    map[string]string
	edits   map[string]*Edit
	order   []string
	ceiling time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func New(ceiling time.Duration, logger *zap.Logger) *Ledger {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		view:    make(map[string]string),
		edits:   make(map[string]*Edit),
		ceiling: ceiling,
		now:     time.Now,
		logger:  logger,
	}
}

func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Apply shows value under key right away. Applying the same token twice
// returns the existing edit.
func (l *Ledger) Apply(token, key, value string) Edit {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.edits[token]; ok {
		return *e
	}
	prev, had := l.view[key]
	e := &Edit{
		Token:       token,
		Key:         key,
		Value:       value,
		Previous:    prev,
		HadPrevious: had,
		State:       Speculative,
		CreatedAt:   l.now(),
	}
	l.edits[token] = e
	l.order = append(l.order, token)
	l.view[key] = value
	return *e
}

// Confirm keeps the edit. It reports false when the edit is unknown or
// already settled.
func (l *Ledger) Confirm(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.edits[token]
	if !ok || e.State != Speculative {
		return false
	}
	e.State = Confirmed
	e.SettledAt = l.now()
	return true
}

// Rollback undoes the edit. It reports false when the edit is unknown or
// already settled.
func (l *Ledger) Rollback(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rollbackLocked(token)
}

func (l *Ledger) rollbackLocked(token string) bool {
	e, ok := l.edits[token]
	if !ok || e.State != Speculative {
		return false
	}
	e.State = RolledBack
	e.SettledAt = l.now()

	// A later speculative edit of the same key owns the view now; hand it
	// our previous value instead of touching the view.
	if later := l.laterSpeculative(e); later != nil {
		later.Previous, later.HadPrevious = e.Previous, e.HadPrevious
		return true
	}
	if e.HadPrevious {
		l.view[e.Key] = e.Previous
	} else {
		delete(l.view, e.Key)
	}
	return true
}

func (l *Ledger) laterSpeculative(e *Edit) *Edit {
	seen := false
	for _, tok := range l.order {
		if tok == e.Token {
			seen = true
			continue
		}
		if !seen {
			continue
		}
		if o := l.edits[tok]; o.Key == e.Key && o.State == Speculative {
			return o
		}
	}
	return nil
}

// Sync replaces the view with authoritative state and re-applies the edits
// still awaiting confirmation on top of it. An edit the state already
// reflects is confirmed; one older than the ceiling is rolled back and
// left out of the view.
func (l *Ledger) Sync(state map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	view := make(map[string]string, len(state))
	for k, v := range state {
		view[k] = v
	}
	for _, tok := range l.order {
		e := l.edits[tok]
		if e.State != Speculative {
			continue
		}
		if v, ok := state[e.Key]; ok && v == e.Value {
			e.State = Confirmed
			e.SettledAt = now
			continue
		}
		if now.Sub(e.CreatedAt) > l.ceiling {
			e.State = RolledBack
			e.SettledAt = now
			l.logger.Warn("stale pending edit dropped on sync",
				zap.String("token", e.Token),
				zap.String("key", e.Key),
				zap.Duration("age", now.Sub(e.CreatedAt)))
			continue
		}
		e.Previous, e.HadPrevious = view[e.Key]
		view[e.Key] = e.Value
	}
	l.view = view
}

func (l *Ledger) Value(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.view[key]
	return v, ok
}

func (l *Ledger) Edit(token string) (Edit, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.edits[token]
	if !ok {
		return Edit{}, false
	}
	return *e, true
}

// Pending counts speculative edits.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.edits {
		if e.State == Speculative {
			n++
		}
	}
	return n
}

// EvictStale rolls back speculative edits older than the ceiling and forgets
// settled ones past it. It returns the edits it rolled back.
func (l *Ledger) EvictStale(now time.Time) []Edit {
	l.mu.Lock()
	defer l.mu.Unlock()
	var rolled []Edit
	for _, tok := range l.order {
		e := l.edits[tok]
		if e.State == Speculative && now.Sub(e.CreatedAt) > l.ceiling {
			l.rollbackLocked(tok)
			rolled = append(rolled, *e)
		}
	}
	kept := l.order[:0]
	for _, tok := range l.order {
		e := l.edits[tok]
		if e.State != Speculative && now.Sub(e.SettledAt) > l.ceiling {
			delete(l.edits, tok)
			continue
		}
		kept = append(kept, tok)
	}
	l.order = kept
	return rolled
}

// Run evicts stale edits every interval until ctx is done.
func (l *Ledger) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			for _, e := range l.EvictStale(now) {
				l.logger.Warn("stale pending edit rolled back",
					zap.String("token", e.Token),
					zap.String("key", e.Key),
					zap.Duration("age", now.Sub(e.CreatedAt)))
			}
		}
	}
}

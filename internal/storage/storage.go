package storage

import "time"

// Stage marks where in the pipeline an event was recorded.
type Stage string

const (
	// StageAccepted is written by the dispatcher once a command was answered
	// inline or handed to the queue.
	StageAccepted Stage = "accepted"
	// StageCompleted is written by a worker after the terminal result was stored.
	StageCompleted Stage = "completed"
)

// Event is one line of the interaction journal.
// Events are expected to be appended in chronological order.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     Stage     `json:"stage"`
	Token     string    `json:"token,omitempty"`
	Channel   string    `json:"channel"`
	Command   string    `json:"command"`
	UserID    string    `json:"user_id,omitempty"`
	// Status is the HTTP status for accepted events and the result status
	// for completed ones.
	Status    string    `json:"status"`
	Duration  int64     `json:"duration_ms,omitempty"`
}

// Recorder abstracts persistence of interaction events.
// LoadInteractions should return events in chronological order.
// AppendInteraction should atomically append a new event.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}

// Discard drops every event.
type Discard struct{}

func (Discard) AppendInteraction(Event) error { return nil }
func (Discard) LoadInteractions() ([]Event, error) { return nil, nil }

package storage

import "time"

// Job is a unit of background work. PayloadJSON is opaque to the store.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Turn is one persisted exchange of a conversation thread.
type Turn struct {
	ID            string
	ThreadID      string
	UserMessage   string
	AgentResponse string
	CreatedAt     time.Time
}

// Thread summarizes a conversation.
type Thread struct {
	ID        string    `json:"id"`
	Turns     int       `json:"turns"`
	UpdatedAt time.Time `json:"updated_at"`
}

package model

import "time"

// Row is a resource in its external shape: camelCase keys, JSON-ready values.
// Every persisted row carries "id", "userId", "createdAt" and "updatedAt".
type Row map[string]any

func (r Row) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Clone returns a shallow copy.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type AuthCode struct {
	Code      string
	UserID    string
	ExpiresAt time.Time
}

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent describes one committed row mutation. Owner is used for
// routing and never leaves the server.
type ChangeEvent struct {
	Type            EventType `json:"eventType"`
	Table           string    `json:"table"`
	New             Row       `json:"new,omitempty"`
	Old             Row       `json:"old,omitempty"`
	CommitTimestamp string    `json:"commitTimestamp"`
	Owner           string    `json:"-"`
}

// Record is the row the event refers to: New for inserts and updates,
// Old for deletes.
func (e ChangeEvent) Record() Row {
	if e.Type == EventDelete {
		return e.Old
	}
	return e.New
}

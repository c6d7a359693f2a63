// Package progress is the push channel between the migration engine and
// its observers: one producer, any number of subscribers, non-blocking
// publish, ordered delivery per session.
package progress

// EventType names the events a migration run can emit.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventEntityStart       EventType = "entity:start"
	EventEntityProgress    EventType = "entity:progress"
	EventEntityComplete    EventType = "entity:complete"
	EventMigrationComplete EventType = "migration:complete"
	EventMigrationError    EventType = "migration:error"
)

// Event is one typed progress notification. Payload is JSON-serializable;
// the concrete type depends on Type.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// EntityStart accompanies EventEntityStart.
type EntityStart struct {
	Entity string `json:"entity"`
	Total  int    `json:"total"`
}

// EntityProgress accompanies EventEntityProgress after every batch.
type EntityProgress struct {
	Entity     string `json:"entity"`
	Processed  int    `json:"processed"`
	Errors     int    `json:"errors"`
	Duplicates int    `json:"duplicates"`
}

// EntityComplete accompanies EventEntityComplete.
type EntityComplete struct {
	Entity string `json:"entity"`
	Errors int    `json:"errors"`
}

// MigrationComplete accompanies EventMigrationComplete.
type MigrationComplete struct {
	Entities []string `json:"entities"`
	Errors   int      `json:"errors"`
}

// MigrationError accompanies EventMigrationError.
type MigrationError struct {
	Message string `json:"message"`
}

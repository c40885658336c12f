package audit

import "time"

// Kind classifies an audit event.
type Kind string

const (
	KindAuthGranted Kind = "auth_granted"
	KindAuthDenied  Kind = "auth_denied"
	KindAdd         Kind = "add"
	KindRemove      Kind = "remove"
	KindTempAdd     Kind = "temp_add"
	KindBulkAdd     Kind = "bulk_add"
	KindRestart     Kind = "restart"
	KindUpdate      Kind = "update"
)

// Event is one audit-log row: who did what, when.
type Event struct {
	At      time.Time
	UserID  int64
	Kind    Kind
	Details string
}

// Store defines the interface for audit persistence. Writes are best
// effort: callers log a failed Record and move on.
type Store interface {
	// Record appends an event to the log.
	Record(event Event) error

	// Recent returns up to limit events, newest first.
	Recent(limit int) ([]Event, error)

	// Close releases resources
	Close() error
}

package session

// Event names carried on the hub's ingest boundary.
const (
	EventStarted = "session_started"
	EventUpdated = "session_update"
	EventEnded   = "session_ended"
)

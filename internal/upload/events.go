// events.go - progress events emitted by the pipeline.

package upload

// EventKind is the stage an Event reports.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventEncrypted EventKind = "encrypted"
	EventUploaded  EventKind = "uploaded"
	EventFailed    EventKind = "failed"
)

// Event is one progress report. Result is set on EventUploaded and Err on
// EventFailed.
type Event struct {
	Kind   EventKind
	ID     string
	Total  int64
	Result *Result
	Err    error
}

package pipeline

import "time"

// Per-session states, in order.
const (
	StateInit            = "init"
	StateMastersBuilt    = "masters_built"
	StateLightsConverted = "lights_converted"
	StateCalibrated      = "calibrated"
	StatePromoted        = "promoted"
)

// Global states reached after every session is promoted.
const (
	StateAllSessions = "all_sessions_processed"
	StateRegistered  = "registered"
	StateStacked     = "stacked"
	StateCleaned     = "cleaned"
)

// globalSession is the ledger key for global states.
const globalSession = "_global"

// Event statuses.
const (
	EventStarted   = "started"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventSkipped   = "skipped"
	EventCommand   = "command"
	EventWarning   = "warning"
)

// Event reports orchestrator progress to subscribers.
type Event struct {
	RunID   string         `json:"run_id"`
	Session string         `json:"session,omitempty"`
	Stage   string         `json:"stage"`
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
	Time    time.Time      `json:"time"`
}

// Update is what subscribers receive: a stage event or a finished job.
type Update struct {
	Type   string  `json:"type"` // "event" or "result"
	Event  *Event  `json:"event,omitempty"`
	Result *Result `json:"result,omitempty"`
}

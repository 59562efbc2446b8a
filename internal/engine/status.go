package engine

import (
	"time"

	"github.com/ewhitley/cadence/internal/source"
)

// CycleState is the orchestrator's state machine position.
type CycleState string

const (
	StateIdle            CycleState = "idle"
	StateRunning         CycleState = "running"
	StateCompleted       CycleState = "completed"
	StatePartiallyFailed CycleState = "partially_failed"
)

// SourceStatus is the user-visible condition of one source.
type SourceStatus string

const (
	StatusChecking    SourceStatus = "checking"
	StatusConnected   SourceStatus = "connected"
	StatusNeedsAccess SourceStatus = "needs_access"
	StatusUnavailable SourceStatus = "unavailable"
)

// Failure is one (source, message) pair from a cycle.
type Failure struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Report is the aggregate outcome of one sync cycle, consumed by the CLI and
// logging layers. Failures are cleared at the start of each cycle and
// appended as sources report.
type Report struct {
	State       CycleState              `json:"state"`
	StartedAt   time.Time               `json:"started_at"`
	FinishedAt  time.Time               `json:"finished_at"`
	Statuses    map[string]SourceStatus `json:"statuses"`
	Reasons     map[string]string       `json:"reasons,omitempty"`
	Counts      map[string]int          `json:"counts"`
	Failures    []Failure               `json:"failures,omitempty"`
	EventsNew   int                     `json:"events_new"`
	EventsSeen  int                     `json:"events_seen"`
	FuturePurge int                     `json:"future_purged"`
}

// statusFor converts an adapter failure into a reportable status.
func statusFor(err error) (SourceStatus, string) {
	switch source.KindOf(err) {
	case source.KindNotAuthorized:
		return StatusNeedsAccess, err.Error()
	case source.KindNotAvailable:
		return StatusUnavailable, err.Error()
	case source.KindTimeout:
		return StatusUnavailable, "timed out"
	default:
		return StatusUnavailable, err.Error()
	}
}

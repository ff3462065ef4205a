package report

// Status is the closed set of lifecycle states a report run moves through.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusStarted    Status = "started"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// ParseStatus maps a server-reported status string onto the closed enum.
// It is the only place an unknown remote string can enter the state machine.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusNotStarted, StatusStarted, StatusRunning,
		StatusCompleted, StatusFailed, StatusSkipped:
		return Status(s), true
	default:
		return "", false
	}
}

// Terminal reports whether no further progress will occur in this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	case StatusNotStarted, StatusStarted, StatusRunning:
		return false
	}
	return false
}

// TerminalFailure reports whether the run ended without producing a result.
func (s Status) TerminalFailure() bool {
	return s == StatusFailed || s == StatusSkipped
}

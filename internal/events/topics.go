package events

import "time"

// Topics published during an automation run.
const (
	// TopicRunProgress carries a Progress payload.
	TopicRunProgress = "run.progress"

	// TopicRunLog carries a LogEntry payload.
	TopicRunLog = "run.log"

	// TopicRunFinished carries a Finished payload, exactly once per run.
	TopicRunFinished = "run.finished"
)

// Progress is the run's overall completion percentage, 0 to 100.
type Progress struct {
	Percent int       `json:"percent"`
	Time    time.Time `json:"time"`
}

// LogEntry is a run log line for display.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Finished reports the run outcome.
type Finished struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

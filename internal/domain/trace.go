package domain

import "time"

// QuestionLogEntry records that a question was shown during a session. Index increases strictly per session.
type QuestionLogEntry struct {
	SessionID    string
	QuestionCode string
	Index        int64
	AskedAt      time.Time
}

// DecisionTrace is the question log and latest answers for one session.
type DecisionTrace struct {
	SessionID string
	Questions []QuestionLogEntry
	Answers   map[string]string
}

// Empty reports whether the trace holds no questions or no answers.
func (t DecisionTrace) Empty() bool {
	return len(t.Questions) == 0 || len(t.Answers) == 0
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status         string
	Checks         map[string]SystemHealthCheck
	Version        string
	CommitSHA      string
	Environment    string
	CatalogVersion string
	Uptime         time.Duration
	GeneratedAt    time.Time
}

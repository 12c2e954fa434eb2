package client

import "time"

// Session is one Initialize..Terminated span.
type Session struct {
	ID          int64      `json:"id"`
	Initialized time.Time  `json:"initialized"`
	Terminated  *time.Time `json:"terminated,omitempty"`
}

// Execution is one run of a node within a session.
type Execution struct {
	ID       int64      `json:"id"`
	Node     string     `json:"node"`
	Started  *time.Time `json:"started,omitempty"`
	Finished *time.Time `json:"finished,omitempty"`
	Status   string     `json:"status,omitempty"`
	Error    string     `json:"error,omitempty"`
	Skipped  bool       `json:"skipped"`
	Reason   string     `json:"reason,omitempty"`
}

// SessionDetail is a session together with its executions.
type SessionDetail struct {
	Session
	Executions []Execution `json:"executions"`
}

// LogEntry is a stored log record. Execution and Node are empty for
// session logs.
type LogEntry struct {
	ID        int64     `json:"id"`
	Execution int64     `json:"execution,omitempty"`
	Node      string    `json:"node,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

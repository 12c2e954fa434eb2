package model

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Node is an entity of the test framework's hierarchical model (a test
// case or a suite). Nodes key the per-session execution map, so pointer
// types are expected; a node whose value is not comparable is skipped
// with a warning.
type Node interface {
	Name() string
	TimeStarted() time.Time
	TimeFinished() time.Time
	Nodes() []Node
}

// Result is the outcome reported for a finished node.
// Err is nil when the node finished without a failure detail.
type Result interface {
	Status() Status
	Err() error
}

// Status of a finished node. Values are 1-based over the declared order
// and are stored as is.
type Status int

const (
	StatusAborted Status = iota + 1
	StatusFailed
	StatusSuccessful
)

var statusNames = map[Status]string{
	StatusAborted:    "aborted",
	StatusFailed:     "failed",
	StatusSuccessful: "successful",
}

func (s Status) Ordinal() int { return int(s) }

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// StatusFromOrdinal decodes a stored status ordinal.
func StatusFromOrdinal(ord int) (Status, error) {
	s := Status(ord)
	if _, ok := statusNames[s]; !ok {
		return 0, fmt.Errorf("invalid status ordinal %d", ord)
	}
	return s, nil
}

// ParseStatus accepts the status name in any case.
func ParseStatus(name string) (Status, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for s, sn := range statusNames {
		if sn == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// Level is a log level name as emitted by the framework.
type Level string

const (
	LevelConfig  Level = "CONFIG"
	LevelFine    Level = "FINE"
	LevelFiner   Level = "FINER"
	LevelFinest  Level = "FINEST"
	LevelInfo    Level = "INFO"
	LevelSevere  Level = "SEVERE"
	LevelWarning Level = "WARNING"
)

// levels is ordered by stored ordinal.
var levels = []Level{LevelConfig, LevelFine, LevelFiner, LevelFinest, LevelInfo, LevelSevere, LevelWarning}

// Ordinal returns the stored value of the level. Unrecognized levels are
// stored like WARNING.
func (l Level) Ordinal() int {
	for i, lv := range levels {
		if lv == l {
			return i + 1
		}
	}
	return len(levels)
}

// LevelFromOrdinal decodes a stored level ordinal.
func LevelFromOrdinal(ord int) (Level, error) {
	if ord < 1 || ord > len(levels) {
		return "", fmt.Errorf("invalid level ordinal %d", ord)
	}
	return levels[ord-1], nil
}

// LevelFromSlog maps slog levels onto framework levels.
func LevelFromSlog(l slog.Level) Level {
	switch {
	case l >= slog.LevelError:
		return LevelSevere
	case l >= slog.LevelWarn:
		return LevelWarning
	case l >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelFine
	}
}

// LogRecord is a single log line produced while a session runs.
// Message may contain {0}, {1}, ... placeholders filled from Params.
type LogRecord struct {
	Level   Level
	Message string
	Params  []any
	Millis  int64
}

// NewLogRecord stamps the record with the current time.
func NewLogRecord(level Level, msg string, params ...any) LogRecord {
	return LogRecord{Level: level, Message: msg, Params: params, Millis: time.Now().UnixMilli()}
}

func (r LogRecord) Time() time.Time { return time.UnixMilli(r.Millis) }

// FormattedMessage substitutes placeholders. Placeholders without a
// matching parameter are left as written.
func (r LogRecord) FormattedMessage() string {
	if len(r.Params) == 0 || !strings.Contains(r.Message, "{") {
		return r.Message
	}
	var b strings.Builder
	msg := r.Message
	for {
		open := strings.IndexByte(msg, '{')
		if open < 0 {
			b.WriteString(msg)
			break
		}
		end := strings.IndexByte(msg[open:], '}')
		if end < 0 {
			b.WriteString(msg)
			break
		}
		end += open
		idx, err := strconv.Atoi(msg[open+1 : end])
		b.WriteString(msg[:open])
		if err != nil || idx < 0 || idx >= len(r.Params) {
			b.WriteString(msg[open : end+1])
		} else {
			b.WriteString(fmt.Sprint(r.Params[idx]))
		}
		msg = msg[end+1:]
	}
	return b.String()
}

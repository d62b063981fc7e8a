// Package audit emits the operator-facing reconciliation events as
// structured, field-tagged log records.
package audit

import (
	"sort"

	"github.com/rs/zerolog"
)

// Event names. These are stable identifiers: dashboards and alerts key on
// them, so they never change spelling.
const (
	EventUserStateRebuilt          = "USER_STATE_REBUILT"
	EventStateDriftDetected        = "STATE_DRIFT_DETECTED"
	EventLedgerDuplicationDetected = "LEDGER_DUPLICATION_DETECTED"
	EventReplayStarted             = "EVENT_REPLAY_STARTED"
	EventReplayCompleted           = "EVENT_REPLAY_COMPLETED"
)

// Fields carries the diagnostic payload of one audit record.
type Fields map[string]interface{}

// Recorder accepts leveled, field-tagged audit records.
type Recorder interface {
	Info(event string, fields Fields)
	Warn(event string, fields Fields)
	Error(event string, fields Fields)
}

// Log is the zerolog-backed Recorder used in production.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Info(event string, fields Fields)  { l.emit(l.logger.Info(), event, fields) }
func (l *Log) Warn(event string, fields Fields)  { l.emit(l.logger.Warn(), event, fields) }
func (l *Log) Error(event string, fields Fields) { l.emit(l.logger.Error(), event, fields) }

func (l *Log) emit(ev *zerolog.Event, event string, fields Fields) {
	// Sorted field order keeps records byte-stable for log diffing.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ev = ev.Str("event", event)
	for _, k := range keys {
		ev = ev.Interface(k, fields[k])
	}
	ev.Msg(event)
}

// Nop discards all records. Used by tests that assert on behavior, not logs.
type Nop struct{}

func (Nop) Info(string, Fields)  {}
func (Nop) Warn(string, Fields)  {}
func (Nop) Error(string, Fields) {}

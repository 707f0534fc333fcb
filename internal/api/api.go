// Package api defines the wire contract between the rewind daemon and its
// clients (the CLI and any UI speaking the same protocol).
package api

import (
	"time"

	"github.com/fakeyudi/rewind/internal/engine"
	"github.com/fakeyudi/rewind/internal/session"
)

// Error classes carried in error payloads so callers can map failures to
// exit codes and messages without parsing text.
const (
	ClassEngineUnavailable = "engine_unavailable"
	ClassAlreadyActive     = "already_active"
	ClassInvalidState      = "invalid_state"
	ClassBackupUnavailable = "backup_unavailable"
	ClassFilesystem        = "filesystem"
	ClassInternal          = "internal"
)

// ErrorPayload is the JSON body of every non-2xx response.
type ErrorPayload struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

// SessionInfo is the session summary returned by start and status calls.
// The baseline itself never crosses the wire.
type SessionInfo struct {
	ID        string    `json:"id"`
	Root      string    `json:"root"`
	StartedAt time.Time `json:"started_at"`
	Tracked   int       `json:"tracked"`
	Untracked int       `json:"untracked"`
}

// StartResponse is the body of POST /v1/session/start.
type StartResponse struct {
	Session SessionInfo `json:"session"`
}

// StopRequest is the body of POST /v1/session/stop.
type StopRequest struct {
	Preserve []string `json:"preserve"`
}

// StopResponse is the body of POST /v1/session/stop. OK is false when any
// path failed to revert; the per-path detail is inside Entry.
type StopResponse struct {
	OK    bool                 `json:"ok"`
	Entry session.HistoryEntry `json:"entry"`
}

// ChangesResponse is the body of GET /v1/changes.
type ChangesResponse struct {
	Changes []session.ChangeEvent `json:"changes"`
}

// HistoryResponse is the body of GET /v1/history, newest last.
type HistoryResponse struct {
	History []session.HistoryEntry `json:"history"`
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	engine.Status
}

// PushMessage is one WebSocket frame: the full current snapshot of pending
// changes, pushed on every mutation of the pending set.
type PushMessage struct {
	Type    string                `json:"type"` // always "changes"
	Changes []session.ChangeEvent `json:"changes"`
}

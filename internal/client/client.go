// Package client is the CLI side of the daemon API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fakeyudi/rewind/internal/api"
	"github.com/fakeyudi/rewind/internal/engine"
	"github.com/fakeyudi/rewind/internal/session"
)

// APIError is a failure reported by (or on the way to) the daemon. Class
// drives the process exit code so scripts can distinguish failure modes.
type APIError struct {
	Class   string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return e.Message
}

// ExitCode maps the error class to the CLI's exit code contract.
func (e *APIError) ExitCode() int {
	switch e.Class {
	case api.ClassEngineUnavailable:
		return 2
	case api.ClassAlreadyActive, api.ClassInvalidState:
		return 3
	case api.ClassBackupUnavailable:
		return 4
	case api.ClassFilesystem:
		return 5
	default:
		return 1
	}
}

// Client talks to a rewind daemon.
type Client struct {
	base string
	http *http.Client
}

// New returns a Client for the daemon at addr (host:port).
func New(addr string) *Client {
	return &Client{
		base: "http://" + addr,
		// Stop can walk and rewrite many files; give it room.
		http: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Start begins a new session.
func (c *Client) Start() (*api.SessionInfo, error) {
	var resp api.StartResponse
	if err := c.do(http.MethodPost, "/v1/session/start", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Session, nil
}

// Stop finalizes the active session with the given preserve set.
func (c *Client) Stop(preserve []string) (*api.StopResponse, error) {
	req := api.StopRequest{Preserve: preserve}
	var resp api.StopResponse
	if err := c.do(http.MethodPost, "/v1/session/stop", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Changes returns the coalesced pending changes of the active session.
func (c *Client) Changes() ([]session.ChangeEvent, error) {
	var resp api.ChangesResponse
	if err := c.do(http.MethodGet, "/v1/changes", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Changes, nil
}

// History returns all completed sessions, newest last.
func (c *Client) History() ([]session.HistoryEntry, error) {
	var resp api.HistoryResponse
	if err := c.do(http.MethodGet, "/v1/history", nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// Status returns the engine status.
func (c *Client) Status() (*engine.Status, error) {
	var resp api.StatusResponse
	if err := c.do(http.MethodGet, "/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Status, nil
}

func (c *Client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{
			Class:   api.ClassEngineUnavailable,
			Message: fmt.Sprintf("rewind daemon not reachable at %s (is `rewind serve` running?): %v", c.base, err),
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var payload api.ErrorPayload
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			return &APIError{Class: payload.Class, Message: payload.Error, Status: resp.StatusCode}
		}
		return &APIError{Class: api.ClassInternal, Message: fmt.Sprintf("daemon returned %s", resp.Status), Status: resp.StatusCode}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parsing daemon response: %w", err)
		}
	}
	return nil
}

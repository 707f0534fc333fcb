// Package server exposes the session engine over a local HTTP API with a
// WebSocket channel that pushes the full pending-change snapshot to
// subscribers whenever it mutates.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fakeyudi/rewind/internal/api"
	"github.com/fakeyudi/rewind/internal/backup"
	"github.com/fakeyudi/rewind/internal/engine"
	"github.com/fakeyudi/rewind/internal/paths"
	"github.com/fakeyudi/rewind/internal/session"
)

var upgrader = websocket.Upgrader{
	// The daemon binds to loopback only; the UI connects from the same host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the daemon API for one engine.
type Server struct {
	eng *engine.Engine
	log *zap.Logger
}

// New creates a Server for eng.
func New(eng *engine.Engine, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{eng: eng, log: log}
}

// Router builds the gin handler tree.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	v1.POST("/session/start", s.handleStart)
	v1.POST("/session/stop", s.handleStop)
	v1.GET("/changes", s.handleChanges)
	v1.GET("/history", s.handleHistory)
	v1.GET("/status", s.handleStatus)
	v1.GET("/ws", s.handleWS)
	return r
}

// Run serves the API on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("daemon listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStart(c *gin.Context) {
	sess, err := s.eng.Start()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.StartResponse{Session: api.SessionInfo{
		ID:        sess.ID,
		Root:      sess.Root,
		StartedAt: sess.StartedAt,
		Tracked:   len(sess.Baseline),
		Untracked: len(sess.Untracked),
	}})
}

func (s *Server) handleStop(c *gin.Context) {
	var req api.StopRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, api.ErrorPayload{Error: err.Error(), Class: api.ClassInternal})
			return
		}
	}
	entry, err := s.eng.Stop(req.Preserve)
	if err != nil {
		s.writeError(c, err)
		return
	}
	// Partial failure is data, not a transport error: the caller needs the
	// per-path outcomes either way.
	c.JSON(http.StatusOK, api.StopResponse{OK: entry.OK, Entry: *entry})
}

func (s *Server) handleChanges(c *gin.Context) {
	changes := s.eng.Changes()
	if changes == nil {
		changes = []session.ChangeEvent{}
	}
	c.JSON(http.StatusOK, api.ChangesResponse{Changes: changes})
}

func (s *Server) handleHistory(c *gin.Context) {
	history, err := s.eng.History()
	if err != nil {
		s.writeError(c, err)
		return
	}
	if history == nil {
		history = []session.HistoryEntry{}
	}
	c.JSON(http.StatusOK, api.HistoryResponse{History: history})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, api.StatusResponse{Status: s.eng.Status()})
}

// handleWS upgrades to WebSocket and pushes the full pending-change snapshot
// on every mutation, starting with the current state.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := s.eng.Subscribe()
	defer cancel()

	// Reader goroutine: its only job is noticing the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := func(changes []session.ChangeEvent) error {
		if changes == nil {
			changes = []session.ChangeEvent{}
		}
		return conn.WriteJSON(api.PushMessage{Type: "changes", Changes: changes})
	}
	if err := push(s.eng.Changes()); err != nil {
		return
	}

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := push(snap); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// writeError maps engine errors to HTTP status codes and machine-readable
// error classes.
func (s *Server) writeError(c *gin.Context, err error) {
	payload := api.ErrorPayload{Error: err.Error(), Class: api.ClassInternal}
	status := http.StatusInternalServerError

	var se *engine.StateError
	var pe *paths.Error
	switch {
	case errors.As(err, &se):
		status = http.StatusConflict
		if se.Op == "start" {
			payload.Class = api.ClassAlreadyActive
		} else {
			payload.Class = api.ClassInvalidState
		}
	case errors.As(err, &pe):
		status = http.StatusBadRequest
		payload.Class = api.ClassFilesystem
	case errors.Is(err, backup.ErrNotFound):
		status = http.StatusServiceUnavailable
		payload.Class = api.ClassBackupUnavailable
	}

	c.JSON(status, payload)
}

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slproto/slproto/internal/protocol"
	"github.com/slproto/slproto/internal/session"
)

const submitTimeout = 5 * time.Second

// current writes a 409 and returns false when no session is running.
func (s *Server) current(c *gin.Context) (SessionView, bool) {
	if s.sessions != nil {
		if view, ok := s.sessions.Current(); ok {
			return view, true
		}
	}
	c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
	return nil, false
}

// handleGetSession returns the status of the running session.
func (s *Server) handleGetSession(c *gin.Context) {
	view, ok := s.current(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, view.Snapshot())
}

// submit queues cmd on the session and writes the response.
func (s *Server) submit(c *gin.Context, cmd session.Command) {
	view, ok := s.current(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), submitTimeout)
	defer cancel()

	if err := view.Submit(ctx, cmd); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrNotEstablished):
			status = http.StatusConflict
		case errors.Is(err, session.ErrClosed):
			status = http.StatusGone
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error(), "command": cmd.CommandName()})
		return
	}

	s.log.Info().Str("command", cmd.CommandName()).Str("client_ip", c.ClientIP()).Msg("command submitted")
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "command": cmd.CommandName()})
}

func (s *Server) handleChat(c *gin.Context) {
	var body struct {
		Message string `json:"message" binding:"required"`
		Channel int32  `json:"channel"`
		Type    *uint8 `json:"type"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chatType := protocol.ChatNormal
	if body.Type != nil {
		chatType = protocol.ChatType(*body.Type)
	}
	s.submit(c, session.SendChat{Message: body.Message, Channel: body.Channel, Type: chatType})
}

func (s *Server) handleAgentUpdate(c *gin.Context) {
	var cmd session.SendAgentUpdate
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.submit(c, cmd)
}

func (s *Server) handleThrottle(c *gin.Context) {
	var body struct {
		Values []float32 `json:"values" binding:"required,len=7"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var cmd session.SetThrottle
	for i, v := range body.Values {
		if v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "throttle values must be non-negative"})
			return
		}
		cmd.Values[i] = v
	}
	s.submit(c, cmd)
}

func (s *Server) handleRequestObject(c *gin.Context) {
	var body struct {
		LocalID uint32 `json:"local_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.submit(c, session.RequestObject{LocalID: body.LocalID})
}

func (s *Server) handleRequestTexture(c *gin.Context) {
	var body struct {
		TextureID    string  `json:"texture_id" binding:"required"`
		DiscardLevel int8    `json:"discard_level"`
		Priority     float32 `json:"priority"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := uuid.Parse(body.TextureID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid texture id"})
		return
	}
	s.submit(c, session.RequestTexture{TextureID: id, DiscardLevel: body.DiscardLevel, Priority: body.Priority})
}

func (s *Server) handleLogout(c *gin.Context) {
	s.submit(c, session.Logout{})
}

// historyAvailable writes a 503 and returns false when no history store is wired.
func (s *Server) historyAvailable(c *gin.Context) bool {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history database is disabled"})
		return false
	}
	return true
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func (s *Server) handleGetLogins(c *gin.Context) {
	if !s.historyAvailable(c) {
		return
	}
	logins, err := s.history.RecentLogins(queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logins": logins, "count": len(logins)})
}

func (s *Server) handleGetSessions(c *gin.Context) {
	if !s.historyAvailable(c) {
		return
	}
	sessions, err := s.history.RecentSessions(queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func sessionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetTransitions(c *gin.Context) {
	if !s.historyAvailable(c) {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	transitions, err := s.history.Transitions(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "transitions": transitions})
}

func (s *Server) handleGetChat(c *gin.Context) {
	if !s.historyAvailable(c) {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	chat, err := s.history.Chat(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "chat": chat})
}

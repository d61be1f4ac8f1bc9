package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatusResponse is returned by GET /api/v1/status
type StatusResponse struct {
	Success bool                   `json:"success"`
	Stats   map[string]interface{} `json:"stats"`
}

// SessionsResponse is returned by GET /api/v1/sessions
type SessionsResponse struct {
	Success bool     `json:"success"`
	Count   int      `json:"count"`
	Users   []string `json:"users"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// handleStatus handles GET /api/v1/status
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Success: true,
		Stats:   s.relay.GetStats(),
	})
}

// handleSessions handles GET /api/v1/sessions
func (s *Server) handleSessions(c *gin.Context) {
	users := s.relay.OnlineUsers()
	if users == nil {
		users = []string{}
	}
	c.JSON(http.StatusOK, SessionsResponse{
		Success: true,
		Count:   len(users),
		Users:   users,
	})
}

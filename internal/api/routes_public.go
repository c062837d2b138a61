package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/slproto/slproto/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	sysInfo := util.GetSystemInfo()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"service":  "slproto",
		"version":  Version,
		"platform": sysInfo.Platform,
	})
}

// handleListTemplates lists the message definitions of the loaded template.
func (s *Server) handleListTemplates(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no message template loaded"})
		return
	}

	type entry struct {
		Name      string `json:"name"`
		Frequency string `json:"frequency"`
		ID        uint32 `json:"id"`
		Zerocoded bool   `json:"zerocoded"`
		Blocks    int    `json:"blocks"`
	}
	tmpl := s.registry.Template()
	out := make([]entry, 0, len(tmpl.Messages))
	for _, m := range tmpl.Messages {
		out = append(out, entry{
			Name:      m.Name,
			Frequency: m.Frequency.String(),
			ID:        m.ID,
			Zerocoded: m.Zerocoded(),
			Blocks:    len(m.Blocks),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"version":  tmpl.Version,
		"messages": out,
		"total":    len(out),
	})
}

// handleGetTemplate returns one message definition with its blocks.
func (s *Server) handleGetTemplate(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no message template loaded"})
		return
	}
	m, ok := s.registry.ByName(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found", "name": c.Param("name")})
		return
	}
	c.JSON(http.StatusOK, m)
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/slproto/slproto/internal/config"
	"github.com/slproto/slproto/internal/events"
)

// handleGetConfig returns the current configuration without secrets.
func (s *Server) handleGetConfig(c *gin.Context) {
	account := s.cfg.GetAccount()
	appData := s.cfg.GetApplicationData()
	if appData.Security.APIToken != "" {
		appData.Security.APIToken = "********"
	}

	c.JSON(http.StatusOK, gin.H{
		"grid": s.cfg.GetGrid(),
		"account": gin.H{
			"first_name":      account.FirstName,
			"last_name":       account.LastName,
			"password_stored": account.Password != "",
		},
		"circuit":          s.cfg.GetCircuit(),
		"application_data": appData,
	})
}

// handleSetConfigField updates one field, validates the result and saves it.
func (s *Server) handleSetConfigField(c *gin.Context) {
	section, key := c.Param("section"), c.Param("key")
	if section == "account" && key == "password" {
		c.JSON(http.StatusForbidden, gin.H{"error": "the password cannot be set over the API"})
		return
	}

	var body struct {
		Value interface{} `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	grid, account, circuit, appData := s.cfg.GetGrid(), s.cfg.GetAccount(), s.cfg.GetCircuit(), s.cfg.GetApplicationData()
	restore := func() {
		s.cfg.SetGrid(grid)
		s.cfg.SetAccount(account)
		s.cfg.SetCircuit(circuit)
		s.cfg.SetApplicationData(appData)
	}

	if err := s.cfg.UpdateField(section, key, body.Value); err != nil {
		restore()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := config.Validate(s.cfg)
	if !result.IsValid() {
		restore()
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "configuration invalid after update",
			"errors":   result.Errors,
			"warnings": result.Warnings,
		})
		return
	}

	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	if s.eventBus != nil {
		s.eventBus.Emit(c.Request.Context(), events.Event{
			Type:   events.EventConfigChanged,
			Source: "api",
			Payload: events.ConfigChangedPayload{
				Section: section,
				Key:     key,
				Value:   body.Value,
			},
		})
	}

	s.log.Info().Str("section", section).Str("key", key).Msg("config field updated")
	c.JSON(http.StatusOK, gin.H{
		"status":   "updated",
		"warnings": result.Warnings,
	})
}

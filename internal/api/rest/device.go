package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/device
func (s *Server) getDevice(c *gin.Context) {
	c.JSON(http.StatusOK, s.dispatcher.State())
}

// POST /api/v1/device/connect
func (s *Server) connectDevice(c *gin.Context) {
	if err := s.dispatcher.Connect(c.Request.Context()); err != nil {
		respondError(c, "Failed to connect device", err)
		return
	}
	c.JSON(http.StatusOK, s.dispatcher.State())
}

// POST /api/v1/device/disconnect
func (s *Server) disconnectDevice(c *gin.Context) {
	if err := s.dispatcher.Disconnect(c.Request.Context()); err != nil {
		respondError(c, "Failed to disconnect device", err)
		return
	}
	c.JSON(http.StatusOK, s.dispatcher.State())
}

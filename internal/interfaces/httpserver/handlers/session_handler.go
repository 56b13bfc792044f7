package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	domain "wa-bridge/internal/domain/session"
)

// SessionHandler exposes the manual persist trigger and the status
// endpoint.
type SessionHandler struct {
	service *domain.Service
	log     zerolog.Logger
}

func NewSessionHandler(service *domain.Service, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		service: service,
		log:     log.With().Str("component", "session-handler").Logger(),
	}
}

// Persist triggers one synchronous persist cycle. The cycle itself
// never fails the caller; the response reports the strategy's status
// after the attempt.
func (h *SessionHandler) Persist(c *gin.Context) {
	h.service.Persist(c.Request.Context())
	c.JSON(http.StatusOK, h.service.Status())
}

// Status reports the sync strategy's current state.
func (h *SessionHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Status())
}

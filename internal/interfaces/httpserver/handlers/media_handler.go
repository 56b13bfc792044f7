package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"wa-bridge/internal/config"
	domain "wa-bridge/internal/domain/media"
)

// MediaHandler exposes the attachment forwarding endpoint.
type MediaHandler struct {
	cfg     *config.Config
	service *domain.Service
	log     zerolog.Logger
}

func NewMediaHandler(cfg *config.Config, service *domain.Service, log zerolog.Logger) *MediaHandler {
	return &MediaHandler{
		cfg:     cfg,
		service: service,
		log:     log.With().Str("component", "media-handler").Logger(),
	}
}

// Forward accepts a base64 attachment and uploads it to the file store.
func (h *MediaHandler) Forward(c *gin.Context) {
	var req domain.ForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	att, err := h.service.Forward(c.Request.Context(), req)
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", req.ChatID).Msg("forward failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, att)
}

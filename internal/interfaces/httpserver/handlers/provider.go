package handlers

import (
	"github.com/rs/zerolog"

	"wa-bridge/internal/config"
	mediadomain "wa-bridge/internal/domain/media"
	sessiondomain "wa-bridge/internal/domain/session"
)

// Provider aggregates all HTTP handlers.
type Provider struct {
	Session *SessionHandler
	Media   *MediaHandler
}

func NewProvider(cfg *config.Config, sessionService *sessiondomain.Service, mediaService *mediadomain.Service, log zerolog.Logger) *Provider {
	return &Provider{
		Session: NewSessionHandler(sessionService, log),
		Media:   NewMediaHandler(cfg, mediaService, log),
	}
}

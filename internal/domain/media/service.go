// Package media forwards incoming message attachments to the remote
// file store. It is stateless glue: no retries, no queues, one upload
// per call.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"wa-bridge/internal/config"
	"wa-bridge/internal/infrastructure/metrics"
	"wa-bridge/internal/infrastructure/observability"
)

// Storage defines the upload operation the forwarder needs.
type Storage interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// Service forwards attachments to the file store.
type Service struct {
	cfg     *config.Config
	storage Storage
	log     zerolog.Logger
}

func NewService(cfg *config.Config, storage Storage, log zerolog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		storage: storage,
		log:     log.With().Str("component", "media-forwarder").Logger(),
	}
}

// Forward decodes, sniffs and uploads one attachment. Unlike the
// session sync strategy, errors here propagate: the caller delivered
// the payload and decides what to do with a rejection.
func (s *Service) Forward(ctx context.Context, req ForwardRequest) (*Attachment, error) {
	ctx, span := observability.StartSpan(ctx, "media.forward")
	att, err := s.forward(ctx, req)
	observability.EndSpan(span, err)
	return att, err
}

func (s *Service) forward(ctx context.Context, req ForwardRequest) (*Attachment, error) {
	data, err := decodePayload(req.Data)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("attachment is empty")
	}
	if int64(len(data)) > s.cfg.MaxMediaBytes {
		return nil, fmt.Errorf("attachment exceeds max size of %d bytes", s.cfg.MaxMediaBytes)
	}

	mime := mimetype.Detect(data)
	ext := mime.Extension()
	if ext == "" {
		ext = path.Ext(req.Filename)
	}

	id := ulid.Make().String()
	key := path.Join(s.cfg.MediaBasePath, sanitizeSegment(req.ChatID), id+ext)

	if err := s.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), mime.String()); err != nil {
		metrics.RecordMediaUpload(mime.String(), "failure", 0)
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	metrics.RecordMediaUpload(mime.String(), "success", int64(len(data)))

	s.log.Debug().
		Str("key", key).
		Str("mime", mime.String()).
		Int("bytes", len(data)).
		Msg("attachment forwarded")

	return &Attachment{
		ID:         id,
		StorageKey: key,
		MimeType:   mime.String(),
		Bytes:      int64(len(data)),
		ChatID:     req.ChatID,
		MessageID:  req.MessageID,
		UploadedAt: time.Now().UTC(),
	}, nil
}

func decodePayload(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("data is required")
	}
	// Accept both raw base64 and data URLs.
	if strings.HasPrefix(value, "data:") {
		parts := strings.SplitN(value, ",", 2)
		if len(parts) != 2 {
			return nil, errors.New("invalid data url")
		}
		if !strings.Contains(parts[0], ";base64") {
			return nil, errors.New("data url must be base64 encoded")
		}
		value = parts[1]
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	return data, nil
}

// sanitizeSegment keeps chat identifiers safe to embed in object keys.
func sanitizeSegment(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.' || r == '@':
			return r
		default:
			return '_'
		}
	}, raw)
	// A segment of only dots would let path.Join climb out of the
	// media prefix.
	if strings.Trim(cleaned, ".") == "" {
		return "unknown"
	}
	return cleaned
}

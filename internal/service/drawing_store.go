package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-ledger-api/internal/observability"
)

const maxDrawingBytes = 5 * 1024 * 1024

var allowedDrawingTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
	"image/gif":  {},
}

// DrawingUploader persists a drawing image and returns its public URL.
type DrawingUploader interface {
	UploadDrawing(ctx context.Context, publicID string, reader io.Reader) (string, error)
}

// DrawingStore validates drawing payloads and moves inline images to storage.
type DrawingStore interface {
	Store(ctx context.Context, responseID string, drawings map[string]string) (map[string]string, error)
}

type drawingStore struct {
	uploader DrawingUploader
	logger   zerolog.Logger
}

// NewDrawingStore constructs a drawing store. With a nil uploader data URLs
// are validated and kept inline.
func NewDrawingStore(uploader DrawingUploader, logger zerolog.Logger) DrawingStore {
	return &drawingStore{
		uploader: uploader,
		logger:   logger.With().Str("component", "drawing_store").Logger(),
	}
}

func (s *drawingStore) Store(ctx context.Context, responseID string, drawings map[string]string) (map[string]string, error) {
	stored := make(map[string]string, len(drawings))
	for questionID, value := range drawings {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
			stored[questionID] = value
			continue
		}

		if !strings.HasPrefix(value, "data:") {
			return nil, fmt.Errorf("%w: question %s: unsupported drawing reference", ErrDrawingRejected, questionID)
		}

		payload, err := decodeDataURL(value)
		if err != nil {
			return nil, fmt.Errorf("%w: question %s: %v", ErrDrawingRejected, questionID, err)
		}

		detected := mimetype.Detect(payload).String()
		if idx := strings.Index(detected, ";"); idx >= 0 {
			detected = detected[:idx]
		}
		if _, ok := allowedDrawingTypes[detected]; !ok {
			observability.PartialFailures().WithLabelValues("drawing_rejected").Inc()
			return nil, fmt.Errorf("%w: question %s: type %s not allowed", ErrDrawingRejected, questionID, detected)
		}

		if s.uploader == nil {
			stored[questionID] = value
			continue
		}

		url, err := s.uploader.UploadDrawing(ctx, drawingPublicID(responseID, questionID), bytes.NewReader(payload))
		if err != nil {
			s.logger.Warn().Err(err).
				Str("response_id", responseID).
				Str("question_id", questionID).
				Msg("drawing upload failed, keeping inline payload")
			stored[questionID] = value
			continue
		}
		stored[questionID] = url
	}

	return stored, nil
}

func decodeDataURL(value string) ([]byte, error) {
	header, data, found := strings.Cut(strings.TrimPrefix(value, "data:"), ",")
	if !found {
		return nil, fmt.Errorf("malformed data url")
	}
	if !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("data url must be base64 encoded")
	}
	if base64.StdEncoding.DecodedLen(len(data)) > maxDrawingBytes {
		return nil, fmt.Errorf("drawing exceeds %d bytes", maxDrawingBytes)
	}

	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty drawing")
	}
	return payload, nil
}

func drawingPublicID(responseID, questionID string) string {
	return responseID + "-" + questionID
}

package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pulsegram/pulsegram/internal/domain"
	apperrors "github.com/pulsegram/pulsegram/internal/platform/errors"
)

const maxCommentLength = 2200

type likeRequest struct {
	Desired bool   `json:"desired"`
	Seq     uint64 `json:"seq"`
}

type toggleRequest struct {
	Seq uint64 `json:"seq"`
}

type commentRequest struct {
	Body string `json:"body"`
	Seq  uint64 `json:"seq"`
}

type shareRequest struct {
	Seq uint64 `json:"seq"`
}

func parseContentKey(c echo.Context) (domain.ContentKey, error) {
	contentType := domain.ContentType(c.Param("type"))
	if !contentType.Valid() {
		return domain.ContentKey{}, apperrors.ValidationError("unknown content type").
			WithContext("content_type", c.Param("type"))
	}

	id := c.Param("id")
	if id == "" {
		return domain.ContentKey{}, apperrors.ValidationError("content id must not be empty")
	}

	return domain.ContentKey{Type: contentType, ID: id}, nil
}

// mapInteractionError translates engine errors into structured API errors.
// A mutation against content without an open view is a client addressing
// error, not a server fault.
func mapInteractionError(key domain.ContentKey, err error) error {
	switch {
	case errors.Is(err, domain.ErrViewNotOpen), errors.Is(err, domain.ErrViewClosed):
		return apperrors.NotFoundError("no open view for content").
			WithContext("content_key", key.String())
	case errors.Is(err, domain.ErrStoreUnavailable):
		return apperrors.TransientError("durable store unavailable", err).
			WithContext("content_key", key.String())
	default:
		return apperrors.InternalError("interaction engine failure", err).
			WithContext("content_key", key.String())
	}
}

func writeSnapshot(c echo.Context, snapshot domain.InteractionSnapshot) error {
	if err := c.JSON(http.StatusOK, snapshot); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetSnapshot(c echo.Context) error {
	key, err := parseContentKey(c)
	if err != nil {
		return err
	}

	snapshot, err := s.interactions.Snapshot(key)
	if err != nil {
		return mapInteractionError(key, err)
	}
	return writeSnapshot(c, snapshot)
}

func (s *Server) handleSetLike(c echo.Context) error {
	key, err := parseContentKey(c)
	if err != nil {
		return err
	}

	var req likeRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	snapshot, err := s.interactions.SetLike(key, req.Desired, req.Seq)
	if err != nil {
		return mapInteractionError(key, err)
	}
	return writeSnapshot(c, snapshot)
}

func (s *Server) handleToggleLike(c echo.Context) error {
	key, err := parseContentKey(c)
	if err != nil {
		return err
	}

	var req toggleRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	snapshot, err := s.interactions.ToggleLike(key, req.Seq)
	if err != nil {
		return mapInteractionError(key, err)
	}
	return writeSnapshot(c, snapshot)
}

func (s *Server) handleAddComment(c echo.Context) error {
	key, err := parseContentKey(c)
	if err != nil {
		return err
	}

	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Body == "" {
		return apperrors.ValidationError("comment body must not be empty")
	}
	if len(req.Body) > maxCommentLength {
		return apperrors.ValidationError("comment body too long").
			WithContext("length", len(req.Body)).
			WithContext("max_length", maxCommentLength)
	}

	snapshot, err := s.interactions.AddComment(key, req.Body, req.Seq)
	if err != nil {
		return mapInteractionError(key, err)
	}
	return writeSnapshot(c, snapshot)
}

func (s *Server) handleRecordShare(c echo.Context) error {
	key, err := parseContentKey(c)
	if err != nil {
		return err
	}

	var req shareRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	snapshot, err := s.interactions.RecordShare(key, req.Seq)
	if err != nil {
		return mapInteractionError(key, err)
	}
	return writeSnapshot(c, snapshot)
}

func (s *Server) handleResync(c echo.Context) error {
	key, err := parseContentKey(c)
	if err != nil {
		return err
	}

	s.interactions.Resync(key)

	if err := c.JSON(http.StatusAccepted, map[string]string{"status": "resync requested"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

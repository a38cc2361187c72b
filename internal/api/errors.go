package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/RARPlayzDev/StudyVerse-sub000/internal/board"
	"github.com/RARPlayzDev/StudyVerse-sub000/internal/domain"
)

var errDuplicateRequest = errors.New("request with this idempotency key is in progress")

// statusFor maps board errors onto HTTP responses.
func statusFor(err error) (int, errorResponse) {
	var ve *domain.ValidationError
	var se *domain.StoreError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorResponse{Error: ve.Error(), Field: ve.Field}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error()}
	case errors.Is(err, errDuplicateRequest):
		return http.StatusConflict, errorResponse{Error: err.Error()}
	case errors.As(err, &se):
		return http.StatusBadGateway, errorResponse{Error: se.Error()}
	case errors.Is(err, board.ErrClosed):
		return http.StatusServiceUnavailable, errorResponse{Error: "board unavailable, retry"}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, errorResponse{Error: "timed out waiting for the store"}
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal error"}
}

func (h *handler) fail(c echo.Context, stage string, err error) error {
	status, body := statusFor(err)
	metricsFrom(c).SetErrorStage(stage)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{
			"owner": ownerFrom(c),
			"route": c.Path(),
			"stage": stage,
		}).Error("board request failed")
	}
	return c.JSON(status, body)
}

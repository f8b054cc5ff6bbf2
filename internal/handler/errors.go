package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/repository"
	"github.com/shinyyama/messaging-backend/internal/reqctx"
	"github.com/shinyyama/messaging-backend/internal/schema"
	"github.com/shinyyama/messaging-backend/internal/service"
	"github.com/shinyyama/messaging-backend/internal/store"
)

// writeError maps engine and service errors onto the JSON error envelope.
func writeError(c echo.Context, err error) error {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Printf("[http] rid=%s %s %s err=%v", reqctx.RID(c.Request().Context()), c.Request().Method, c.Path(), err)
		return c.JSON(status, NewErrorResponse(code, "internal error"))
	}
	return c.JSON(status, NewErrorResponse(code, err.Error()))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, repository.ErrRecordNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, store.ErrUniqueViolation):
		return http.StatusConflict, "conflict"
	case errors.Is(err, schema.ErrValidation), errors.Is(err, service.ErrInvalid),
		errors.Is(err, query.ErrInvalidFilter), errors.Is(err, store.ErrUnsupported):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, repository.ErrTransactionWait), errors.Is(err, repository.ErrTransactionTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, repository.ErrDBNotReady):
		return http.StatusServiceUnavailable, "db_not_ready"
	}
	return http.StatusInternalServerError, "internal_error"
}

package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shinyyama/messaging-backend/internal/reqctx"
)

const HeaderRequestID = "X-Request-Id"

// RequestID tags every request with a correlation id, reusing the caller's
// header when present, and stores it on the request context for query logs.
func RequestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		rid := req.Header.Get(HeaderRequestID)
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		c.Response().Header().Set(HeaderRequestID, rid)
		c.SetRequest(req.WithContext(reqctx.WithRID(req.Context(), rid)))
		return next(c)
	}
}

package logging

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const headerRequestID = "X-Request-ID"

// RequestLogger puts a request-scoped logger into each request's context and
// logs the request when it ends. Routes are logged by their pattern, so view
// streams for different counterparts share one route value. Requests for the
// quiet routes (health checks, scrapes) only show up at debug level.
func RequestLogger(logger zerolog.Logger, quiet ...string) gin.HandlerFunc {
	quietRoutes := make(map[string]bool, len(quiet))
	for _, r := range quiet {
		quietRoutes[r] = true
	}

	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(headerRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctxLogger := logger.With().
			Str(FieldRequestID, reqID).
			Str(FieldMethod, c.Request.Method).
			Str(FieldRoute, route).
			Logger()
		if counterpart := c.Param("counterpartId"); counterpart != "" {
			ctxLogger = ctxLogger.With().Str(FieldCounterpartID, counterpart).Logger()
		}

		c.Header(headerRequestID, reqID)
		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), ctxLogger))

		stream := c.IsWebsocket()
		c.Next()

		status := c.Writer.Status()
		var evt *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			evt = ctxLogger.Error()
		case status >= http.StatusBadRequest:
			evt = ctxLogger.Warn()
		case quietRoutes[route]:
			evt = ctxLogger.Debug()
		default:
			evt = ctxLogger.Info()
		}

		evt = evt.Str(FieldClientIP, c.ClientIP()).
			Int64(FieldLatency, time.Since(start).Milliseconds())
		if userID := c.GetString(FieldUserID); userID != "" {
			evt = evt.Str(FieldUserID, userID)
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}

		// A hijacked connection has no meaningful status; the stream just ended.
		if stream && c.Writer.Written() && status < http.StatusBadRequest {
			evt.Msg("view stream closed")
			return
		}
		evt.Int(FieldStatus, status).Msg("request completed")
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/caresync/pkg/errors"
	"github.com/jwalitptl/caresync/pkg/httputil"
)

// ErrorHandler renders the last error attached with c.Error unless the
// handler already wrote a response. Client errors are logged at debug level;
// only 5xx are errors.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		last := c.Errors.Last().Err
		status, message := errors.Status(last)

		logger := zerolog.Ctx(c.Request.Context())
		evt := logger.Debug()
		if status >= 500 {
			evt = logger.Error()
		}
		evt.Err(last).
			Int("status", status).
			Str("path", c.FullPath()).
			Str("method", c.Request.Method).
			Msg("Request error")

		if c.Writer.Written() {
			return
		}
		c.JSON(status, httputil.ErrorBody{OK: false, Error: message})
	}
}

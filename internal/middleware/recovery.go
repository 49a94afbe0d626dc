package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/caresync/pkg/httputil"
)

// Recovery turns a panic into a 500 envelope. The panic is logged with the
// request-scoped logger; the request body is never included.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				zerolog.Ctx(c.Request.Context()).Error().
					Interface("error", err).
					Bytes("stack", debug.Stack()).
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Msg("Request panic recovered")

				httputil.RespondWithStatus(c, http.StatusInternalServerError, "internal server error")
			}
		}()
		c.Next()
	}
}

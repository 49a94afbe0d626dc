package httputil

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/caresync/pkg/errors"
)

// ErrorBody is the error envelope every endpoint returns.
type ErrorBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// RespondWithError writes {ok:false, error} with the status derived from err.
// Internal errors are logged and reported with a generic message.
func RespondWithError(c *gin.Context, err error) {
	status, message := errors.Status(err)
	if status >= 500 {
		log.Error().
			Err(err).
			Str("path", c.Request.URL.Path).
			Str("request_id", c.GetString("request_id")).
			Msg("request failed")
	}
	c.AbortWithStatusJSON(status, ErrorBody{OK: false, Error: message})
}

// RespondWithStatus writes an error envelope with an explicit status.
func RespondWithStatus(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{OK: false, Error: message})
}

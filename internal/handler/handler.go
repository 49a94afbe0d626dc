package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/caresync/pkg/errors"
	"github.com/jwalitptl/caresync/pkg/httputil"
	"github.com/jwalitptl/caresync/pkg/validator"
)

// ParseID reads a uuid path parameter, writing a 400 on failure.
func ParseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid "+param, err))
		return uuid.Nil, false
	}
	return id, true
}

// BindJSON decodes the body into obj and, when v is set, validates it. On
// failure it writes the error response and returns false.
func BindJSON(c *gin.Context, obj interface{}, v validator.Validator) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			httputil.RespondWithStatus(c, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			httputil.RespondWithError(c, apperrors.NewBadRequest("request body is required", err))
		default:
			httputil.RespondWithError(c, apperrors.NewBadRequest("invalid request body: "+err.Error(), err))
		}
		return false
	}
	if v != nil {
		if err := v.Validate(obj); err != nil {
			httputil.RespondWithError(c, apperrors.NewBadRequest(err.Error(), err))
			return false
		}
	}
	return true
}

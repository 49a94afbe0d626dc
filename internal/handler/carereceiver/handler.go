package carereceiver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/caresync/internal/handler"
	"github.com/jwalitptl/caresync/internal/model"
	careReceiverService "github.com/jwalitptl/caresync/internal/service/carereceiver"
	apperrors "github.com/jwalitptl/caresync/pkg/errors"
	"github.com/jwalitptl/caresync/pkg/httputil"
)

type Handler struct {
	service careReceiverService.CareReceiverServicer
}

func NewHandler(service careReceiverService.CareReceiverServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	receivers := r.Group("/care-receivers")
	{
		receivers.GET("", h.ListCareReceivers)
		receivers.GET("/:id", h.GetCareReceiver)
		receivers.PUT("/:id", h.UpdateCareReceiver)
		receivers.DELETE("/:id", h.DeleteCareReceiver)
	}
}

func (h *Handler) ListCareReceivers(c *gin.Context) {
	var filters model.CareReceiverFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid query parameters", err))
		return
	}

	list, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	// Listings never carry personal fields.
	users := make([]model.CareReceiver, len(list))
	for i, cr := range list {
		users[i] = cr.Sanitized()
	}
	handler.Success(c, http.StatusOK, "users", users)
}

func (h *Handler) GetCareReceiver(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	cr, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	handler.Success(c, http.StatusOK, "user", cr)
}

// UpdateCareReceiver applies a partial update. The body must carry the
// version the caller last read.
func (h *Handler) UpdateCareReceiver(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	var body map[string]interface{}
	if !handler.BindJSON(c, &body, nil) {
		return
	}

	updated, err := h.service.Update(c.Request.Context(), id, body)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	handler.Success(c, http.StatusOK, "user", updated.Sanitized())
}

func (h *Handler) DeleteCareReceiver(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

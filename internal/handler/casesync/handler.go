package casesync

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/caresync/internal/handler"
	"github.com/jwalitptl/caresync/internal/model"
	syncService "github.com/jwalitptl/caresync/internal/service/casesync"
	"github.com/jwalitptl/caresync/pkg/httputil"
	"github.com/jwalitptl/caresync/pkg/validator"
)

const HeaderReplayed = model.ReplayedHeader

type Handler struct {
	service   syncService.SyncServicer
	validator validator.Validator
}

func NewHandler(service syncService.SyncServicer, v validator.Validator) *Handler {
	return &Handler{service: service, validator: v}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sync := r.Group("/sync")
	{
		sync.POST("/case-records", h.SyncCaseRecords)
	}
}

// SyncCaseRecords applies a batch of offline operations. The idempotency key
// is the Idempotency-Key header, falling back to syncRequestId.
func (h *Handler) SyncCaseRecords(c *gin.Context) {
	var req model.SyncRequest
	if !handler.BindJSON(c, &req, h.validator) {
		return
	}

	key := c.GetHeader(model.IdempotencyHeader)
	if key == "" {
		key = req.SyncRequestID
	}

	out, err := h.service.Apply(c.Request.Context(), key, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	if out.Replayed {
		c.Header(HeaderReplayed, "true")
	}
	c.Data(out.Status, "application/json; charset=utf-8", out.Body)
}

package caserecord

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/caresync/internal/handler"
	"github.com/jwalitptl/caresync/internal/model"
	caseRecordService "github.com/jwalitptl/caresync/internal/service/caserecord"
	apperrors "github.com/jwalitptl/caresync/pkg/errors"
	"github.com/jwalitptl/caresync/pkg/httputil"
	"github.com/jwalitptl/caresync/pkg/validator"
)

type Handler struct {
	service   caseRecordService.CaseRecordServicer
	validator validator.Validator
}

func NewHandler(service caseRecordService.CaseRecordServicer, v validator.Validator) *Handler {
	return &Handler{service: service, validator: v}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	records := r.Group("/case-records")
	{
		records.GET("", h.ListCaseRecords)
		records.POST("", h.CreateCaseRecord)
		records.GET("/:id", h.GetCaseRecord)
		records.PUT("/:id", h.UpdateCaseRecord)
	}
}

func (h *Handler) ListCaseRecords(c *gin.Context) {
	var filters model.CaseRecordFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid query parameters", err))
		return
	}

	records, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	handler.Success(c, http.StatusOK, "data", records)
}

// CreateCaseRecord saves a record online, replacing any record already
// stored for the same user, service and date.
func (h *Handler) CreateCaseRecord(c *gin.Context) {
	var req model.CreateCaseRecordRequest
	if !handler.BindJSON(c, &req, h.validator) {
		return
	}

	rec, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"recordId": rec.ID,
		"record":   rec,
	})
}

func (h *Handler) GetCaseRecord(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	rec, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	handler.Success(c, http.StatusOK, "data", rec)
}

func (h *Handler) UpdateCaseRecord(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	var req model.UpdateCaseRecordRequest
	if !handler.BindJSON(c, &req, h.validator) {
		return
	}

	updated, err := h.service.Update(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	handler.Success(c, http.StatusOK, "data", updated)
}

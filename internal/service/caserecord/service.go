package caserecord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/repository"
	apperrors "github.com/jwalitptl/caresync/pkg/errors"
	"github.com/jwalitptl/caresync/pkg/logger"
	"github.com/jwalitptl/caresync/pkg/metrics"
	"github.com/jwalitptl/caresync/pkg/validator"
)

type CaseRecordServicer interface {
	Get(ctx context.Context, id uuid.UUID) (*model.CaseRecord, error)
	List(ctx context.Context, filters model.CaseRecordFilters) ([]*model.CaseRecord, error)
	Update(ctx context.Context, id uuid.UUID, req *model.UpdateCaseRecordRequest) (*model.CaseRecord, error)
	Create(ctx context.Context, req *model.CreateCaseRecordRequest) (*model.CaseRecord, error)
}

type Service struct {
	repo    repository.CaseRecordRepository
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(repo repository.CaseRecordRepository, log *logger.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{repo: repo, logger: log, metrics: m}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.CaseRecord, error) {
	rec, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("Case record", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case record: %w", err)
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, filters model.CaseRecordFilters) ([]*model.CaseRecord, error) {
	if filters.From != "" && !validator.IsYMD(filters.From) {
		return nil, apperrors.NewBadRequest("from must be a YYYY-MM-DD date", nil)
	}
	if filters.To != "" && !validator.IsYMD(filters.To) {
		return nil, apperrors.NewBadRequest("to must be a YYYY-MM-DD date", nil)
	}
	records, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list case records: %w", err)
	}
	return records, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req *model.UpdateCaseRecordRequest) (*model.CaseRecord, error) {
	if req.Version == nil {
		return nil, apperrors.NewBadRequest("version is required", nil)
	}

	patch := map[string]interface{}{}
	if req.RecordDate != nil {
		patch["record_date"] = *req.RecordDate
	}
	if len(req.Content) > 0 && string(req.Content) != "null" {
		if !json.Valid(req.Content) || req.Content[0] != '{' {
			return nil, apperrors.NewBadRequest("content must be a JSON object", nil)
		}
		patch["content"] = req.Content
	}
	if req.Source != nil {
		patch["source"] = *req.Source
	}
	if len(patch) == 0 {
		return nil, apperrors.NewBadRequest("no updatable fields in request", nil)
	}

	outcome, updated, err := s.repo.UpdateVersioned(ctx, id, *req.Version, patch)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, apperrors.NewConflict("A case record already exists for this date", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update case record: %w", err)
	}
	switch outcome {
	case repository.VersionNotFound:
		return nil, apperrors.NewNotFound("Case record", nil)
	case repository.VersionConflict:
		s.metrics.VersionConflicts.WithLabelValues("case_records").Inc()
		return nil, apperrors.NewConflict("Record has been updated by another user", nil)
	}

	s.logger.Info("case record updated", "id", id.String(), "version", updated.Version)
	return updated, nil
}

// Create upserts the record for the request's natural key.
func (s *Service) Create(ctx context.Context, req *model.CreateCaseRecordRequest) (*model.CaseRecord, error) {
	content, err := createContent(req)
	if err != nil {
		return nil, err
	}

	rec, err := s.repo.Upsert(ctx, &model.CaseRecord{
		ServiceID:   req.ServiceID,
		UserID:      req.UserID,
		ServiceType: req.ServiceID,
		RecordDate:  req.RecordDate,
		Section:     model.SectionContent,
		ItemKey:     model.TemplateAT,
		Content:     content,
		Source:      model.SourceManual,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert case record: %w", err)
	}

	s.logger.Info("case record saved", "id", rec.ID.String(), "user_id", rec.UserID, "record_date", rec.RecordDate)
	return rec, nil
}

func createContent(req *model.CreateCaseRecordRequest) (json.RawMessage, error) {
	content := map[string]json.RawMessage{}
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		if err := json.Unmarshal(req.Payload, &content); err != nil {
			return nil, apperrors.NewBadRequest("payload must be a JSON object", err)
		}
	}
	set := func(key string, v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		content[key] = data
		return nil
	}
	if req.MainStaffID != nil {
		if err := set("mainStaffId", *req.MainStaffID); err != nil {
			return nil, err
		}
	}
	if req.SubStaffIDs != nil {
		if err := set("subStaffIds", req.SubStaffIDs); err != nil {
			return nil, err
		}
	}
	if req.RecordTime != nil {
		if err := set("recordTime", *req.RecordTime); err != nil {
			return nil, err
		}
	}
	return json.Marshal(content)
}

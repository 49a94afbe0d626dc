package carereceiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/repository"
	apperrors "github.com/jwalitptl/caresync/pkg/errors"
	"github.com/jwalitptl/caresync/pkg/logger"
	"github.com/jwalitptl/caresync/pkg/metrics"
)

// VersionConflictMessage is the message returned when the stored version moved on.
const VersionConflictMessage = "Record has been updated by another user"

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindBool
)

var fieldKinds = map[string]fieldKind{
	"name":              kindString,
	"display_name":      kindString,
	"full_name":         kindString,
	"birthday":          kindString,
	"address":           kindString,
	"phone":             kindString,
	"emergency_contact": kindString,
	"gender":            kindString,
	"condition":         kindString,
	"medical_care":      kindString,
	"notes":             kindString,
	"age":               kindInt,
	"care_level":        kindInt,
	"is_active":         kindBool,
}

type CareReceiverServicer interface {
	Get(ctx context.Context, id uuid.UUID) (*model.CareReceiver, error)
	List(ctx context.Context, filters model.CareReceiverFilters) ([]*model.CareReceiver, error)
	Update(ctx context.Context, id uuid.UUID, body map[string]interface{}) (*model.CareReceiver, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	repo    repository.CareReceiverRepository
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(repo repository.CareReceiverRepository, log *logger.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{repo: repo, logger: log, metrics: m}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.CareReceiver, error) {
	cr, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("Care receiver", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get care receiver: %w", err)
	}
	return cr, nil
}

func (s *Service) List(ctx context.Context, filters model.CareReceiverFilters) ([]*model.CareReceiver, error) {
	list, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list care receivers: %w", err)
	}
	return list, nil
}

// Update applies a partial update guarded by body["version"]. Immutable
// fields in body are ignored.
func (s *Service) Update(ctx context.Context, id uuid.UUID, body map[string]interface{}) (*model.CareReceiver, error) {
	version, err := expectedVersion(body)
	if err != nil {
		return nil, err
	}
	patch, err := buildPatch(body)
	if err != nil {
		return nil, err
	}

	outcome, updated, err := s.repo.UpdateVersioned(ctx, id, version, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update care receiver: %w", err)
	}

	switch outcome {
	case repository.VersionNotFound:
		return nil, apperrors.NewNotFound("Care receiver", nil)
	case repository.VersionConflict:
		s.metrics.VersionConflicts.WithLabelValues("care_receivers").Inc()
		s.logger.Info("care receiver version conflict", "id", id.String(), "expected_version", version)
		return nil, apperrors.NewConflict(VersionConflictMessage, nil)
	}

	s.logger.Info("care receiver updated", "id", id.String(), "version", updated.Version)
	return updated, nil
}

// Delete removes the care receiver. Deleting an id that does not exist
// succeeds.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete care receiver: %w", err)
	}
	if deleted {
		s.logger.Info("care receiver deleted", "id", id.String())
	}
	return nil
}

func expectedVersion(body map[string]interface{}) (int64, error) {
	raw, ok := body["version"]
	if !ok || raw == nil {
		return 0, apperrors.NewBadRequest("version is required", nil)
	}
	v, ok := toInt(raw)
	if !ok || v < 1 {
		return 0, apperrors.NewBadRequest("version must be a positive integer", nil)
	}
	return v, nil
}

func buildPatch(body map[string]interface{}) (map[string]interface{}, error) {
	immutable := make(map[string]bool, len(model.CareReceiverImmutableFields))
	for _, f := range model.CareReceiverImmutableFields {
		immutable[f] = true
	}

	patch := make(map[string]interface{}, len(body))
	for key, raw := range body {
		if immutable[key] {
			continue
		}
		kind, ok := fieldKinds[key]
		if !ok {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("field %s cannot be updated", key), nil)
		}
		if raw == nil {
			if key == "name" || key == "is_active" {
				return nil, apperrors.NewBadRequest(fmt.Sprintf("%s must not be null", key), nil)
			}
			patch[key] = nil
			continue
		}

		switch kind {
		case kindString:
			s, ok := raw.(string)
			if !ok {
				return nil, apperrors.NewBadRequest(fmt.Sprintf("%s must be a string", key), nil)
			}
			patch[key] = s
		case kindInt:
			n, ok := toInt(raw)
			if !ok {
				return nil, apperrors.NewBadRequest(fmt.Sprintf("%s must be an integer", key), nil)
			}
			if key == "age" && n < 0 {
				return nil, apperrors.NewBadRequest("age must be >= 0", nil)
			}
			patch[key] = n
		case kindBool:
			b, ok := raw.(bool)
			if !ok {
				return nil, apperrors.NewBadRequest(fmt.Sprintf("%s must be a boolean", key), nil)
			}
			patch[key] = b
		}
	}

	if len(patch) == 0 {
		return nil, apperrors.NewBadRequest("no updatable fields in request", nil)
	}
	return patch, nil
}

func toInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

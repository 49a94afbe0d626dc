package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/repository"
)

const careReceiverColumns = `id, code, service_id, name, display_name, full_name, birthday,
	address, phone, emergency_contact, age, gender, care_level, condition,
	medical_care, notes, is_active, version, created_at, updated_at`

type careReceiverRepository struct {
	BaseRepository
}

func NewCareReceiverRepository(base BaseRepository) repository.CareReceiverRepository {
	return &careReceiverRepository{base}
}

func (r *careReceiverRepository) Get(ctx context.Context, id uuid.UUID) (*model.CareReceiver, error) {
	return getCareReceiver(ctx, r.db, id)
}

func getCareReceiver(ctx context.Context, db sqlx.QueryerContext, id uuid.UUID) (*model.CareReceiver, error) {
	var cr model.CareReceiver
	query := `SELECT ` + careReceiverColumns + ` FROM care_receivers WHERE id = $1`
	if err := sqlx.GetContext(ctx, db, &cr, query, id); err != nil {
		return nil, notFound(err)
	}
	return &cr, nil
}

func (r *careReceiverRepository) List(ctx context.Context, filters model.CareReceiverFilters) ([]*model.CareReceiver, error) {
	var (
		where []string
		args  []interface{}
	)
	if filters.ServiceID != "" {
		args = append(args, filters.ServiceID)
		where = append(where, fmt.Sprintf("service_id = $%d", len(args)))
	}
	if filters.ActiveOnly {
		where = append(where, "is_active = TRUE")
	}

	query := `SELECT ` + careReceiverColumns + ` FROM care_receivers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY code ASC"

	receivers := []*model.CareReceiver{}
	if err := r.db.SelectContext(ctx, &receivers, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list care receivers: %w", err)
	}
	return receivers, nil
}

func (r *careReceiverRepository) UpdateVersioned(ctx context.Context, id uuid.UUID, expectedVersion int64, patch map[string]interface{}) (repository.VersionOutcome, *model.CareReceiver, error) {
	var (
		outcome repository.VersionOutcome
		updated *model.CareReceiver
	)
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		outcome, err = UpdateIfVersionMatches(ctx, tx, "care_receivers", id, expectedVersion, patch)
		if err != nil || outcome != repository.VersionUpdated {
			return err
		}
		updated, err = getCareReceiver(ctx, tx, id)
		if err != nil {
			return err
		}
		evt, err := newEvent(model.EventCareReceiverUpdated, model.CareReceiverEvent{
			ID:        updated.ID.String(),
			Code:      updated.Code,
			ServiceID: updated.ServiceID,
			Version:   updated.Version,
		})
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, evt)
	})
	if err != nil {
		return 0, nil, err
	}
	return outcome, updated, nil
}

func (r *careReceiverRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	var deleted bool
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var cr model.CareReceiver
		err := tx.GetContext(ctx, &cr,
			`DELETE FROM care_receivers WHERE id = $1 RETURNING `+careReceiverColumns, id)
		if errors.Is(notFound(err), repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to delete care receiver: %w", err)
		}
		deleted = true

		evt, err := newEvent(model.EventCareReceiverDeleted, model.CareReceiverEvent{
			ID:        cr.ID.String(),
			Code:      cr.Code,
			ServiceID: cr.ServiceID,
			Version:   cr.Version,
		})
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, evt)
	})
	return deleted, err
}

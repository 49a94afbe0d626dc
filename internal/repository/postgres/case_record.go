package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/repository"
)

const (
	caseRecordColumns = `id, service_id, user_id, service_type, record_date::text AS record_date,
		section, item_key, content, source, version, created_at, updated_at`

	defaultListLimit = 100
	maxListLimit     = 500
)

type caseRecordRepository struct {
	BaseRepository
}

func NewCaseRecordRepository(base BaseRepository) repository.CaseRecordRepository {
	return &caseRecordRepository{base}
}

func (r *caseRecordRepository) ApplyOperation(ctx context.Context, opID string, rec *model.CaseRecord) (*model.CaseRecord, error) {
	var out *model.CaseRecord
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if out, err = upsertCaseRecord(ctx, tx, opID, rec); err != nil {
			return err
		}

		result, err := json.Marshal(model.AppliedCaseRecord{
			ID:        out.ID.String(),
			Version:   out.Version,
			UpdatedAt: out.UpdatedAt,
		})
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_op_receipts
			SET status = 'applied', result = $2, error = NULL, updated_at = NOW()
			WHERE op_id = $1
		`, opID, string(result))
		if err != nil {
			return fmt.Errorf("failed to mark receipt applied: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *caseRecordRepository) Upsert(ctx context.Context, rec *model.CaseRecord) (*model.CaseRecord, error) {
	var out *model.CaseRecord
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		out, err = upsertCaseRecord(ctx, tx, "", rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// upsertCaseRecord writes rec by its natural key and records the upserted
// event in tx.
func upsertCaseRecord(ctx context.Context, tx *sqlx.Tx, opID string, rec *model.CaseRecord) (*model.CaseRecord, error) {
	var out model.CaseRecord
	query := `
		INSERT INTO case_records (
			id, service_id, user_id, service_type, record_date,
			section, item_key, content, source, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, 1, NOW(), NOW()
		)
		ON CONFLICT (user_id, service_type, record_date, section, item_key) DO UPDATE
		SET service_id = EXCLUDED.service_id,
			content = EXCLUDED.content,
			source = EXCLUDED.source,
			version = case_records.version + 1,
			updated_at = NOW()
		RETURNING ` + caseRecordColumns

	err := tx.GetContext(ctx, &out, query,
		uuid.New(),
		rec.ServiceID,
		rec.UserID,
		rec.ServiceType,
		rec.RecordDate,
		rec.Section,
		rec.ItemKey,
		string(rec.Content),
		rec.Source,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert case record: %w", err)
	}

	evt, err := newEvent(model.EventCaseRecordUpserted, caseRecordEvent(&out, opID))
	if err != nil {
		return nil, err
	}
	if err := insertEvent(ctx, tx, evt); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *caseRecordRepository) Get(ctx context.Context, id uuid.UUID) (*model.CaseRecord, error) {
	return getCaseRecord(ctx, r.db, id)
}

func getCaseRecord(ctx context.Context, db sqlx.QueryerContext, id uuid.UUID) (*model.CaseRecord, error) {
	var rec model.CaseRecord
	query := `SELECT ` + caseRecordColumns + ` FROM case_records WHERE id = $1`
	if err := sqlx.GetContext(ctx, db, &rec, query, id); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *caseRecordRepository) List(ctx context.Context, filters model.CaseRecordFilters) ([]*model.CaseRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filters.UserID != "" {
		add("user_id = $%d", filters.UserID)
	}
	if filters.ServiceType != "" {
		add("service_type = $%d", filters.ServiceType)
	}
	if filters.From != "" {
		add("record_date >= $%d", filters.From)
	}
	if filters.To != "" {
		add("record_date <= $%d", filters.To)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT ` + caseRecordColumns + ` FROM case_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY record_date DESC, updated_at DESC LIMIT $%d", len(args))

	records := []*model.CaseRecord{}
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list case records: %w", err)
	}
	return records, nil
}

func (r *caseRecordRepository) UpdateVersioned(ctx context.Context, id uuid.UUID, expectedVersion int64, patch map[string]interface{}) (repository.VersionOutcome, *model.CaseRecord, error) {
	var (
		outcome repository.VersionOutcome
		updated *model.CaseRecord
	)
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		outcome, err = UpdateIfVersionMatches(ctx, tx, "case_records", id, expectedVersion, patch)
		if err != nil || outcome != repository.VersionUpdated {
			return err
		}
		updated, err = getCaseRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		evt, err := newEvent(model.EventCaseRecordUpdated, caseRecordEvent(updated, ""))
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

func caseRecordEvent(rec *model.CaseRecord, opID string) model.CaseRecordEvent {
	return model.CaseRecordEvent{
		RecordID:    rec.ID.String(),
		UserID:      rec.UserID,
		ServiceType: rec.ServiceType,
		RecordDate:  rec.RecordDate,
		Version:     rec.Version,
		OpID:        opID,
	}
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/repository"
)

var (
	ErrUnknownTable  = errors.New("table is not versioned")
	ErrUnknownColumn = errors.New("column is not updatable")
	ErrEmptyPatch    = errors.New("patch has no columns")
)

// versionedColumns lists, per table, the columns a versioned update may set.
// Identifiers are interpolated into SQL, so nothing outside this map is
// ever accepted.
var versionedColumns = map[string]map[string]bool{
	"care_receivers": columnSet(model.CareReceiverUpdatableFields),
	"case_records":   columnSet([]string{"record_date", "content", "source"}),
}

func columnSet(cols []string) map[string]bool {
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[c] = true
	}
	return set
}

// UpdateIfVersionMatches applies patch to the row identified by id only if
// its version still equals expectedVersion, bumping version and updated_at.
// A zero-row update is classified as VersionConflict when the row exists and
// VersionNotFound otherwise.
func UpdateIfVersionMatches(ctx context.Context, db sqlx.ExtContext, table string, id interface{}, expectedVersion int64, patch map[string]interface{}) (repository.VersionOutcome, error) {
	allowed, ok := versionedColumns[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if len(patch) == 0 {
		return 0, ErrEmptyPatch
	}

	cols := make([]string, 0, len(patch))
	for col := range patch {
		if !allowed[col] {
			return 0, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+2)
	args := []interface{}{id, expectedVersion}
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+3))
		args = append(args, columnValue(patch[col]))
	}
	sets = append(sets, "version = version + 1", "updated_at = NOW()")

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $1 AND version = $2", table, strings.Join(sets, ", "))
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", table, duplicate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return repository.VersionUpdated, nil
	}

	var exists bool
	row := db.QueryRowxContext(ctx, fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)", table), id)
	if err := row.Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to check %s existence: %w", table, err)
	}
	if exists {
		return repository.VersionConflict, nil
	}
	return repository.VersionNotFound, nil
}

// columnValue converts JSON values to text so lib/pq sends them as jsonb
// input rather than bytea.
func columnValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.RawMessage:
		return string(t)
	case []byte:
		return string(t)
	default:
		return v
	}
}

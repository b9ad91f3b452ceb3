package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/storage"
)

const intentColumns = `id, from_token, from_amount, to_token, to_amount, expiry,
	creator_address, status, matched_by, settlement_ref, created_at, updated_at`

// IntentStore implements storage.IntentStore using SQLite.
type IntentStore struct {
	db   *sql.DB
	opts storage.Options
}

// NewIntentStore creates a store over an opened database.
func NewIntentStore(db *sql.DB, opts ...storage.Option) *IntentStore {
	return &IntentStore{db: db, opts: storage.ApplyOptions(opts...)}
}

// OpenIntentStore opens the database at path and wraps it in a store.
func OpenIntentStore(path string, opts ...storage.Option) (*IntentStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewIntentStore(db, opts...), nil
}

// Compile-time interface check.
var _ storage.IntentStore = (*IntentStore)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func scanIntent(row scanner) (*models.Intent, error) {
	var (
		i                            models.Intent
		status                       string
		expiry, createdAt, updatedAt int64
	)
	err := row.Scan(&i.ID, &i.FromToken, &i.FromAmount, &i.ToToken, &i.ToAmount, &expiry,
		&i.CreatorAddress, &status, &i.MatchedBy, &i.SettlementRef, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	i.Status = models.IntentStatus(status)
	i.Expiry = fromMicros(expiry)
	i.CreatedAt = fromMicros(createdAt)
	i.UpdatedAt = fromMicros(updatedAt)
	return &i, nil
}

// Create inserts a new active intent. Returns ErrDuplicateKey on id collision.
func (s *IntentStore) Create(ctx context.Context, data models.CreateIntent) (*models.Intent, error) {
	record := storage.NewRecord(s.opts.NewID(), data, s.opts.Clock.Now())

	query := `INSERT INTO intents (` + intentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.FromToken,
		record.FromAmount,
		record.ToToken,
		record.ToAmount,
		toMicros(record.Expiry),
		record.CreatorAddress,
		string(record.Status),
		record.MatchedBy,
		record.SettlementRef,
		toMicros(record.CreatedAt),
		toMicros(record.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, storage.ErrDuplicateKey
		}
		return nil, storage.Fault("create", err)
	}
	return &record, nil
}

// Get retrieves an intent by id. Returns ErrNotFound if absent.
func (s *IntentStore) Get(ctx context.Context, id string) (*models.Intent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM intents WHERE id = ?`, id)
	i, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Fault("get", err)
	}
	return i, nil
}

// List returns matching intents, newest first.
func (s *IntentStore) List(ctx context.Context, filter models.IntentFilter) ([]models.Intent, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.FromToken != "" {
		conds = append(conds, "from_token = ?")
		args = append(args, filter.FromToken)
	}
	if filter.ToToken != "" {
		conds = append(conds, "to_token = ?")
		args = append(args, filter.ToToken)
	}
	if filter.CreatorAddress != "" {
		conds = append(conds, "creator_address = ?")
		args = append(args, filter.CreatorAddress)
	}

	query := `SELECT ` + intentColumns + ` FROM intents`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Fault("list", err)
	}
	defer rows.Close()

	result := make([]models.Intent, 0)
	for rows.Next() {
		i, err := scanIntent(rows)
		if err != nil {
			return nil, storage.Fault("list", err)
		}
		result = append(result, *i)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Fault("list", err)
	}
	return result, nil
}

// Update merges update into the stored record.
func (s *IntentStore) Update(ctx context.Context, id string, update models.IntentUpdate) (*models.Intent, error) {
	return s.Modify(ctx, id, func(models.Intent) (models.IntentUpdate, error) {
		return update, nil
	})
}

// Modify applies fn inside a transaction. The single connection serializes
// concurrent transactions.
func (s *IntentStore) Modify(ctx context.Context, id string, fn storage.ModifyFunc) (*models.Intent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.Fault("modify", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanIntent(tx.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM intents WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Fault("modify", err)
	}

	update, err := fn(*current)
	if err != nil {
		return nil, err
	}

	merged, err := storage.Merge(*current, update, s.opts.Clock.Now())
	if err != nil {
		return nil, err
	}

	query := `UPDATE intents SET from_amount = ?, to_amount = ?, expiry = ?, status = ?,
		matched_by = ?, settlement_ref = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query,
		merged.FromAmount,
		merged.ToAmount,
		toMicros(merged.Expiry),
		string(merged.Status),
		merged.MatchedBy,
		merged.SettlementRef,
		toMicros(merged.UpdatedAt),
		id,
	); err != nil {
		return nil, storage.Fault("modify", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storage.Fault("modify", fmt.Errorf("commit: %w", err))
	}
	return &merged, nil
}

// Delete removes an intent. Returns ErrNotFound if absent.
func (s *IntentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM intents WHERE id = ?`, id)
	if err != nil {
		return storage.Fault("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Fault("delete", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteIf runs fn on the current record and deletes it in one transaction.
func (s *IntentStore) DeleteIf(ctx context.Context, id string, fn storage.CheckFunc) (*models.Intent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.Fault("delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanIntent(tx.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM intents WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Fault("delete", err)
	}

	if err := fn(*current); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM intents WHERE id = ?`, id); err != nil {
		return nil, storage.Fault("delete", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storage.Fault("delete", fmt.Errorf("commit: %w", err))
	}
	return current, nil
}

// SweepExpired expires active intents at or past expiry in one statement.
func (s *IntentStore) SweepExpired(ctx context.Context) (int, error) {
	now := toMicros(storage.Stamp(s.opts.Clock.Now()))
	res, err := s.db.ExecContext(ctx, `
		UPDATE intents SET status = 'expired', updated_at = MAX(?, updated_at + 1)
		WHERE status = 'active' AND expiry <= ?`, now, now)
	if err != nil {
		return 0, storage.Fault("sweep", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storage.Fault("sweep", err)
	}
	return int(n), nil
}

// Ping checks the database connection.
func (s *IntentStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storage.Fault("ping", err)
	}
	return nil
}

// Close closes the database.
func (s *IntentStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/storage"
)

const intentColumns = `id, from_token, from_amount, to_token, to_amount, expiry,
	creator_address, status, matched_by, settlement_ref, created_at, updated_at`

// IntentStore implements storage.IntentStore using PostgreSQL.
type IntentStore struct {
	pool *Pool
	opts storage.Options
}

// NewIntentStore creates a new IntentStore.
func NewIntentStore(pool *Pool, opts ...storage.Option) *IntentStore {
	return &IntentStore{pool: pool, opts: storage.ApplyOptions(opts...)}
}

// Compile-time interface check.
var _ storage.IntentStore = (*IntentStore)(nil)

// Create inserts a new active intent. Returns ErrDuplicateKey if the id exists.
func (s *IntentStore) Create(ctx context.Context, data models.CreateIntent) (*models.Intent, error) {
	record := storage.NewRecord(s.opts.NewID(), data, s.opts.Clock.Now())

	query := `
		INSERT INTO intents (` + intentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.pool.Exec(ctx, query,
		record.ID,
		record.FromToken,
		record.FromAmount,
		record.ToToken,
		record.ToAmount,
		record.Expiry,
		record.CreatorAddress,
		string(record.Status),
		record.MatchedBy,
		record.SettlementRef,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, storage.ErrDuplicateKey
		}
		return nil, storage.Fault("create", fmt.Errorf("insert intent: %w", err))
	}
	return &record, nil
}

// Get retrieves an intent by its ID. Returns ErrNotFound if not exists.
func (s *IntentStore) Get(ctx context.Context, id string) (*models.Intent, error) {
	query := `SELECT ` + intentColumns + ` FROM intents WHERE id = $1`

	i, err := scanIntent(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Fault("get", fmt.Errorf("get intent by id: %w", err))
	}
	return i, nil
}

// List returns matching intents ordered by created_at DESC, id DESC.
func (s *IntentStore) List(ctx context.Context, filter models.IntentFilter) ([]models.Intent, error) {
	var (
		conds []string
		args  []any
	)
	add := func(column string, value string) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}
	if filter.FromToken != "" {
		add("from_token", filter.FromToken)
	}
	if filter.ToToken != "" {
		add("to_token", filter.ToToken)
	}
	if filter.CreatorAddress != "" {
		add("creator_address", filter.CreatorAddress)
	}

	query := `SELECT ` + intentColumns + ` FROM intents`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storage.Fault("list", fmt.Errorf("query intents: %w", err))
	}
	defer rows.Close()

	return scanIntents(rows)
}

// Update merges update into the stored record.
func (s *IntentStore) Update(ctx context.Context, id string, update models.IntentUpdate) (*models.Intent, error) {
	return s.Modify(ctx, id, func(models.Intent) (models.IntentUpdate, error) {
		return update, nil
	})
}

// Modify locks the row with SELECT ... FOR UPDATE, applies fn and writes the result.
func (s *IntentStore) Modify(ctx context.Context, id string, fn storage.ModifyFunc) (*models.Intent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storage.Fault("modify", fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + intentColumns + ` FROM intents WHERE id = $1 FOR UPDATE`
	current, err := scanIntent(tx.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Fault("modify", fmt.Errorf("lock intent: %w", err))
	}

	update, err := fn(*current)
	if err != nil {
		return nil, err
	}

	merged, err := storage.Merge(*current, update, s.opts.Clock.Now())
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE intents
		SET from_amount = $2, to_amount = $3, expiry = $4, status = $5,
			matched_by = $6, settlement_ref = $7, updated_at = $8
		WHERE id = $1
	`,
		id,
		merged.FromAmount,
		merged.ToAmount,
		merged.Expiry,
		string(merged.Status),
		merged.MatchedBy,
		merged.SettlementRef,
		merged.UpdatedAt,
	)
	if err != nil {
		return nil, storage.Fault("modify", fmt.Errorf("update intent: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storage.Fault("modify", fmt.Errorf("commit: %w", err))
	}
	return &merged, nil
}

// Delete removes an intent. Returns ErrNotFound if not exists.
func (s *IntentStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM intents WHERE id = $1`, id)
	if err != nil {
		return storage.Fault("delete", fmt.Errorf("delete intent: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteIf locks the row with SELECT ... FOR UPDATE, runs fn and deletes it.
func (s *IntentStore) DeleteIf(ctx context.Context, id string, fn storage.CheckFunc) (*models.Intent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storage.Fault("delete", fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + intentColumns + ` FROM intents WHERE id = $1 FOR UPDATE`
	current, err := scanIntent(tx.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Fault("delete", fmt.Errorf("lock intent: %w", err))
	}

	if err := fn(*current); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM intents WHERE id = $1`, id); err != nil {
		return nil, storage.Fault("delete", fmt.Errorf("delete intent: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storage.Fault("delete", fmt.Errorf("commit: %w", err))
	}
	return current, nil
}

// SweepExpired expires active intents at or past expiry in one statement.
func (s *IntentStore) SweepExpired(ctx context.Context) (int, error) {
	now := storage.Stamp(s.opts.Clock.Now())
	tag, err := s.pool.Exec(ctx, `
		UPDATE intents
		SET status = 'expired', updated_at = GREATEST($1, updated_at + interval '1 microsecond')
		WHERE status = 'active' AND expiry <= $1
	`, now)
	if err != nil {
		return 0, storage.Fault("sweep", fmt.Errorf("sweep expired intents: %w", err))
	}
	return int(tag.RowsAffected()), nil
}

// Ping checks the pool.
func (s *IntentStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storage.Fault("ping", err)
	}
	return nil
}

// Close closes the pool.
func (s *IntentStore) Close() error {
	s.pool.Close()
	return nil
}

// scanIntent scans a single row into an Intent.
func scanIntent(row pgx.Row) (*models.Intent, error) {
	var (
		i      models.Intent
		status string
	)
	err := row.Scan(
		&i.ID,
		&i.FromToken,
		&i.FromAmount,
		&i.ToToken,
		&i.ToAmount,
		&i.Expiry,
		&i.CreatorAddress,
		&status,
		&i.MatchedBy,
		&i.SettlementRef,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	i.Status = models.IntentStatus(status)
	i.Expiry = i.Expiry.UTC()
	i.CreatedAt = i.CreatedAt.UTC()
	i.UpdatedAt = i.UpdatedAt.UTC()
	return &i, nil
}

// scanIntents scans multiple rows into Intents.
func scanIntents(rows pgx.Rows) ([]models.Intent, error) {
	result := make([]models.Intent, 0)
	for rows.Next() {
		i, err := scanIntent(rows)
		if err != nil {
			return nil, storage.Fault("list", fmt.Errorf("scan intent: %w", err))
		}
		result = append(result, *i)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Fault("list", fmt.Errorf("iterate intents: %w", err))
	}
	return result, nil
}

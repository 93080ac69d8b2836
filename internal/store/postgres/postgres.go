package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tycoon/internal/game"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var _ game.Store = (*Store)(nil)

var ErrTxConflict = errors.New("transaction conflict, retry later")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	capital    NUMERIC NOT NULL DEFAULT 0 CHECK (capital >= 0),
	last_save  TIMESTAMPTZ NULL
);

CREATE TABLE IF NOT EXISTS business (
	id                   BIGINT PRIMARY KEY,
	name                 TEXT NOT NULL,
	unlocking_price      NUMERIC NOT NULL,
	current_level        INTEGER NOT NULL DEFAULT 0,
	base_rewards         NUMERIC NOT NULL,
	base_upgrading_price NUMERIC NOT NULL,
	cooldown             DOUBLE PRECISION NOT NULL CHECK (cooldown > 0),
	manager_cost         NUMERIC NOT NULL,
	is_managed           BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_business_unlocking_price ON business (unlocking_price);

CREATE TABLE IF NOT EXISTS business_user (
	user_id       TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
	business_id   BIGINT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	current_level INTEGER NOT NULL DEFAULT 0 CHECK (current_level >= 0),
	is_managed    BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (user_id, business_id)
);
`

type Store struct {
	db          *pgxpool.Pool
	log         *slog.Logger
	maxAttempts int
}

func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger, maxAttempts: 8}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) ListCatalog(ctx context.Context) ([]game.BusinessDefinition, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, unlocking_price, base_rewards, base_upgrading_price,
		       cooldown, manager_cost, current_level, is_managed
		FROM business
		ORDER BY unlocking_price ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.BusinessDefinition
	for rows.Next() {
		var d game.BusinessDefinition
		if err := rows.Scan(&d.ID, &d.Name, &d.UnlockingPrice, &d.BaseRewards, &d.BaseUpgradingPrice,
			&d.Cooldown, &d.ManagerCost, &d.DefaultLevel, &d.DefaultManaged); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) SeedCatalog(ctx context.Context, defs []game.BusinessDefinition) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// Two instances starting together must not both seed.
	if _, err := tx.Exec(ctx, `LOCK TABLE business IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return 0, err
	}
	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(1) FROM business`).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	for _, d := range defs {
		_, err := tx.Exec(ctx, `
			INSERT INTO business (id, name, unlocking_price, current_level, base_rewards,
			                      base_upgrading_price, cooldown, manager_cost, is_managed)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, d.ID, d.Name, d.UnlockingPrice, d.DefaultLevel, d.BaseRewards,
			d.BaseUpgradingPrice, d.Cooldown, d.ManagerCost, d.DefaultManaged)
		if err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(defs), nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (game.User, error) {
	return getUser(ctx, s.db, userID)
}

func (s *Store) CreateUser(ctx context.Context, userID string, capital decimal.Decimal) (game.User, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO users (id, capital)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, userID, capital)
	if err != nil {
		return game.User{}, err
	}
	if tag.RowsAffected() == 0 {
		return game.User{}, game.ErrUserExists
	}
	return game.User{ID: userID, Capital: capital}, nil
}

func (s *Store) GetProgress(ctx context.Context, userID string) ([]game.Progress, error) {
	rows, err := s.db.Query(ctx, `
		SELECT business_id, name, current_level, is_managed
		FROM business_user
		WHERE user_id = $1
		ORDER BY business_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.Progress
	for rows.Next() {
		p := game.Progress{UserID: userID}
		if err := rows.Scan(&p.BusinessID, &p.Name, &p.CurrentLevel, &p.IsManaged); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InTx runs fn in a serializable transaction, retrying serialization
// failures with backoff.
func (s *Store) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		s.log.Debug("save transaction conflict, retrying", "attempt", attempt+1, "err", err)
		if attempt == s.maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func (s *Store) runTx(ctx context.Context, fn func(tx game.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx, locked: make(map[string]bool)}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx     pgx.Tx
	locked map[string]bool
}

// lockUser takes a transaction-scoped advisory lock so concurrent saves for
// one player queue behind each other instead of interleaving.
func (t *pgTx) lockUser(ctx context.Context, userID string) error {
	if t.locked[userID] {
		return nil
	}
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return err
	}
	t.locked[userID] = true
	return nil
}

func (t *pgTx) GetUser(ctx context.Context, userID string) (game.User, error) {
	return getUser(ctx, t.tx, userID)
}

func (t *pgTx) ReplaceProgress(ctx context.Context, userID string, rows []game.Progress) error {
	if err := t.lockUser(ctx, userID); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM business_user WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"business_user"},
		[]string{"user_id", "business_id", "name", "current_level", "is_managed"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{userID, r.BusinessID, r.Name, r.CurrentLevel, r.IsManaged}, nil
		}),
	)
	return err
}

func (t *pgTx) UpsertCapital(ctx context.Context, userID string, capital decimal.Decimal, now time.Time) (bool, error) {
	if err := t.lockUser(ctx, userID); err != nil {
		return false, err
	}
	var created bool
	err := t.tx.QueryRow(ctx, `
		INSERT INTO users (id, capital, last_save)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET capital = EXCLUDED.capital, last_save = EXCLUDED.last_save
		RETURNING (xmax = 0)
	`, userID, capital, now).Scan(&created)
	return created, err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getUser(ctx context.Context, q querier, userID string) (game.User, error) {
	u := game.User{ID: userID}
	err := q.QueryRow(ctx, `
		SELECT capital, last_save
		FROM users
		WHERE id = $1
	`, userID).Scan(&u.Capital, &u.LastSave)
	if errors.Is(err, pgx.ErrNoRows) {
		return game.User{}, game.ErrUserNotFound
	}
	if err != nil {
		return game.User{}, err
	}
	return u, nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package sqlite stores game state in a single SQLite file. Writes go
// through one connection-level transaction at a time, which is enough for a
// single API instance.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"tycoon/internal/game"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

var _ game.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id        TEXT PRIMARY KEY,
	capital   TEXT NOT NULL DEFAULT '0',
	last_save TIMESTAMP NULL
);

CREATE TABLE IF NOT EXISTS business (
	id                   INTEGER PRIMARY KEY,
	name                 TEXT NOT NULL,
	unlocking_price      TEXT NOT NULL,
	current_level        INTEGER NOT NULL DEFAULT 0,
	base_rewards         TEXT NOT NULL,
	base_upgrading_price TEXT NOT NULL,
	cooldown             REAL NOT NULL CHECK (cooldown > 0),
	manager_cost         TEXT NOT NULL,
	is_managed           BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS business_user (
	user_id       TEXT NOT NULL,
	business_id   INTEGER NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	current_level INTEGER NOT NULL DEFAULT 0 CHECK (current_level >= 0),
	is_managed    BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, business_id)
);
`

type Store struct {
	db *sql.DB
	// SQLite allows one writer; serializing here avoids SQLITE_BUSY churn.
	writeMu sync.Mutex
}

// Open opens (or creates) the database at path. Use ":memory:" in tests.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) ListCatalog(ctx context.Context) ([]game.BusinessDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, unlocking_price, base_rewards, base_upgrading_price,
		       cooldown, manager_cost, current_level, is_managed
		FROM business
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Prices are stored as exact decimal text, which SQL would order
	// lexically.
	game.SortCatalog(out)
	return out, nil
}

func (s *Store) SeedCatalog(ctx context.Context, defs []game.BusinessDefinition) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM business`).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	for _, d := range defs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO business (id, name, unlocking_price, current_level, base_rewards,
			                      base_upgrading_price, cooldown, manager_cost, is_managed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, d.ID, d.Name, d.UnlockingPrice.String(), d.DefaultLevel, d.BaseRewards.String(),
			d.BaseUpgradingPrice.String(), d.Cooldown, d.ManagerCost.String(), d.DefaultManaged)
		if err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(defs), nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (game.User, error) {
	return getUser(ctx, s.db, userID)
}

func (s *Store) CreateUser(ctx context.Context, userID string, capital decimal.Decimal) (game.User, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, capital) VALUES (?, ?)`, userID, capital.String())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return game.User{}, game.ErrUserExists
		}
		return game.User{}, err
	}
	return game.User{ID: userID, Capital: capital}, nil
}

func (s *Store) GetProgress(ctx context.Context, userID string) ([]game.Progress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT business_id, name, current_level, is_managed
		FROM business_user
		WHERE user_id = ?
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

func (s *Store) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) GetUser(ctx context.Context, userID string) (game.User, error) {
	return getUser(ctx, t.tx, userID)
}

func (t *sqlTx) ReplaceProgress(ctx context.Context, userID string, rows []game.Progress) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM business_user WHERE user_id = ?`, userID); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO business_user (user_id, business_id, name, current_level, is_managed)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, userID, r.BusinessID, r.Name, r.CurrentLevel, r.IsManaged); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTx) UpsertCapital(ctx context.Context, userID string, capital decimal.Decimal, now time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE users SET capital = ?, last_save = ? WHERE id = ?
	`, capital.String(), now.UTC(), userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO users (id, capital, last_save) VALUES (?, ?, ?)
	`, userID, capital.String(), now.UTC()); err != nil {
		return false, err
	}
	return true, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getUser(ctx context.Context, q rowQuerier, userID string) (game.User, error) {
	u := game.User{ID: userID}
	var lastSave sql.NullTime
	err := q.QueryRowContext(ctx, `SELECT capital, last_save FROM users WHERE id = ?`, userID).
		Scan(&u.Capital, &lastSave)
	if errors.Is(err, sql.ErrNoRows) {
		return game.User{}, game.ErrUserNotFound
	}
	if err != nil {
		return game.User{}, err
	}
	if lastSave.Valid {
		t := lastSave.Time
		u.LastSave = &t
	}
	return u, nil
}

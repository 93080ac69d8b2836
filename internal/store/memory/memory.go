// Package memory is an in-process game.Store. Transactions stage their
// writes and apply them under the store mutex on commit.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"tycoon/internal/game"

	"github.com/shopspring/decimal"
)

var _ game.Store = (*Store)(nil)

type Store struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	catalog  []game.BusinessDefinition
	users    map[string]game.User
	progress map[string][]game.Progress

	failMu   sync.Mutex
	failNext error
}

func New() *Store {
	return &Store{
		users:    make(map[string]game.User),
		progress: make(map[string][]game.Progress),
	}
}

// FailNext makes the next storage call return err. Tests use it to simulate
// an unavailable collaborator.
func (s *Store) FailNext(err error) {
	s.failMu.Lock()
	s.failNext = err
	s.failMu.Unlock()
}

func (s *Store) takeFailure() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *Store) ListCatalog(ctx context.Context) ([]game.BusinessDefinition, error) {
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]game.BusinessDefinition, len(s.catalog))
	copy(out, s.catalog)
	return out, nil
}

func (s *Store) SeedCatalog(ctx context.Context, defs []game.BusinessDefinition) (int, error) {
	if err := s.takeFailure(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.catalog) > 0 {
		return 0, nil
	}
	s.catalog = make([]game.BusinessDefinition, len(defs))
	copy(s.catalog, defs)
	game.SortCatalog(s.catalog)
	return len(defs), nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (game.User, error) {
	if err := s.takeFailure(); err != nil {
		return game.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUserLocked(userID)
}

func (s *Store) getUserLocked(userID string) (game.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return game.User{}, game.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) CreateUser(ctx context.Context, userID string, capital decimal.Decimal) (game.User, error) {
	if err := s.takeFailure(); err != nil {
		return game.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; ok {
		return game.User{}, game.ErrUserExists
	}
	u := game.User{ID: userID, Capital: capital}
	s.users[userID] = u
	return u, nil
}

func (s *Store) GetProgress(ctx context.Context, userID string) ([]game.Progress, error) {
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.progress[userID]
	out := make([]game.Progress, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	if err := s.takeFailure(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{store: s, progress: make(map[string][]game.Progress), users: make(map[string]game.User)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rows := range tx.progress {
		if len(rows) == 0 {
			delete(s.progress, id)
			continue
		}
		s.progress[id] = rows
	}
	for id, u := range tx.users {
		s.users[id] = u
	}
	return nil
}

type memTx struct {
	store    *Store
	progress map[string][]game.Progress
	users    map[string]game.User
}

func (tx *memTx) GetUser(ctx context.Context, userID string) (game.User, error) {
	if u, ok := tx.users[userID]; ok {
		return cloneUser(u), nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.getUserLocked(userID)
}

func (tx *memTx) ReplaceProgress(ctx context.Context, userID string, rows []game.Progress) error {
	if err := tx.store.takeFailure(); err != nil {
		return err
	}
	staged := make([]game.Progress, len(rows))
	for i, r := range rows {
		r.UserID = userID
		staged[i] = r
	}
	tx.progress[userID] = staged
	return nil
}

func (tx *memTx) UpsertCapital(ctx context.Context, userID string, capital decimal.Decimal, now time.Time) (bool, error) {
	if err := tx.store.takeFailure(); err != nil {
		return false, err
	}
	_, err := tx.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, game.ErrUserNotFound) {
		return false, err
	}
	created := err != nil
	saved := now
	tx.users[userID] = game.User{ID: userID, Capital: capital, LastSave: &saved}
	return created, nil
}

func cloneUser(u game.User) game.User {
	if u.LastSave != nil {
		t := *u.LastSave
		u.LastSave = &t
	}
	return u
}

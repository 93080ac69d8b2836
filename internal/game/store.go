package game

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence collaborator. Implementations live under
// internal/store and must report a missing user as ErrUserNotFound and a
// duplicate create as ErrUserExists.
type Store interface {
	ListCatalog(ctx context.Context) ([]BusinessDefinition, error)
	SeedCatalog(ctx context.Context, defs []BusinessDefinition) (int, error)
	GetUser(ctx context.Context, userID string) (User, error)
	CreateUser(ctx context.Context, userID string, capital decimal.Decimal) (User, error)
	GetProgress(ctx context.Context, userID string) ([]Progress, error)
	// InTx runs fn so that either all of its writes are visible or none.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	GetUser(ctx context.Context, userID string) (User, error)
	ReplaceProgress(ctx context.Context, userID string, rows []Progress) error
	// UpsertCapital sets capital and last_save, creating the user when absent.
	UpsertCapital(ctx context.Context, userID string, capital decimal.Decimal, now time.Time) (created bool, err error)
}

// Locker serializes work for one key across goroutines or processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

const (
	EventProgressSaved  = "progress.saved"
	EventPlayerReturned = "player.returned"
)

type Event struct {
	Type           string          `json:"type"`
	UserID         string          `json:"user_id"`
	At             time.Time       `json:"at"`
	Capital        decimal.Decimal `json:"capital"`
	OfflineRewards decimal.Decimal `json:"offline_rewards"`
	OfflineSeconds float64         `json:"offline_seconds,omitempty"`
	Businesses     int             `json:"businesses"`
}

// Notifier receives domain events after the state change they describe.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

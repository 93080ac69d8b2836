package game

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// StarterCapital is what a player owns the first time the game is opened.
var StarterCapital = decimal.NewFromInt(1000)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCooldown    = errors.New("cooldown must be > 0")
	ErrInvalidCatalog     = errors.New("invalid business catalog")
)

func NormalizeUserID(userID string) string {
	return strings.TrimSpace(userID)
}

// storageErr tags a collaborator failure so callers can match it with
// errors.Is(err, ErrStorageUnavailable) while keeping the cause.
func storageErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

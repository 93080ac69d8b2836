package game

import (
	"fmt"
	"math"
	"strings"
)

const maxUserIDLen = 128

// ValidateSave checks a client snapshot against the catalog before anything
// is written. Every failure wraps ErrInvalidInput.
func ValidateSave(in SaveInput, catalog []BusinessDefinition) error {
	userID := NormalizeUserID(in.UserID)
	if userID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if len(userID) > maxUserIDLen {
		return fmt.Errorf("%w: userId longer than %d characters", ErrInvalidInput, maxUserIDLen)
	}
	if in.Capital.IsNegative() {
		return fmt.Errorf("%w: capital must be >= 0", ErrInvalidInput)
	}

	known := make(map[int64]struct{}, len(catalog))
	for _, def := range catalog {
		known[def.ID] = struct{}{}
	}
	seen := make(map[int64]struct{}, len(in.Businesses))
	for _, b := range in.Businesses {
		if _, ok := known[b.BusinessID]; !ok {
			return fmt.Errorf("%w: unknown business id %d", ErrInvalidInput, b.BusinessID)
		}
		if _, dup := seen[b.BusinessID]; dup {
			return fmt.Errorf("%w: business id %d submitted twice", ErrInvalidInput, b.BusinessID)
		}
		seen[b.BusinessID] = struct{}{}
		if b.CurrentLevel < 0 {
			return fmt.Errorf("%w: business %d level must be >= 0", ErrInvalidInput, b.BusinessID)
		}
	}
	return nil
}

// ValidateCatalog rejects definitions the accrual math cannot use.
func ValidateCatalog(defs []BusinessDefinition) error {
	seen := make(map[int64]struct{}, len(defs))
	for _, d := range defs {
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: duplicate id %d", ErrInvalidCatalog, d.ID)
		}
		seen[d.ID] = struct{}{}
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("%w: business %d has no name", ErrInvalidCatalog, d.ID)
		}
		if d.Cooldown <= 0 || math.IsNaN(d.Cooldown) || math.IsInf(d.Cooldown, 0) {
			return fmt.Errorf("%w: business %q: %w", ErrInvalidCatalog, d.Name, ErrInvalidCooldown)
		}
		if d.UnlockingPrice.IsNegative() || d.BaseRewards.IsNegative() ||
			d.BaseUpgradingPrice.IsNegative() || d.ManagerCost.IsNegative() {
			return fmt.Errorf("%w: business %q has a negative price", ErrInvalidCatalog, d.Name)
		}
		if d.DefaultLevel < 0 {
			return fmt.Errorf("%w: business %q has a negative level", ErrInvalidCatalog, d.Name)
		}
	}
	return nil
}

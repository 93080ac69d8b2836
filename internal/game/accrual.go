package game

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// OfflineSeconds is the time between the last save and now, never negative.
// A player that never saved has no offline time.
func OfflineSeconds(lastSave *time.Time, now time.Time) float64 {
	if lastSave == nil {
		return 0
	}
	secs := now.Sub(*lastSave).Seconds()
	if secs < 0 {
		return 0
	}
	return secs
}

// CyclesCompleted is the number of full production cycles that fit into
// offlineSeconds, saturating at math.MaxInt64.
func CyclesCompleted(offlineSeconds, cooldown float64) (int64, error) {
	if cooldown <= 0 || math.IsNaN(cooldown) || math.IsInf(cooldown, 0) {
		return 0, ErrInvalidCooldown
	}
	if offlineSeconds <= 0 || math.IsNaN(offlineSeconds) {
		return 0, nil
	}
	q := math.Floor(offlineSeconds / cooldown)
	if q >= math.MaxInt64 {
		return math.MaxInt64, nil
	}
	return int64(q), nil
}

// BusinessOfflineReward is what one business produced while the player was
// away. Only managed businesses produce; an invalid cooldown produces nothing.
func BusinessOfflineReward(b BusinessView, offlineSeconds float64) decimal.Decimal {
	if !b.IsManaged || b.CurrentLevel <= 0 {
		return decimal.Zero
	}
	cycles, err := CyclesCompleted(offlineSeconds, b.Cooldown)
	if err != nil || cycles == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt32(b.CurrentLevel).
		Mul(b.BaseRewards).
		Mul(decimal.NewFromInt(cycles))
}

func OfflineRewards(businesses []BusinessView, offlineSeconds float64) decimal.Decimal {
	total := decimal.Zero
	for _, b := range businesses {
		total = total.Add(BusinessOfflineReward(b, offlineSeconds))
	}
	return total
}

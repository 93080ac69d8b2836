package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID       string
	Capital  decimal.Decimal
	LastSave *time.Time
}

// BusinessDefinition is one entry of the read-only catalog.
type BusinessDefinition struct {
	ID                 int64           `json:"id" yaml:"id"`
	Name               string          `json:"name" yaml:"name"`
	UnlockingPrice     decimal.Decimal `json:"unlocking_price" yaml:"unlocking_price"`
	BaseRewards        decimal.Decimal `json:"base_rewards" yaml:"base_rewards"`
	BaseUpgradingPrice decimal.Decimal `json:"base_upgrading_price" yaml:"base_upgrading_price"`
	Cooldown           float64         `json:"cooldown" yaml:"cooldown"`
	ManagerCost        decimal.Decimal `json:"manager_cost" yaml:"manager_cost"`
	DefaultLevel       int32           `json:"-" yaml:"current_level"`
	DefaultManaged     bool            `json:"-" yaml:"is_managed"`
}

// Progress is a player's state for a single business.
type Progress struct {
	UserID       string `json:"-"`
	BusinessID   int64  `json:"id"`
	Name         string `json:"name"`
	CurrentLevel int32  `json:"current_level"`
	IsManaged    bool   `json:"is_managed"`
}

// BusinessView is a catalog entry with the player's progress applied.
type BusinessView struct {
	BusinessDefinition
	CurrentLevel int32 `json:"current_level"`
	IsManaged    bool  `json:"is_managed"`
}

type LoadResult struct {
	Capital        decimal.Decimal `json:"capital"`
	Businesses     []BusinessView  `json:"businesses"`
	OfflineRewards decimal.Decimal `json:"offlineRewards"`
	OfflineSeconds float64         `json:"-"`
	NewPlayer      bool            `json:"-"`
}

type SaveInput struct {
	UserID     string          `json:"userId"`
	Capital    decimal.Decimal `json:"capital"`
	Businesses []Progress      `json:"businesses"`
}

type SaveResult struct {
	UserID  string    `json:"userId"`
	SavedAt time.Time `json:"savedAt"`
	Rows    int       `json:"rows"`
}

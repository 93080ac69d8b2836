package cli

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tycoon/internal/game"

	"github.com/shopspring/decimal"
)

// LocalState is the last state pulled from the server plus any edits made
// locally since, waiting to be saved.
type LocalState struct {
	UserID         string              `json:"user_id"`
	Capital        decimal.Decimal     `json:"capital"`
	Businesses     []game.BusinessView `json:"businesses"`
	OfflineRewards decimal.Decimal     `json:"offline_rewards"`
	PulledAt       time.Time           `json:"pulled_at"`
}

// BaseDir is ~/.tycoon, or $TYCOON_HOME when set.
func BaseDir() (string, error) {
	dir := strings.TrimSpace(os.Getenv("TYCOON_HOME"))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".tycoon")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func statePath(userID string) (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, stateFileName(userID)), nil
}

func SaveState(s LocalState) error {
	path, err := statePath(s.UserID)
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}

func LoadState(userID string) (LocalState, error) {
	path, err := statePath(userID)
	if err != nil {
		return LocalState{}, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LocalState{}, fmt.Errorf("no local state for %q, run load first", userID)
		}
		return LocalState{}, err
	}
	var s LocalState
	if err := json.Unmarshal(body, &s); err != nil {
		return LocalState{}, err
	}
	return s, nil
}

// SaveInput turns the local state into a save request. Untouched businesses
// (level 0, unmanaged) are left out, as the server treats absence the same.
func (s LocalState) SaveInput() game.SaveInput {
	in := game.SaveInput{UserID: s.UserID, Capital: s.Capital}
	for _, b := range s.Businesses {
		if b.CurrentLevel == 0 && !b.IsManaged {
			continue
		}
		in.Businesses = append(in.Businesses, game.Progress{
			BusinessID:   b.ID,
			Name:         b.Name,
			CurrentLevel: b.CurrentLevel,
			IsManaged:    b.IsManaged,
		})
	}
	return in
}

// CollectOfflineRewards credits the pending offline reward to capital, the
// way the game client does when the player accepts it.
func (s *LocalState) CollectOfflineRewards() decimal.Decimal {
	r := s.OfflineRewards
	s.Capital = s.Capital.Add(r)
	s.OfflineRewards = decimal.Zero
	return r
}

// stateFileName keeps the id readable and appends a hash of the exact id,
// since safeName maps several ids to the same string.
func stateFileName(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return "state-" + safeName(userID) + "-" + hex.EncodeToString(sum[:6]) + ".json"
}

func safeName(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

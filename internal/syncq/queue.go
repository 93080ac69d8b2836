package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"tycoon/internal/cli"
	"tycoon/internal/game"
)

// PendingSave is a save that could not reach the server.
type PendingSave struct {
	Save     game.SaveInput `json:"save"`
	QueuedAt time.Time      `json:"queued_at"`
	Attempts int            `json:"attempts"`
}

func queuePath() (string, error) {
	dir, err := cli.BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]PendingSave, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []PendingSave{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []PendingSave{}, nil
	}
	var out []PendingSave
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(pending []PendingSave) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(pending, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// Push queues a save. A save fully replaces the player's stored state, so an
// older queued save for the same user is dropped.
func Push(p PendingSave) error {
	pending, err := Load()
	if err != nil {
		return err
	}
	kept := pending[:0]
	for _, q := range pending {
		if q.Save.UserID != p.Save.UserID {
			kept = append(kept, q)
		}
	}
	kept = append(kept, p)
	return Save(kept)
}

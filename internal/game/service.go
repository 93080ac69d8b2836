package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tycoon/internal/lock"

	"github.com/shopspring/decimal"
)

type Service struct {
	store          Store
	locker         Locker
	events         Notifier
	log            *slog.Logger
	now            func() time.Time
	starterCapital decimal.Decimal
}

type Option func(*Service)

func WithLocker(l Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.events = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithStarterCapital(c decimal.Decimal) Option {
	return func(s *Service) {
		if !c.IsNegative() {
			s.starterCapital = c
		}
	}
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:          store,
		locker:         lock.NewLocal(),
		events:         nopNotifier{},
		log:            logger,
		now:            time.Now,
		starterCapital: StarterCapital,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedDefaults installs defs when the catalog is still empty.
func (s *Service) SeedDefaults(ctx context.Context, defs []BusinessDefinition) error {
	if err := ValidateCatalog(defs); err != nil {
		return err
	}
	n, err := s.store.SeedCatalog(ctx, defs)
	if err != nil {
		return storageErr("seed catalog", err)
	}
	if n > 0 {
		s.log.Info("business catalog seeded", "count", n)
	}
	return nil
}

func (s *Service) Catalog(ctx context.Context) ([]BusinessDefinition, error) {
	defs, err := s.store.ListCatalog(ctx)
	if err != nil {
		return nil, storageErr("list catalog", err)
	}
	return defs, nil
}

// Load returns the player's merged business state and the reward earned by
// managed businesses since the last save. The reward is advisory: it is not
// added to stored capital and last_save is left untouched.
func (s *Service) Load(ctx context.Context, userID string) (LoadResult, error) {
	var out LoadResult
	userID = NormalizeUserID(userID)
	if userID == "" {
		return out, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}

	user, created, err := s.ensureUser(ctx, userID)
	if err != nil {
		return out, err
	}
	if created {
		s.log.Info("new player", "user_id", userID, "capital", user.Capital.String())
	} else if user.LastSave != nil {
		s.log.Info("player opened the game", "user_id", userID, "last_save", user.LastSave.UTC().Format(time.RFC3339))
	} else {
		s.log.Info("player opened the game", "user_id", userID)
	}

	catalog, err := s.store.ListCatalog(ctx)
	if err != nil {
		return out, storageErr("list catalog", err)
	}
	progress, err := s.store.GetProgress(ctx, userID)
	if err != nil {
		return out, storageErr("get progress", err)
	}

	out.Capital = user.Capital
	out.NewPlayer = created
	out.Businesses = MergeProgress(catalog, progress)
	out.OfflineRewards = decimal.Zero
	now := s.now()
	if !created {
		out.OfflineSeconds = OfflineSeconds(user.LastSave, now)
		out.OfflineRewards = OfflineRewards(out.Businesses, out.OfflineSeconds)
		s.warnInvalidCooldowns(userID, out.Businesses)
	}

	s.notify(ctx, Event{
		Type:           EventPlayerReturned,
		UserID:         userID,
		At:             now.UTC(),
		Capital:        out.Capital,
		OfflineRewards: out.OfflineRewards,
		OfflineSeconds: out.OfflineSeconds,
		Businesses:     len(progress),
	})
	return out, nil
}

// Save replaces the player's stored progress with the client snapshot and
// stamps last_save. Saves for one user are serialized and applied in a single
// transaction, so the stored state is always exactly one submitted snapshot.
func (s *Service) Save(ctx context.Context, in SaveInput) (SaveResult, error) {
	var out SaveResult
	in.UserID = NormalizeUserID(in.UserID)

	catalog, err := s.store.ListCatalog(ctx)
	if err != nil {
		return out, storageErr("list catalog", err)
	}
	if err := ValidateSave(in, catalog); err != nil {
		return out, err
	}
	s.log.Info("player closed the game", "user_id", in.UserID)

	names := make(map[int64]string, len(catalog))
	for _, def := range catalog {
		names[def.ID] = def.Name
	}
	rows := make([]Progress, 0, len(in.Businesses))
	for _, b := range in.Businesses {
		b.UserID = in.UserID
		if b.Name == "" {
			b.Name = names[b.BusinessID]
		}
		rows = append(rows, b)
	}

	unlock, err := s.locker.Lock(ctx, "save:"+in.UserID)
	if err != nil {
		return out, storageErr("lock user", err)
	}
	defer unlock()

	now := s.now().UTC().Truncate(time.Microsecond)
	var created bool
	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.ReplaceProgress(ctx, in.UserID, rows); err != nil {
			return fmt.Errorf("replace progress: %w", err)
		}
		var err error
		created, err = tx.UpsertCapital(ctx, in.UserID, in.Capital, now)
		if err != nil {
			return fmt.Errorf("upsert capital: %w", err)
		}
		return nil
	})
	if err != nil {
		return out, storageErr("save snapshot", err)
	}
	if created {
		s.log.Info("player created on save", "user_id", in.UserID)
	}

	out = SaveResult{UserID: in.UserID, SavedAt: now, Rows: len(rows)}
	s.notify(ctx, Event{
		Type:       EventProgressSaved,
		UserID:     in.UserID,
		At:         now,
		Capital:    in.Capital,
		Businesses: len(rows),
	})
	return out, nil
}

func (s *Service) ensureUser(ctx context.Context, userID string) (User, bool, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return user, false, storageErr("get user", err)
	}

	user, err = s.store.CreateUser(ctx, userID, s.starterCapital)
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, ErrUserExists) {
		return user, false, storageErr("create user", err)
	}
	// Another request created the player first.
	user, err = s.store.GetUser(ctx, userID)
	if err != nil {
		return user, false, storageErr("get user", err)
	}
	return user, false, nil
}

func (s *Service) warnInvalidCooldowns(userID string, businesses []BusinessView) {
	for _, b := range businesses {
		if !b.IsManaged {
			continue
		}
		if _, err := CyclesCompleted(0, b.Cooldown); err != nil {
			s.log.Warn("managed business skipped in offline rewards", "user_id", userID, "business_id", b.ID, "cooldown", b.Cooldown)
		}
	}
}

func (s *Service) notify(ctx context.Context, ev Event) {
	if err := s.events.Notify(ctx, ev); err != nil {
		s.log.Warn("publish event failed", "type", ev.Type, "user_id", ev.UserID, "err", err)
	}
}

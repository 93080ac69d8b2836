package game_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tycoon/internal/game"
	"tycoon/internal/store/memory"

	"github.com/shopspring/decimal"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []game.Event
}

func (r *recorder) Notify(_ context.Context, ev game.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

var testCatalog = []game.BusinessDefinition{
	{ID: 2, Name: "Newspaper Delivery", UnlockingPrice: decimal.NewFromInt(60), BaseRewards: decimal.NewFromInt(60), BaseUpgradingPrice: decimal.NewFromInt(69), Cooldown: 3, ManagerCost: decimal.NewFromInt(15000)},
	{ID: 1, Name: "Lemonade Stand", UnlockingPrice: decimal.Zero, BaseRewards: decimal.NewFromInt(10), BaseUpgradingPrice: decimal.NewFromInt(4), Cooldown: 60, ManagerCost: decimal.NewFromInt(1000)},
}

func newTestService(t *testing.T) (*game.Service, *memory.Store, *clock, *recorder) {
	t.Helper()
	store := memory.New()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	svc := game.NewService(store, nil, game.WithClock(c.Now), game.WithNotifier(rec))
	if err := svc.SeedDefaults(context.Background(), testCatalog); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return svc, store, c, rec
}

func TestLoadNewPlayer(t *testing.T) {
	svc, _, _, rec := newTestService(t)

	out, err := svc.Load(context.Background(), "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !out.Capital.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("capital got %s want 1000", out.Capital)
	}
	if !out.OfflineRewards.IsZero() {
		t.Fatalf("new player offline rewards got %s", out.OfflineRewards)
	}
	if !out.NewPlayer {
		t.Fatalf("expected NewPlayer")
	}
	if len(out.Businesses) != 2 {
		t.Fatalf("expected full catalog, got %d", len(out.Businesses))
	}
	if out.Businesses[0].ID != 1 {
		t.Fatalf("catalog must be ordered by unlocking price, first id=%d", out.Businesses[0].ID)
	}
	for _, b := range out.Businesses {
		if b.CurrentLevel != 0 || b.IsManaged {
			t.Fatalf("new player business not at defaults: %+v", b)
		}
	}
	if got := rec.types(); len(got) != 1 || got[0] != game.EventPlayerReturned {
		t.Fatalf("events got %v", got)
	}

	again, err := svc.Load(context.Background(), "u1")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if again.NewPlayer {
		t.Fatalf("second load must find the existing player")
	}
	if !again.OfflineRewards.IsZero() {
		t.Fatalf("player who never saved has no offline time, got %s", again.OfflineRewards)
	}
}

func TestOfflineAccrualAfterSave(t *testing.T) {
	svc, _, c, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Save(ctx, game.SaveInput{
		UserID:     "u1",
		Capital:    decimal.NewFromInt(500),
		Businesses: []game.Progress{{BusinessID: 1, Name: "Lemonade Stand", CurrentLevel: 2, IsManaged: true}},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	c.Advance(600 * time.Second)
	out, err := svc.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !out.OfflineRewards.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("offline rewards got %s want 200", out.OfflineRewards)
	}
	// The reward is advisory; stored capital is untouched.
	if !out.Capital.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("capital got %s want 500", out.Capital)
	}

	// Loading does not move last_save, so the reward keeps growing.
	c.Advance(60 * time.Second)
	out, err = svc.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !out.OfflineRewards.Equal(decimal.NewFromInt(220)) {
		t.Fatalf("offline rewards got %s want 220", out.OfflineRewards)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	svc, _, _, rec := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Load(ctx, "u1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	res, err := svc.Save(ctx, game.SaveInput{
		UserID:  "u1",
		Capital: decimal.RequireFromString("1234.56"),
		Businesses: []game.Progress{
			{BusinessID: 1, CurrentLevel: 5, IsManaged: true},
			{BusinessID: 2, CurrentLevel: 1},
		},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.Rows != 2 {
		t.Fatalf("rows got %d", res.Rows)
	}

	out, err := svc.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !out.OfflineRewards.IsZero() {
		t.Fatalf("no time passed, offline rewards got %s", out.OfflineRewards)
	}
	if !out.Capital.Equal(decimal.RequireFromString("1234.56")) {
		t.Fatalf("capital got %s", out.Capital)
	}
	want := map[int64]game.Progress{1: {CurrentLevel: 5, IsManaged: true}, 2: {CurrentLevel: 1}}
	for _, b := range out.Businesses {
		w := want[b.ID]
		if b.CurrentLevel != w.CurrentLevel || b.IsManaged != w.IsManaged {
			t.Fatalf("business %d got level=%d managed=%v", b.ID, b.CurrentLevel, b.IsManaged)
		}
	}

	got := rec.types()
	if len(got) != 3 || got[1] != game.EventProgressSaved {
		t.Fatalf("events got %v", got)
	}
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	first := game.SaveInput{UserID: "u1", Capital: decimal.NewFromInt(1), Businesses: []game.Progress{{BusinessID: 1, CurrentLevel: 1}, {BusinessID: 2, CurrentLevel: 4}}}
	second := game.SaveInput{UserID: "u1", Capital: decimal.NewFromInt(2), Businesses: []game.Progress{{BusinessID: 1, CurrentLevel: 9, IsManaged: true}}}
	if _, err := svc.Save(ctx, first); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if _, err := svc.Save(ctx, second); err != nil {
		t.Fatalf("second save: %v", err)
	}

	rows, err := store.GetProgress(ctx, "u1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if len(rows) != 1 || rows[0].BusinessID != 1 || rows[0].CurrentLevel != 9 {
		t.Fatalf("progress not replaced: %+v", rows)
	}
	if rows[0].Name != "Lemonade Stand" {
		t.Fatalf("missing name should be filled from catalog, got %q", rows[0].Name)
	}
}

func TestSaveCreatesUserWithClientCapital(t *testing.T) {
	svc, store, c, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Save(ctx, game.SaveInput{UserID: "fresh", Capital: decimal.NewFromInt(42)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	u, err := store.GetUser(ctx, "fresh")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !u.Capital.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("capital got %s want 42", u.Capital)
	}
	if u.LastSave == nil || !u.LastSave.Equal(c.Now()) {
		t.Fatalf("last_save got %v want %v", u.LastSave, c.Now())
	}
}

func TestSaveRejectsInvalidInput(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Save(ctx, game.SaveInput{UserID: "u1", Capital: decimal.NewFromInt(1), Businesses: []game.Progress{{BusinessID: 77, CurrentLevel: 1}}})
	if !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := store.GetUser(ctx, "u1"); !errors.Is(err, game.ErrUserNotFound) {
		t.Fatalf("rejected save must not write, got %v", err)
	}
}

func TestStorageFailuresSurfaceAsUnavailable(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()
	boom := errors.New("connection refused")

	store.FailNext(boom)
	if _, err := svc.Load(ctx, "u1"); !errors.Is(err, game.ErrStorageUnavailable) || !errors.Is(err, boom) {
		t.Fatalf("load: expected storage error wrapping cause, got %v", err)
	}

	store.FailNext(boom)
	if _, err := svc.Save(ctx, game.SaveInput{UserID: "u1"}); !errors.Is(err, game.ErrStorageUnavailable) {
		t.Fatalf("save: expected ErrStorageUnavailable, got %v", err)
	}
}

func TestFailedSaveLeavesPreviousSnapshot(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Save(ctx, game.SaveInput{UserID: "u1", Capital: decimal.NewFromInt(10), Businesses: []game.Progress{{BusinessID: 1, CurrentLevel: 3}}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Make the save fail part-way: ListCatalog and InTx succeed, the
	// replace inside the transaction fails.
	failing := &failInsideTx{Store: store, err: errors.New("disk full")}
	svc2 := game.NewService(failing, nil)
	_, err := svc2.Save(ctx, game.SaveInput{UserID: "u1", Capital: decimal.NewFromInt(99), Businesses: []game.Progress{{BusinessID: 2, CurrentLevel: 8}}})
	if !errors.Is(err, game.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}

	rows, err := store.GetProgress(ctx, "u1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if len(rows) != 1 || rows[0].BusinessID != 1 || rows[0].CurrentLevel != 3 {
		t.Fatalf("failed save must not leave partial state, got %+v", rows)
	}
	u, err := store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !u.Capital.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("capital changed by failed save: %s", u.Capital)
	}
}

type failInsideTx struct {
	*memory.Store
	err error
}

func (f *failInsideTx) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	return f.Store.InTx(ctx, func(tx game.Tx) error {
		return fn(&failingUpsert{Tx: tx, err: f.err})
	})
}

type failingUpsert struct {
	game.Tx
	err error
}

func (f *failingUpsert) UpsertCapital(context.Context, string, decimal.Decimal, time.Time) (bool, error) {
	return false, f.err
}

func TestConcurrentSavesKeepOneSnapshot(t *testing.T) {
	store := memory.New()
	svc := game.NewService(store, nil)
	ctx := context.Background()
	if err := svc.SeedDefaults(ctx, testCatalog); err != nil {
		t.Fatalf("seed: %v", err)
	}

	a := []game.Progress{{BusinessID: 1, CurrentLevel: 1}, {BusinessID: 2, CurrentLevel: 1}}
	b := []game.Progress{{BusinessID: 1, CurrentLevel: 7, IsManaged: true}}

	for round := 0; round < 50; round++ {
		user := fmt.Sprintf("u%d", round)
		var wg sync.WaitGroup
		errs := make(chan error, 2)
		for _, snap := range [][]game.Progress{a, b} {
			wg.Add(1)
			go func(snap []game.Progress) {
				defer wg.Done()
				_, err := svc.Save(ctx, game.SaveInput{UserID: user, Capital: decimal.NewFromInt(int64(len(snap))), Businesses: snap})
				errs <- err
			}(snap)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("save: %v", err)
			}
		}

		rows, err := store.GetProgress(ctx, user)
		if err != nil {
			t.Fatalf("progress: %v", err)
		}
		u, err := store.GetUser(ctx, user)
		if err != nil {
			t.Fatalf("user: %v", err)
		}
		switch {
		case sameProgress(rows, a):
			if !u.Capital.Equal(decimal.NewFromInt(2)) {
				t.Fatalf("round %d: progress from A but capital %s", round, u.Capital)
			}
		case sameProgress(rows, b):
			if !u.Capital.Equal(decimal.NewFromInt(1)) {
				t.Fatalf("round %d: progress from B but capital %s", round, u.Capital)
			}
		default:
			t.Fatalf("round %d: progress is a mix of both snapshots: %+v", round, rows)
		}
	}
}

func sameProgress(got, want []game.Progress) bool {
	if len(got) != len(want) {
		return false
	}
	byID := make(map[int64]game.Progress, len(got))
	for _, p := range got {
		byID[p.BusinessID] = p
	}
	for _, w := range want {
		g, ok := byID[w.BusinessID]
		if !ok || g.CurrentLevel != w.CurrentLevel || g.IsManaged != w.IsManaged {
			return false
		}
	}
	return true
}

func TestLoadUsesOneClockReading(t *testing.T) {
	store := memory.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	calls := 0
	tick := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return base.Add(time.Duration(calls) * time.Minute)
	}
	rec := &recorder{}
	svc := game.NewService(store, nil, game.WithClock(tick), game.WithNotifier(rec))
	ctx := context.Background()
	if err := svc.SeedDefaults(ctx, testCatalog); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Save(ctx, game.SaveInput{UserID: "u1", Capital: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	u, err := store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}

	out, err := svc.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rec.mu.Lock()
	ev := rec.events[len(rec.events)-1]
	rec.mu.Unlock()
	if ev.Type != game.EventPlayerReturned {
		t.Fatalf("last event got %s", ev.Type)
	}
	if got := ev.At.Sub(*u.LastSave).Seconds(); got != out.OfflineSeconds {
		t.Fatalf("event time and offline seconds disagree: event says %vs, load says %vs", got, out.OfflineSeconds)
	}
	if ev.OfflineSeconds != out.OfflineSeconds {
		t.Fatalf("event offline seconds got %v want %v", ev.OfflineSeconds, out.OfflineSeconds)
	}
}

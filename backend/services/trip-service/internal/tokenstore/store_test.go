package tokenstore

import (
	"context"
	"errors"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStoreSetMergesPartialFields(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	store := New(kv, testingclock.NewFakePassiveClock(epoch))

	if err := store.Set(ctx, Fields{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: epoch.Add(time.Hour)}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// a refresh response without refresh_token must keep the old one
	if err := store.Set(ctx, Fields{AccessToken: "a2", ExpiresAt: epoch.Add(2 * time.Hour)}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	tok, ok := store.Get()
	if !ok {
		t.Fatal("expected token to be present")
	}
	if tok.AccessToken != "a2" || tok.RefreshToken != "r1" {
		t.Fatalf("unexpected token after merge: %+v", tok)
	}
	if !tok.ExpiresAt.Equal(epoch.Add(2 * time.Hour)) {
		t.Fatalf("unexpected expiry %s", tok.ExpiresAt)
	}
}

func TestStoreIsValidFollowsClock(t *testing.T) {
	ctx := context.Background()
	clk := testingclock.NewFakeClock(epoch)
	store := New(NewMemoryKV(), clk)

	if store.IsValid() {
		t.Fatal("empty store must not be valid")
	}
	if err := store.Set(ctx, Fields{AccessToken: "a", ExpiresAt: epoch.Add(time.Minute)}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !store.IsValid() {
		t.Fatal("expected token to be valid before expiry")
	}

	clk.Step(time.Minute)
	if store.IsValid() {
		t.Fatal("token must be invalid at its expiry instant")
	}
}

func TestStoreRefreshOnlyTokenIsNotValid(t *testing.T) {
	ctx := context.Background()
	store := New(NewMemoryKV(), testingclock.NewFakePassiveClock(epoch))
	if err := store.Set(ctx, Fields{RefreshToken: "r"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if store.IsValid() {
		t.Fatal("refresh token alone is not a valid session")
	}
	if _, ok := store.Get(); !ok {
		t.Fatal("refresh token alone still counts as a held credential")
	}
}

func TestStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	clk := testingclock.NewFakePassiveClock(epoch)

	first := New(kv, clk)
	if err := first.Set(ctx, Fields{AccessToken: "a", RefreshToken: "r", ExpiresAt: epoch.Add(time.Hour)}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	second := New(kv, clk)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	tok, _ := second.Get()
	if tok.AccessToken != "a" || tok.RefreshToken != "r" || !tok.ExpiresAt.Equal(epoch.Add(time.Hour)) {
		t.Fatalf("token not restored: %+v", tok)
	}
	if !second.IsValid() {
		t.Fatal("restored token should be valid")
	}
}

func TestStoreClearWipesStorage(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	store := New(kv, testingclock.NewFakePassiveClock(epoch))
	if err := store.Set(ctx, Fields{AccessToken: "a", RefreshToken: "r", ExpiresAt: epoch.Add(time.Hour)}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := store.Get(); ok {
		t.Fatal("expected no token after clear")
	}
	if kv.Len() != 0 {
		t.Fatalf("expected storage to be empty, %d keys left", kv.Len())
	}
}

type failingKV struct {
	*MemoryKV
	failOn string
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	if key == f.failOn {
		return errors.New("disk full")
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func TestStoreSetFailureKeepsPreviousToken(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{MemoryKV: NewMemoryKV()}
	store := New(kv, testingclock.NewFakePassiveClock(epoch))
	if err := store.Set(ctx, Fields{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	kv.failOn = DefaultPrefix + keyRefreshToken
	if err := store.Set(ctx, Fields{AccessToken: "b", RefreshToken: "r2"}); err == nil {
		t.Fatal("expected persistence error")
	}
	tok, _ := store.Get()
	if tok.AccessToken != "a" || tok.RefreshToken != "r" {
		t.Fatalf("in-memory token changed on failed write: %+v", tok)
	}
}

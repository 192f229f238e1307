package limiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingStore struct{ err error }

func (f failingStore) Consume(context.Context, string, int, time.Duration) (Decision, error) {
	return Decision{}, f.err
}

func TestNewTier_Validation(t *testing.T) {
	store := NewMemoryStore()

	cases := []struct {
		name   string
		tier   string
		limit  int
		window time.Duration
		store  Store
	}{
		{"missing name", "", 1, time.Second, store},
		{"missing store", TierGlobal, 1, time.Second, nil},
		{"zero limit", TierGlobal, 0, time.Second, store},
		{"negative window", TierGlobal, 1, -time.Second, store},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewTier(tc.tier, tc.limit, tc.window, tc.store); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestTier_SharedStoreKeepsTiersApart(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	identity, err := NewTier(TierIdentity, 1, time.Hour, store)
	if err != nil {
		t.Fatalf("failed to create identity tier: %v", err)
	}
	global, err := NewTier(TierGlobal, 1, time.Hour, store)
	if err != nil {
		t.Fatalf("failed to create global tier: %v", err)
	}

	// same caller key on two tiers must hit two buckets
	if dec, _ := identity.Consume(ctx, GlobalKey); !dec.Allowed {
		t.Fatalf("expected identity tier to allow")
	}
	if dec, _ := global.Consume(ctx, GlobalKey); !dec.Allowed {
		t.Fatalf("expected global tier to allow independently")
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 buckets, got %d", store.Len())
	}
}

func TestTier_ExposesConfiguration(t *testing.T) {
	tier, err := NewTier(TierIdentity, 10, 24*time.Hour, NewMemoryStore())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tier.Name() != TierIdentity || tier.Limit() != 10 || tier.Window() != 24*time.Hour {
		t.Fatalf("unexpected tier configuration: %s %d %s", tier.Name(), tier.Limit(), tier.Window())
	}
}

func TestTier_WrapsStoreErrors(t *testing.T) {
	boom := errors.New("connection refused")
	tier, err := NewTier(TierGlobal, 5, time.Second, failingStore{err: boom})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = tier.Consume(context.Background(), GlobalKey)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

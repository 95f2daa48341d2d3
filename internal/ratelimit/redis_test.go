package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	limiter, err := NewLimiter("redis://"+s.Addr(), limit, window)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	return limiter, s
}

func TestNewLimiter(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	limiter, err := NewLimiter("redis://"+s.Addr(), 5, time.Minute)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	defer limiter.Close()

	if err := limiter.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestAllowWithinLimit(t *testing.T) {
	limiter, s := setupTestLimiter(t, 3, time.Minute)
	defer limiter.Close()
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "alice@127.0.0.1")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !allowed {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "alice@127.0.0.1")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if allowed {
		t.Fatal("attempt over the limit should be denied")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	limiter, s := setupTestLimiter(t, 1, time.Minute)
	defer limiter.Close()
	defer s.Close()

	ctx := context.Background()
	if allowed, _ := limiter.Allow(ctx, "alice@127.0.0.1"); !allowed {
		t.Fatal("first attempt for alice should be allowed")
	}
	if allowed, _ := limiter.Allow(ctx, "alice@127.0.0.1"); allowed {
		t.Fatal("second attempt for alice should be denied")
	}
	if allowed, _ := limiter.Allow(ctx, "bob@127.0.0.1"); !allowed {
		t.Fatal("bob should not be affected by alice's attempts")
	}
}

func TestResetClearsCounter(t *testing.T) {
	limiter, s := setupTestLimiter(t, 1, time.Minute)
	defer limiter.Close()
	defer s.Close()

	ctx := context.Background()
	if allowed, _ := limiter.Allow(ctx, "alice@127.0.0.1"); !allowed {
		t.Fatal("first attempt should be allowed")
	}
	if err := limiter.Reset(ctx, "alice@127.0.0.1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if allowed, _ := limiter.Allow(ctx, "alice@127.0.0.1"); !allowed {
		t.Fatal("attempt after reset should be allowed")
	}
}

func TestWindowExpires(t *testing.T) {
	limiter, s := setupTestLimiter(t, 1, time.Minute)
	defer limiter.Close()
	defer s.Close()

	ctx := context.Background()
	if allowed, _ := limiter.Allow(ctx, "alice@127.0.0.1"); !allowed {
		t.Fatal("first attempt should be allowed")
	}
	if allowed, _ := limiter.Allow(ctx, "alice@127.0.0.1"); allowed {
		t.Fatal("second attempt should be denied")
	}

	s.FastForward(2 * time.Minute)

	if allowed, _ := limiter.Allow(ctx, "alice@127.0.0.1"); !allowed {
		t.Fatal("attempt after the window should be allowed")
	}
}

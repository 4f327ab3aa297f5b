package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, "scan", 2, 1, time.Minute)

	allowed, _, err := bucket.Allow(ctx, "tok-1")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, "tok-1")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, "tok-1")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

	// A different key has its own bucket.
	allowed, _, _ = bucket.Allow(ctx, "tok-2")
	if !allowed {
		t.Fatalf("expected fresh key to be allowed")
	}

	// Note: refill cannot be tested with miniredis.FastForward() because the
	// Lua script receives time from Go's time.Now(), not Redis's clock.
}

func TestTokenBucketPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	scans := NewTokenBucket(client, "scan", 1, 1, time.Minute)
	jobs := NewTokenBucket(client, "jobs", 1, 1, time.Minute)

	if allowed, _, _ := scans.Allow(ctx, "k"); !allowed {
		t.Fatalf("expected scan bucket to allow")
	}
	if allowed, _, _ := jobs.Allow(ctx, "k"); !allowed {
		t.Fatalf("expected jobs bucket to allow same key under a different prefix")
	}
	if allowed, _, _ := scans.Allow(ctx, "k"); allowed {
		t.Fatalf("expected scan bucket to be drained")
	}
}

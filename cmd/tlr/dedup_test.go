package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"tlr.org/internal/config"
	"tlr.org/internal/jobs"
)

func TestDeduperUsesRedisWhenReachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	ctx := context.Background()
	cfg := config.RedisConfig{Addr: mr.Addr()}

	first, closeFirst := deduper(ctx, cfg, time.Hour)
	defer closeFirst()
	if _, ok := first.(*jobs.RedisDeduper); !ok {
		t.Fatalf("expected redis deduper, got %T", first)
	}
	if ok, err := first.Claim(ctx, "stale-6-to-12:svc-1"); err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}

	// A later run, inline or queued, sees the earlier claim.
	second, closeSecond := deduper(ctx, cfg, time.Hour)
	defer closeSecond()
	if ok, err := second.Claim(ctx, "stale-6-to-12:svc-1"); err != nil || ok {
		t.Fatalf("claim should be shared across runs: ok=%v err=%v", ok, err)
	}
}

func TestDeduperFallsBackToMemory(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	for _, cfg := range []config.RedisConfig{{}, {Addr: addr}} {
		d, closeFn := deduper(context.Background(), cfg, time.Hour)
		closeFn()
		if _, ok := d.(*jobs.MemoryDeduper); !ok {
			t.Fatalf("addr %q: expected memory deduper, got %T", cfg.Addr, d)
		}
	}
}

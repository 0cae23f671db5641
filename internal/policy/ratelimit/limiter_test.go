package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	// 10 requests per second = 100ms interval
	l := New(Config{
		HostQPS:   10,
		HostBurst: 1,
	})

	ctx := context.Background()

	// Consume initial token
	if err := l.Wait(ctx, "https://test.com"); err != nil {
		t.Fatal(err)
	}

	// Next one should wait ~100ms
	start := time.Now()
	if err := l.Wait(ctx, "https://test.com/other"); err != nil {
		t.Fatal(err)
	}
	dur := time.Since(start)
	if dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentHosts(t *testing.T) {
	l := New(Config{
		HostQPS:   1, // 1 QPS = 1s interval
		HostBurst: 1,
	})

	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.com/1"); err != nil {
		t.Fatal(err)
	}

	// Host B should not be blocked by A
	start := time.Now()
	if err := l.Wait(ctx, "https://b.com/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("host B blocked unexpectedly")
	}
}

func TestLimiter_DisabledNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	if l.Enabled() {
		t.Fatal("expected zero qps to disable the limiter")
	}
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background(), "https://a.com"); err != nil {
			t.Fatal(err)
		}
	}

	var nilLimiter *Limiter
	if err := nilLimiter.Wait(context.Background(), "https://a.com"); err != nil {
		t.Fatalf("nil limiter should allow: %v", err)
	}
}

func TestLimiter_ContextCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{HostQPS: 0.01, HostBurst: 1})
	if err := l.Wait(context.Background(), "https://slow.test"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "https://slow.test"); err == nil {
		t.Fatal("expected wait to fail once the context expires")
	}
}

func TestLimiter_EvictsIdleHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{HostQPS: 1000, HostBurst: 1, MaxHosts: 8})
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background(), fmt.Sprintf("https://host%d.test/", i)); err != nil {
			t.Fatal(err)
		}
		// Let earlier buckets refill so they count as idle.
		time.Sleep(2 * time.Millisecond)
	}
	if n := trackedHosts(l); n > 8 {
		t.Fatalf("expected at most 8 tracked hosts, got %d", n)
	}
}

func TestLimiter_KeepsBusyHostsPastCap(t *testing.T) {
	t.Parallel()

	l := New(Config{HostQPS: 0.001, HostBurst: 1, MaxHosts: 2})
	for _, host := range []string{"https://a.test", "https://b.test", "https://c.test"} {
		if err := l.Wait(context.Background(), host); err != nil {
			t.Fatal(err)
		}
	}
	if n := trackedHosts(l); n != 3 {
		t.Fatalf("expected refilling buckets to be kept, got %d", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "https://a.test"); err == nil {
		t.Fatal("expected a.test to still be paced")
	}
}

func trackedHosts(l *Limiter) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunMemoryStores(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, options{users: 3, perUser: 2, concurrency: 4, ops: 50, prefix: "t"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{"seeded 6 sessions", "verify: ops=50 failures=0", "rate-limit: ops=50 failures=0"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output:\n%s", want, got)
		}
	}
}

func TestRunMiniredis(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, options{users: 2, perUser: 1, concurrency: 2, ops: 20, redisAddr: "mini", prefix: "t"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "verify: ops=20 failures=0") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestRunRejectsBadOptions(t *testing.T) {
	if err := run(context.Background(), &bytes.Buffer{}, options{}); err == nil {
		t.Fatal("expected error for zero options")
	}
}

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(samples, 50); got != 5 {
		t.Fatalf("p50 = %v", got)
	}
	if got := percentile(samples, 100); got != 10 {
		t.Fatalf("p100 = %v", got)
	}
	if got := percentile(nil, 95); got != 0 {
		t.Fatalf("empty p95 = %v", got)
	}
}

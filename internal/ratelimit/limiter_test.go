package ratelimit

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestLocalAllowsBurstThenBlocks(t *testing.T) {
	l := NewLocal(rate.Every(time.Hour), 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "alice")
		if err != nil || !ok {
			t.Fatalf("attempt %d: ok=%v err=%v, want ok=true", i, ok, err)
		}
	}
	ok, err := l.Allow(ctx, "alice")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("third attempt should be throttled")
	}
}

func TestLocalIsolatesPrincipals(t *testing.T) {
	l := NewLocal(rate.Every(time.Hour), 1)
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "alice"); !ok {
		t.Fatal("alice's first attempt should be allowed")
	}
	if ok, _ := l.Allow(ctx, "bob"); !ok {
		t.Fatal("bob's first attempt should be unaffected by alice's budget")
	}
}

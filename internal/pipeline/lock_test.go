package pipeline

import (
	"context"
	"testing"
	"time"
)

func TestKeyedLockIndependentKeys(t *testing.T) {
	l := newKeyedLock()
	ctx := context.Background()

	relA, err := l.acquire(ctx, "Zakarpattia")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	relB, err := l.acquire(ctx, "Other")
	if err != nil {
		t.Fatalf("other key must not wait: %v", err)
	}
	relB()

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := l.acquire(short, "zakarpattia "); err == nil {
		t.Fatalf("same key (normalized) must wait")
	}

	relA()
	relA()
	rel, err := l.acquire(ctx, "Zakarpattia")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	rel()
}

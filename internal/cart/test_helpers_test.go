package cart

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func mustPlatform(t *testing.T, value string) Platform {
	t.Helper()
	platform, err := NewPlatform(value)
	if err != nil {
		t.Fatalf("unexpected platform error: %v", err)
	}
	return platform
}

func mustCartType(t *testing.T, value string) CartType {
	t.Helper()
	cartType, err := ParseCartType(value)
	if err != nil {
		t.Fatalf("unexpected cart type error: %v", err)
	}
	return cartType
}

// seqIDGenerator issues zero-padded sequential ids so lexical order matches
// issue order, mirroring the UUIDv7 provider's time ordering.
type seqIDGenerator struct {
	mu   sync.Mutex
	next int
}

func (g *seqIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%04d", g.next), nil
}

// steppingClock returns a strictly increasing instant on every call.
type steppingClock struct {
	mu    sync.Mutex
	base  time.Time
	steps int
}

func newSteppingClock(base time.Time) *steppingClock {
	return &steppingClock{base: base}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps++
	return c.base.Add(time.Duration(c.steps) * time.Second)
}

package cache

import (
	"errors"
	"testing"
	"time"
)

func TestShardedTTL(t *testing.T) {
	now := time.Unix(0, 0)
	c := New[int](time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get=%v,%v, expected 1,true", v, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected entry to expire")
	}
	if n := c.Cleanup(); n != 1 || c.Len() != 0 {
		t.Fatalf("removed=%d len=%d", n, c.Len())
	}
}

func TestGetOrLoad(t *testing.T) {
	c := New[string](0)
	calls := 0
	load := func() (string, error) {
		calls++
		return "v", nil
	}
	for range 3 {
		if v, err := c.GetOrLoad("k", load); err != nil || v != "v" {
			t.Fatalf("GetOrLoad=%q,%v", v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("calls=%d, expected 1", calls)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrLoad("x", func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if _, ok := c.Get("x"); ok {
		t.Fatalf("errors must not be cached")
	}
	c.Delete("k")
	if c.Len() != 0 {
		t.Fatalf("len=%d after delete", c.Len())
	}
}

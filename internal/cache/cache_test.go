// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCacheBasicOperations(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Set("k1", "v1", time.Minute)
	value, exists := c.Get("k1")
	if !exists {
		t.Error("expected k1 to exist")
	}
	if value != "v1" {
		t.Errorf("expected v1, got %v", value)
	}

	if _, exists = c.Get("k2"); exists {
		t.Error("expected k2 to not exist")
	}
}

func TestCacheExpiration(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Set("k1", "v1", 50*time.Millisecond)

	if _, exists := c.Get("k1"); !exists {
		t.Error("expected k1 to exist immediately after set")
	}

	time.Sleep(80 * time.Millisecond)

	if _, exists := c.Get("k1"); exists {
		t.Error("expected k1 to be expired")
	}
}

func TestCacheDelete(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Set("k1", "v1", time.Minute)
	c.Delete("k1")

	if _, exists := c.Get("k1"); exists {
		t.Error("expected k1 to be deleted")
	}

	// Deleting a missing key is a no-op
	c.Delete("nope")
}

func TestKeyComposition(t *testing.T) {
	summary := Key("course-1", "summary")
	detail := Key("course-1", "detail")
	if summary == detail {
		t.Error("expected distinct keys per view kind")
	}

	sigA := Key("course-1", "detail", SignatureOf(map[string]int{"days": 30}))
	sigB := Key("course-1", "detail", SignatureOf(map[string]int{"days": 7}))
	if sigA == sigB {
		t.Error("expected distinct keys per query signature")
	}

	// Same params produce the same signature
	if SignatureOf(map[string]int{"days": 30}) != SignatureOf(map[string]int{"days": 30}) {
		t.Error("expected deterministic signatures")
	}
}

func TestInvalidateSubject(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Set(Key("course-1", "summary"), "s1", time.Minute)
	c.Set(Key("course-1", "detail"), "d1", time.Minute)
	c.Set(Key("course-1", "detail", "sig123"), "d1p", time.Minute)
	c.Set(Key("course-2", "summary"), "s2", time.Minute)

	c.InvalidateSubject("course-1")

	for _, key := range []string{
		Key("course-1", "summary"),
		Key("course-1", "detail"),
		Key("course-1", "detail", "sig123"),
	} {
		if _, exists := c.Get(key); exists {
			t.Errorf("expected %q to be invalidated", key)
		}
	}

	// Other subjects are untouched
	if _, exists := c.Get(Key("course-2", "summary")); !exists {
		t.Error("expected course-2 entry to survive")
	}
}

func TestInvalidateSubjectNoPrefixCollision(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	// "course-1" must not invalidate "course-10"
	c.Set(Key("course-1", "summary"), "a", time.Minute)
	c.Set(Key("course-10", "summary"), "b", time.Minute)

	c.InvalidateSubject("course-1")

	if _, exists := c.Get(Key("course-10", "summary")); !exists {
		t.Error("course-10 wrongly invalidated by course-1 prefix")
	}
}

func TestCacheClear(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, time.Minute)
	}
	c.Clear()

	for i := 0; i < 5; i++ {
		if _, exists := c.Get(fmt.Sprintf("k%d", i)); exists {
			t.Errorf("expected k%d to be cleared", i)
		}
	}
}

func TestCacheStats(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Set("k1", "v1", time.Minute)
	c.Get("k1") // hit
	c.Get("k2") // miss
	c.Get("k1") // hit

	stats := c.GetStats()
	if stats.Hits != 2 {
		t.Errorf("expected 2 hits, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}

	rate := c.HitRate()
	expected := 2.0 / 3.0 * 100.0
	if rate < expected-0.01 || rate > expected+0.01 {
		t.Errorf("expected hit rate %.2f, got %.2f", expected, rate)
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			subject := fmt.Sprintf("course-%d", n%4)
			for j := 0; j < 100; j++ {
				c.Set(Key(subject, "summary"), j, time.Minute)
				c.Get(Key(subject, "summary"))
				c.InvalidateSubject(subject)
			}
		}(i)
	}
	wg.Wait()
}

package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestAllow_WindowExhaustion(t *testing.T) {
	base := time.Unix(1700000000, 0)
	now := base
	l := New(3, time.Minute, WithClock(func() time.Time { return now }))

	got := []bool{}
	for i := 0; i < 4; i++ {
		got = append(got, l.Allow("t1", "entity.update").Allowed)
	}

	want := []bool{true, true, true, false}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d: allowed = %v, want %v", i+1, got[i], want[i])
		}
	}

	// A different tenant is unaffected.
	if !l.Allow("t2", "entity.update").Allowed {
		t.Error("different tenant should not share the window")
	}
	// A different request class is unaffected too.
	if !l.Allow("t1", "entity.create").Allowed {
		t.Error("different class should not share the window")
	}
}

func TestAllow_WindowSlides(t *testing.T) {
	base := time.Unix(1700000000, 0)
	now := base
	l := New(2, time.Minute, WithClock(func() time.Time { return now }))

	l.Allow("t1", "c")
	now = now.Add(30 * time.Second)
	l.Allow("t1", "c")

	d := l.Allow("t1", "c")
	if d.Allowed {
		t.Fatal("third call within window should be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want (0, 1m]", d.RetryAfter)
	}

	// After the oldest entry falls out of the window, admission resumes.
	now = base.Add(61 * time.Second)
	if !l.Allow("t1", "c").Allowed {
		t.Error("call after window expiry should be allowed")
	}
}

func TestPeekAndReset(t *testing.T) {
	l := New(5, time.Minute)
	l.Allow("t1", "c")
	l.Allow("t1", "c")

	if got := l.Peek("t1", "c"); got != 2 {
		t.Errorf("Peek = %d, want 2", got)
	}

	l.Reset()
	if got := l.Peek("t1", "c"); got != 0 {
		t.Errorf("Peek after Reset = %d, want 0", got)
	}
}

func TestAllow_Concurrent(t *testing.T) {
	l := New(100, time.Minute)

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("t1", "c").Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	if count != 100 {
		t.Errorf("allowed %d of 200 concurrent calls, want exactly 100", count)
	}
}

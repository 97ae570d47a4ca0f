package keypool

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fairyhunter13/knowme-ai/internal/domain"
)

func newTestPool(t *testing.T, secrets ...string) (*Pool, *time.Time) {
	t.Helper()
	p, err := New(secrets, 60*time.Second)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	return p, &now
}

func Test_New_EmptyPoolRefused(t *testing.T) {
	if _, err := New(nil, time.Minute); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func Test_Acquire_RoundRobin(t *testing.T) {
	p, _ := newTestPool(t, "s1", "s2", "s3")
	var order []string
	for i := 0; i < 6; i++ {
		c, err := p.Acquire()
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		order = append(order, c.ID)
	}
	want := []string{"key-1", "key-2", "key-3", "key-1", "key-2", "key-3"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("round-robin order %v, want %v", order, want)
		}
	}
}

func Test_Acquire_AllRateLimited_PoolExhausted(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		secrets := make([]string, n)
		for i := range secrets {
			secrets[i] = "s"
		}
		p, _ := newTestPool(t, secrets...)
		for i := 0; i < n; i++ {
			c, err := p.Acquire()
			if err != nil {
				t.Fatalf("n=%d acquire %d: %v", n, i, err)
			}
			p.ReportRateLimited(c, 60*time.Second)
		}
		if _, err := p.Acquire(); !errors.Is(err, domain.ErrPoolExhausted) {
			t.Fatalf("n=%d expected ErrPoolExhausted, got %v", n, err)
		}
	}
}

func Test_CoolDown_LazyRecovery(t *testing.T) {
	p, now := newTestPool(t, "s1")
	c, _ := p.Acquire()
	p.ReportRateLimited(c, 30*time.Second)
	if _, err := p.Acquire(); !errors.Is(err, domain.ErrPoolExhausted) {
		t.Fatalf("expected exhausted during cool-down, got %v", err)
	}
	*now = now.Add(31 * time.Second)
	got, err := p.Acquire()
	if err != nil {
		t.Fatalf("expected recovery after expiry, got %v", err)
	}
	if got != c {
		t.Fatalf("expected the cooled credential back")
	}
}

func Test_Scenario_TwoKeys(t *testing.T) {
	p, now := newTestPool(t, "s1", "s2")
	// K1 rate-limited with retry_after=60s at t=0.
	k1, _ := p.Acquire()
	p.ReportRateLimited(k1, 60*time.Second)
	// t=1s: acquire returns K2.
	*now = now.Add(1 * time.Second)
	k2, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire at t=1s: %v", err)
	}
	if k2.ID != "key-2" {
		t.Fatalf("expected key-2, got %s", k2.ID)
	}
	// K2 also rate-limited; nothing left at t=1s.
	p.ReportRateLimited(k2, 60*time.Second)
	if _, err := p.Acquire(); !errors.Is(err, domain.ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted at t=1s, got %v", err)
	}
	// t=61s: K1's cool-down elapsed.
	*now = now.Add(60 * time.Second)
	got, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire at t=61s: %v", err)
	}
	if got.ID != "key-1" {
		t.Fatalf("expected key-1 at t=61s, got %s", got.ID)
	}
}

func Test_ReportFatal_NeverRetried(t *testing.T) {
	p, now := newTestPool(t, "s1", "s2")
	c1, _ := p.Acquire()
	p.ReportFatal(c1)
	for i := 0; i < 4; i++ {
		c, err := p.Acquire()
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if c == c1 {
			t.Fatalf("exhausted credential handed out again")
		}
	}
	// Not even far in the future.
	*now = now.Add(24 * time.Hour)
	c, err := p.Acquire()
	if err != nil || c == c1 {
		t.Fatalf("exhausted credential must stay out of rotation (c=%v err=%v)", c, err)
	}
}

func Test_ReportSuccess_ClearsCoolDown(t *testing.T) {
	p, _ := newTestPool(t, "s1")
	c, _ := p.Acquire()
	p.ReportRateLimited(c, time.Hour)
	p.ReportSuccess(c)
	if _, err := p.Acquire(); err != nil {
		t.Fatalf("expected available after success report, got %v", err)
	}
}

func Test_ReportRateLimited_DefaultCooldown(t *testing.T) {
	p, now := newTestPool(t, "s1")
	c, _ := p.Acquire()
	p.ReportRateLimited(c, 0) // no upstream hint
	*now = now.Add(59 * time.Second)
	if _, err := p.Acquire(); !errors.Is(err, domain.ErrPoolExhausted) {
		t.Fatalf("expected still cooling with default 60s, got %v", err)
	}
	*now = now.Add(2 * time.Second)
	if _, err := p.Acquire(); err != nil {
		t.Fatalf("expected recovery after default cool-down, got %v", err)
	}
}

func Test_Concurrent_AcquireReport(t *testing.T) {
	p, err := New([]string{"a", "b", "c"}, time.Minute)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c, err := p.Acquire()
				if err != nil {
					continue
				}
				if i%5 == 0 {
					p.ReportRateLimited(c, time.Millisecond)
				} else {
					p.ReportSuccess(c)
				}
			}
		}(i)
	}
	wg.Wait()
}

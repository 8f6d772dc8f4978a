package admission

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUnderCap(t *testing.T) {
	r := NewRateLimiter(5, 0)
	for i := 0; i < 5; i++ {
		res := r.Check("subject-a", nil)
		if !res.Allowed {
			t.Fatalf("expected request %d to be allowed, got %+v", i, res)
		}
	}
}

func TestRateLimiterDeniesOverCap(t *testing.T) {
	r := NewRateLimiter(3, 0)
	for i := 0; i < 3; i++ {
		r.Check("subject-b", nil)
	}
	res := r.Check("subject-b", nil)
	if res.Allowed {
		t.Fatalf("expected 4th request to be denied, got %+v", res)
	}
	if res.RetryAfterSecs < 1 {
		t.Fatalf("expected retry_after_secs >= 1, got %d", res.RetryAfterSecs)
	}
}

func TestRateLimiterPerSubjectOverrideWins(t *testing.T) {
	r := NewRateLimiter(2, 0)
	override := 10
	for i := 0; i < 5; i++ {
		res := r.Check("subject-c", &override)
		if !res.Allowed {
			t.Fatalf("expected override to permit request %d, got %+v", i, res)
		}
	}
}

func TestRateLimiterSlidesWindow(t *testing.T) {
	r := NewRateLimiter(2, 0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	r.Check("subject-d", nil)
	r.Check("subject-d", nil)
	res := r.Check("subject-d", nil)
	if res.Allowed {
		t.Fatal("expected third request within the window to be denied")
	}

	r.now = func() time.Time { return base.Add(61 * time.Second) }
	res = r.Check("subject-d", nil)
	if !res.Allowed {
		t.Fatalf("expected request after the window elapsed to be allowed, got %+v", res)
	}
}

func TestRateLimiterIsolatesSubjects(t *testing.T) {
	r := NewRateLimiter(1, 0)
	if res := r.Check("a", nil); !res.Allowed {
		t.Fatalf("expected subject a to be allowed, got %+v", res)
	}
	if res := r.Check("b", nil); !res.Allowed {
		t.Fatalf("expected subject b to be allowed independently, got %+v", res)
	}
}

func TestRateLimiterGlobalBurstGatesAllSubjects(t *testing.T) {
	r := NewRateLimiter(100, 1)
	if res := r.Check("x", nil); !res.Allowed {
		t.Fatalf("expected first request to pass global burst, got %+v", res)
	}
	if res := r.Check("y", nil); res.Allowed {
		t.Fatal("expected second request from a different subject to be denied by the shared global burst gate")
	}
}

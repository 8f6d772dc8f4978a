package risk

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := OpenBehaviorStore(filepath.Join(t.TempDir(), "behavior.db"))
	if err != nil {
		t.Fatalf("open behavior store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	e := NewEngine(store)
	e.Now = time.Now
	return e
}

func strp(s string) *string { return &s }

// S4 from §8: low-risk read.
func TestScoreReadFileIsLow(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.Score("ReadFile", nil, "subject-1")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if s.Score > 20 || s.Level != LevelLow {
		t.Fatalf("expected low score, got %+v", s)
	}
	if e.Evaluate(s) != VerdictAllow {
		t.Fatalf("expected allow, got %v", e.Evaluate(s))
	}
}

// S4 from §8: bare delete flags.
func TestScoreDeleteFileIsHigh(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.Score("DeleteFile", nil, "subject-2")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if s.Score < 60 || s.Level != LevelHigh {
		t.Fatalf("expected high score, got %+v", s)
	}
	if e.Evaluate(s) != VerdictFlag {
		t.Fatalf("expected flag, got %v", e.Evaluate(s))
	}
}

// S4 from §8: delete + rm -rf argument denies with a lowered deny threshold.
func TestScoreDeleteWithRmRfDeniesAtLowerThreshold(t *testing.T) {
	e := newTestEngine(t)
	e.Thresholds.Deny = 70
	args := `{"cmd":"rm -rf /"}`
	s, err := e.Score("DeleteFile", &args, "subject-3")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if e.Evaluate(s) != VerdictDeny {
		t.Fatalf("expected deny, got %v (%+v)", e.Evaluate(s), s)
	}
}

// Property 7 (§8): risk monotonicity under repetition.
func TestScoreMonotonicityAndRevocation(t *testing.T) {
	e := newTestEngine(t)
	subject := "repeat-offender"

	var scores []int
	for i := 0; i < 3; i++ {
		s, err := e.Score("DeleteFile", nil, subject)
		if err != nil {
			t.Fatalf("score iteration %d: %v", i, err)
		}
		scores = append(scores, s.Score)
		if i == 2 && s.BehaviorBoost == 0 {
			t.Fatalf("expected non-zero behavior boost on third high-risk call, got %+v", s)
		}
	}
	if !(scores[2] >= scores[1] && scores[1] >= scores[0]) {
		t.Fatalf("expected non-decreasing scores, got %v", scores)
	}

	for i := 0; i < 10; i++ {
		if _, err := e.Score("DeleteFile", nil, subject); err != nil {
			t.Fatalf("score: %v", err)
		}
	}
	revoke, err := e.ShouldRevoke(subject)
	if err != nil {
		t.Fatalf("should revoke: %v", err)
	}
	if !revoke {
		t.Fatal("expected should-revoke to be true after repeated high-risk calls")
	}
}

func TestCustomPatternsTakePrecedence(t *testing.T) {
	e := newTestEngine(t)
	e.CustomBasePatterns = []BasePattern{{Pattern: "ReadFile", Base: 99}}
	s, err := e.Score("ReadFile", nil, "subject-4")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if s.Base != 99 {
		t.Fatalf("expected custom pattern to win, got base=%d", s.Base)
	}
}

func TestArgBoostStacksAdditively(t *testing.T) {
	e := newTestEngine(t)
	args := `{"note":"please drop the secret password token"}`
	s, err := e.Score("Search", &args, "subject-5")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	// drop(25) + secret(15) + password(15) + token(10) = 65
	if s.ArgBoost != 65 {
		t.Fatalf("expected stacked arg boost of 65, got %d (%v)", s.ArgBoost, s.Reasons)
	}
}

func TestUnmatchedToolNameUsesDefaultBase(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.Score("FrobnicateWidget", nil, "subject-6")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if s.Base != defaultBaseScore {
		t.Fatalf("expected default base score, got %d", s.Base)
	}
}

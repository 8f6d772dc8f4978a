// Package risk implements the heuristic risk scoring engine: a base score
// from the tool-name shape, an argument-keyword boost, and a behavior-based
// escalation tracked per subject over a sliding window.
package risk

import (
	"fmt"
	"time"

	"toolwarden/policy"
)

// Level buckets a numeric score for display and for threshold comparisons.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Verdict is the outcome of comparing a score against the configured
// thresholds.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictFlag  Verdict = "flag"
	VerdictDeny  Verdict = "deny"
)

// Score is the full result of scoring one tool call, per §4.4.
type Score struct {
	Score         int
	Base          int
	ArgBoost      int
	BehaviorBoost int
	Level         Level
	Reasons       []string
}

// Thresholds holds the configurable score boundaries from §4.4: deny (≥ this
// is critical and denied), flag (≥ this is high and flagged), and the
// revoke-after behavior-event count.
type Thresholds struct {
	Deny        int
	Flag        int
	RevokeAfter int
}

// DefaultThresholds matches the spec's stated defaults: deny at 85, flag at
// 60, revoke after 5 high-risk events in the window.
var DefaultThresholds = Thresholds{Deny: 85, Flag: 60, RevokeAfter: 5}

// DefaultWindow is the sliding-window duration used for behavior counting.
const DefaultWindow = 5 * time.Minute

// Engine computes risk scores and tracks per-subject behavior history.
type Engine struct {
	CustomBasePatterns []BasePattern
	KeywordBoosts      []KeywordBoost
	Thresholds         Thresholds
	Window             time.Duration
	Behavior           *BehaviorStore
	Now                func() time.Time
}

// NewEngine constructs an Engine with the built-in pattern/keyword tables
// and default thresholds, backed by store for behavior tracking.
func NewEngine(store *BehaviorStore) *Engine {
	return &Engine{
		KeywordBoosts: DefaultKeywordBoosts,
		Thresholds:    DefaultThresholds,
		Window:        DefaultWindow,
		Behavior:      store,
		Now:           time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Score computes the RiskScore for a tool call per §4.4: base from the
// pattern table (custom patterns first, then the built-ins, then the
// 20-point default), plus an argument keyword boost, plus a behavior boost
// from the subject's recent history. If the final score reaches the flag
// threshold, a behavior event is recorded for subjectID as a side effect.
func (e *Engine) Score(toolName string, argumentsJSON *string, subjectID string) (Score, error) {
	base, baseReason := e.baseScore(toolName)
	argBoost, argReasons := e.argBoost(argumentsJSON)

	behaviorBoost := 0
	var behaviorReason string
	if e.Behavior != nil {
		cutoff := e.now().Add(-e.Window).UnixMilli()
		count, err := e.Behavior.Count(subjectID, cutoff)
		if err != nil {
			return Score{}, fmt.Errorf("risk: count behavior events: %w", err)
		}
		behaviorBoost = count * 5
		if count > 0 {
			behaviorReason = fmt.Sprintf("%d high-risk event(s) in the last %s", count, e.Window)
		}
	}

	total := clamp(base+argBoost+behaviorBoost, 0, 100)
	level := levelFor(total, e.Thresholds)

	reasons := make([]string, 0, 2+len(argReasons))
	reasons = append(reasons, baseReason)
	reasons = append(reasons, argReasons...)
	if behaviorReason != "" {
		reasons = append(reasons, behaviorReason)
	}

	result := Score{
		Score:         total,
		Base:          base,
		ArgBoost:      argBoost,
		BehaviorBoost: behaviorBoost,
		Level:         level,
		Reasons:       reasons,
	}

	if total >= e.Thresholds.Flag && e.Behavior != nil {
		if err := e.Behavior.Record(subjectID, e.now().UnixMilli()); err != nil {
			return Score{}, fmt.Errorf("risk: record behavior event: %w", err)
		}
	}

	return result, nil
}

func (e *Engine) baseScore(toolName string) (int, string) {
	for _, p := range e.CustomBasePatterns {
		if policy.GlobMatch(p.Pattern, toolName) {
			return p.Base, fmt.Sprintf("tool name %q matched custom pattern %q", toolName, p.Pattern)
		}
	}
	for _, p := range DefaultBasePatterns {
		if policy.GlobMatch(p.Pattern, toolName) {
			return p.Base, fmt.Sprintf("tool name %q matched pattern %q", toolName, p.Pattern)
		}
	}
	return defaultBaseScore, fmt.Sprintf("tool name %q matched no pattern, using default base", toolName)
}

func (e *Engine) argBoost(argumentsJSON *string) (int, []string) {
	if argumentsJSON == nil {
		return 0, nil
	}
	total := 0
	var reasons []string
	boosts := e.KeywordBoosts
	if boosts == nil {
		boosts = DefaultKeywordBoosts
	}
	for _, kw := range boosts {
		if kw.Pattern.MatchString(*argumentsJSON) {
			total += kw.Boost
			reasons = append(reasons, fmt.Sprintf("arguments matched keyword %q (+%d)", kw.Name, kw.Boost))
		}
	}
	return total, reasons
}

// Evaluate maps a score against the configured thresholds to an
// allow/flag/deny verdict.
func (e *Engine) Evaluate(s Score) Verdict {
	if s.Score >= e.Thresholds.Deny {
		return VerdictDeny
	}
	if s.Score >= e.Thresholds.Flag {
		return VerdictFlag
	}
	return VerdictAllow
}

// ShouldRevoke reports whether subjectID has accumulated at least
// RevokeAfter high-risk behavior events within the current window.
func (e *Engine) ShouldRevoke(subjectID string) (bool, error) {
	if e.Behavior == nil {
		return false, nil
	}
	cutoff := e.now().Add(-e.Window).UnixMilli()
	count, err := e.Behavior.Count(subjectID, cutoff)
	if err != nil {
		return false, fmt.Errorf("risk: count behavior events: %w", err)
	}
	return count >= e.Thresholds.RevokeAfter, nil
}

func levelFor(score int, t Thresholds) Level {
	switch {
	case score >= t.Deny:
		return LevelCritical
	case score >= t.Flag:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	default:
		return LevelLow
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

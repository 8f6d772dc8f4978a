// Package policy implements the stateless server+tool policy engine: given
// a Policy document, a server name, and an optional tool name, it computes
// an allow/deny/passthrough verdict with fail-closed semantics on an
// unmatched server.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
)

// Action is one of the two literal verdicts a tool rule or server default
// can carry.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Verdict is the result of evaluating a request against a Policy. It adds
// two values beyond Action: passthrough (non tools/call traffic) and, in the
// wider relay pipeline, rate_limited — policy.Evaluate itself only ever
// returns Allow, Deny, or Passthrough.
type Verdict string

const (
	VerdictAllow       Verdict = "allow"
	VerdictDeny        Verdict = "deny"
	VerdictPassthrough Verdict = "passthrough"
	VerdictRateLimited Verdict = "rate_limited"
)

// ToolRule matches a single tool name glob to an action within a server
// policy. The first rule (in declared order) whose pattern matches wins.
type ToolRule struct {
	Tool   string `json:"tool"`
	Action Action `json:"action"`
}

// RateLimit is the optional global rate limit carried on the Policy
// document (§3): requests-per-minute plus a burst allowance.
type RateLimit struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	Burst             int `json:"burst"`
}

// ServerPolicy groups an ordered set of tool rules under a server name glob,
// plus a default action applied when no tool rule matches.
type ServerPolicy struct {
	Server  string     `json:"server"`
	Default Action     `json:"default"`
	Tools   []ToolRule `json:"tools"`
}

// Policy is the full configuration document described in §3: schema
// version, data directory, log level, optional global rate limit, and an
// ordered list of server policies.
type Policy struct {
	Version   int            `json:"version"`
	DataDir   string         `json:"data_dir"`
	LogLevel  string         `json:"log_level"`
	RateLimit *RateLimit     `json:"rate_limit,omitempty"`
	Servers   []ServerPolicy `json:"servers"`
}

// SupportedVersion is the only schema version this engine accepts.
const SupportedVersion = 1

// Load reads and JSON-decodes a Policy document from path. It does not
// validate; call Validate separately so callers can distinguish "malformed
// JSON" from "well-formed but invalid policy."
func Load(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	return &p, nil
}

// AsSignable converts the policy into the restricted value subset accepted
// by crypto.Canonical, for computing the policy hash pinned into every
// audit record.
func (p *Policy) AsSignable() map[string]interface{} {
	servers := make([]interface{}, 0, len(p.Servers))
	for _, s := range p.Servers {
		tools := make([]interface{}, 0, len(s.Tools))
		for _, t := range s.Tools {
			tools = append(tools, map[string]interface{}{
				"tool":   t.Tool,
				"action": string(t.Action),
			})
		}
		servers = append(servers, map[string]interface{}{
			"server":  s.Server,
			"default": string(s.Default),
			"tools":   tools,
		})
	}
	m := map[string]interface{}{
		"version":  int64(p.Version),
		"data_dir": p.DataDir,
		"servers":  servers,
	}
	if p.LogLevel != "" {
		m["log_level"] = p.LogLevel
	}
	if p.RateLimit != nil {
		m["rate_limit"] = map[string]interface{}{
			"requests_per_minute": int64(p.RateLimit.RequestsPerMinute),
			"burst":               int64(p.RateLimit.Burst),
		}
	}
	return m
}

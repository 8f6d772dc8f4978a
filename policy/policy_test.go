package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPolicyFromJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	doc := `{
		"version": 1,
		"data_dir": "/var/lib/toolwarden",
		"log_level": "info",
		"rate_limit": {"requests_per_minute": 600, "burst": 50},
		"servers": [
			{"server": "builder-mcp", "default": "allow", "tools": [{"tool": "MechanicRunTool", "action": "deny"}]},
			{"server": "*", "default": "allow", "tools": []}
		]
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Version != 1 || len(p.Servers) != 2 {
		t.Fatalf("unexpected policy: %+v", p)
	}
	if p.RateLimit == nil || p.RateLimit.RequestsPerMinute != 600 {
		t.Fatalf("rate limit not parsed: %+v", p.RateLimit)
	}
	if errs := Validate(p); len(errs) != 0 {
		t.Fatalf("expected valid policy, got %v", errs)
	}
}

func TestAsSignableDeterministic(t *testing.T) {
	p := examplePolicy()
	a := p.AsSignable()
	b := p.AsSignable()
	if len(a) != len(b) {
		t.Fatal("signable views should be structurally identical across calls")
	}
}

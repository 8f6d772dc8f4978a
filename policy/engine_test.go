package policy

import "testing"

func strp(s string) *string { return &s }

func examplePolicy() *Policy {
	return &Policy{
		Version: 1,
		Servers: []ServerPolicy{
			{
				Server:  "builder-mcp",
				Default: ActionAllow,
				Tools: []ToolRule{
					{Tool: "MechanicRunTool", Action: ActionDeny},
				},
			},
			{
				Server:  "*",
				Default: ActionAllow,
				Tools:   []ToolRule{},
			},
		},
	}
}

// S1 from §8.
func TestEvaluateToolRuleDenyWins(t *testing.T) {
	p := examplePolicy()
	got := Evaluate(p, "builder-mcp", strp("MechanicRunTool"))
	if got != VerdictDeny {
		t.Fatalf("got %v want deny", got)
	}
}

// S2 from §8.
func TestEvaluateFallsBackToWildcardServer(t *testing.T) {
	p := examplePolicy()
	got := Evaluate(p, "unknown-server", strp("SomeTool"))
	if got != VerdictAllow {
		t.Fatalf("got %v want allow", got)
	}
}

// S3 from §8: fail closed.
func TestEvaluateFailsClosedOnNoServerMatch(t *testing.T) {
	p := &Policy{Version: 1, Servers: []ServerPolicy{{Server: "only-this", Default: ActionAllow, Tools: []ToolRule{}}}}
	got := Evaluate(p, "other", strp("AnyTool"))
	if got != VerdictDeny {
		t.Fatalf("got %v want deny", got)
	}
}

func TestEvaluatePassthroughWhenNoTool(t *testing.T) {
	p := examplePolicy()
	got := Evaluate(p, "builder-mcp", nil)
	if got != VerdictPassthrough {
		t.Fatalf("got %v want passthrough", got)
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	base := &Policy{
		Version: 1,
		Servers: []ServerPolicy{
			{Server: "*", Default: ActionDeny, Tools: []ToolRule{
				{Tool: "Read*", Action: ActionAllow},
				{Tool: "ReadSecret", Action: ActionDeny},
			}},
		},
	}
	if got := Evaluate(base, "s", strp("ReadSecret")); got != VerdictAllow {
		t.Fatalf("expected first matching rule (Read*) to win, got %v", got)
	}

	reordered := &Policy{
		Version: 1,
		Servers: []ServerPolicy{
			{Server: "*", Default: ActionDeny, Tools: []ToolRule{
				{Tool: "ReadSecret", Action: ActionDeny},
				{Tool: "Read*", Action: ActionAllow},
			}},
		},
	}
	if got := Evaluate(reordered, "s", strp("ReadSecret")); got != VerdictDeny {
		t.Fatalf("expected reordered first match (ReadSecret) to win, got %v", got)
	}
}

func TestEvaluateServerOrderFirstMatchWins(t *testing.T) {
	p := &Policy{
		Version: 1,
		Servers: []ServerPolicy{
			{Server: "*", Default: ActionDeny, Tools: nil},
			{Server: "builder-mcp", Default: ActionAllow, Tools: nil},
		},
	}
	// The wildcard server is listed first, so it always wins even for an
	// exact-name server further down the list.
	if got := Evaluate(p, "builder-mcp", strp("AnyTool")); got != VerdictDeny {
		t.Fatalf("got %v want deny (first server entry wins)", got)
	}
}

func TestValidateValid(t *testing.T) {
	if errs := Validate(examplePolicy()); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidateCatchesEverything(t *testing.T) {
	p := &Policy{
		Version: 2,
		Servers: []ServerPolicy{
			{Server: "", Default: "maybe", Tools: []ToolRule{{Tool: "", Action: "sometimes"}}},
		},
	}
	errs := Validate(p)
	if len(errs) != 5 {
		t.Fatalf("expected 5 errors, got %d: %v", len(errs), errs)
	}
}

func TestValidateRequiresToolsArray(t *testing.T) {
	p := &Policy{Version: 1, Servers: []ServerPolicy{{Server: "s", Default: ActionAllow, Tools: nil}}}
	errs := Validate(p)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error for nil tools, got %v", errs)
	}
}

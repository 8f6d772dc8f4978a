package policy

import "fmt"

// Evaluate computes the verdict for a tool-call (or passthrough) message
// against policy, following §4.3 exactly:
//
//  1. Walk server policies in order; the first whose pattern glob-matches
//     serverName wins.
//  2. No match: fail closed, return deny.
//  3. No tool name (not a tools/call method): return passthrough.
//  4. Walk the selected server's tool rules in order; first match wins.
//  5. No tool rule matches: return the server's default action.
func Evaluate(p *Policy, serverName string, toolName *string) Verdict {
	var selected *ServerPolicy
	for i := range p.Servers {
		if GlobMatch(p.Servers[i].Server, serverName) {
			selected = &p.Servers[i]
			break
		}
	}
	if selected == nil {
		return VerdictDeny
	}
	if toolName == nil {
		return VerdictPassthrough
	}
	for _, rule := range selected.Tools {
		if GlobMatch(rule.Tool, *toolName) {
			return actionToVerdict(rule.Action)
		}
	}
	return actionToVerdict(selected.Default)
}

func actionToVerdict(a Action) Verdict {
	if a == ActionDeny {
		return VerdictDeny
	}
	return VerdictAllow
}

// Validate checks the structural invariants from §3/§4.3 and returns every
// violation found rather than stopping at the first one, so an operator
// correcting a policy document sees the whole list in one pass.
func Validate(p *Policy) []error {
	var errs []error
	if p == nil {
		return []error{fmt.Errorf("policy: document is nil")}
	}
	if p.Version != SupportedVersion {
		errs = append(errs, fmt.Errorf("policy: version must be %d, got %d", SupportedVersion, p.Version))
	}
	if p.Servers == nil {
		errs = append(errs, fmt.Errorf("policy: servers must be an array"))
	}
	for i, s := range p.Servers {
		if s.Server == "" {
			errs = append(errs, fmt.Errorf("policy: servers[%d]: server name must not be empty", i))
		}
		if s.Default != ActionAllow && s.Default != ActionDeny {
			errs = append(errs, fmt.Errorf("policy: servers[%d]: default action %q must be allow or deny", i, s.Default))
		}
		if s.Tools == nil {
			errs = append(errs, fmt.Errorf("policy: servers[%d]: tools must be an array", i))
		}
		for j, rule := range s.Tools {
			if rule.Tool == "" {
				errs = append(errs, fmt.Errorf("policy: servers[%d].tools[%d]: tool pattern must not be empty", i, j))
			}
			if rule.Action != ActionAllow && rule.Action != ActionDeny {
				errs = append(errs, fmt.Errorf("policy: servers[%d].tools[%d]: action %q must be allow or deny", i, j, rule.Action))
			}
		}
	}
	return errs
}

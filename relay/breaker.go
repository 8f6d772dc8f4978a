package relay

import "sync"

// ledgerFailureThreshold is the decision made in SPEC_FULL's open-questions
// section: after this many consecutive ledger write failures within one
// process lifetime, the orchestrator can no longer vouch for its own audit
// trail and switches tool-call admission to fail-closed. Any successful
// append resets the counter.
const ledgerFailureThreshold = 5

// ledgerBreaker tracks consecutive ledger append failures and reports when
// the orchestrator should stop admitting new tool calls because it can no
// longer durably record decisions about them.
type ledgerBreaker struct {
	mu                  sync.Mutex
	consecutiveFailures int
}

func (b *ledgerBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
}

func (b *ledgerBreaker) recordFailure() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	return b.consecutiveFailures
}

// tripped reports whether the breaker has reached the fail-closed threshold.
func (b *ledgerBreaker) tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures >= ledgerFailureThreshold
}

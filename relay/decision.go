package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"toolwarden/crypto"
	"toolwarden/ledger"
	"toolwarden/observability"
	"toolwarden/observability/logging"
	"toolwarden/policy"
	"toolwarden/risk"
)

// Orchestrator holds everything one transport needs to run the shared
// per-message decision loop from §4.5: the policy snapshot, the risk
// engine, the ledger, and the signing key, all bound to one upstream
// server name.
type Orchestrator struct {
	ServerName string
	Policy     *policy.Policy
	PolicyHash string
	Risk       *risk.Engine
	Ledger     *ledger.Store
	KeyPair    *crypto.KeyPair
	Logger     *slog.Logger
	Now        func() time.Time

	// Transport labels the decisions/latency metrics ("stdio" or "http").
	Transport string

	breaker ledgerBreaker
}

// pendingExchange carries what DecideResponse needs to know about a
// request after DecideRequest has already run, so the two ledger records
// for one JSON-RPC exchange (request, response) stay correctly tied
// together without re-parsing anything.
type pendingExchange struct {
	messageID     *string
	toolName      *string
	argumentsJSON *string
	riskScore     *int
	riskLevel     *ledger.RiskLevel
}

// Outcome is the result of running DecideRequest on one inbound message.
type Outcome struct {
	// Forward reports whether the caller should forward the original
	// bytes upstream. When false, DeniedResponse carries the synthetic
	// reply to return to the caller instead.
	Forward        bool
	DeniedResponse *Response
	Pending        *pendingExchange
	RiskWarning    string
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// DecideRequest runs steps 1-4 of §4.5's decision loop against one inbound
// message's raw bytes.
func (o *Orchestrator) DecideRequest(ctx context.Context, raw []byte, subject string) Outcome {
	start := o.now()
	record := func(verdict string, outcome Outcome) Outcome {
		observability.Relay().RecordDecision(o.ServerName, verdict, o.transportLabel(), o.now().Sub(start))
		return outcome
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		o.appendRecord(ctx, ledger.PendingRecord{
			ServerName: o.ServerName,
			Direction:  ledger.DirectionRequest,
			Method:     "unknown",
			Verdict:    ledger.VerdictPassthrough,
			PolicyHash: o.PolicyHash,
		})
		return record(string(ledger.VerdictPassthrough), Outcome{Forward: true})
	}

	messageID := idString(req.ID)
	toolName, argumentsJSON := classify(&req)

	if o.breaker.tripped() && toolName != nil {
		o.logger().Warn("denying tool call: ledger has failed repeatedly, refusing to admit unauditable calls",
			"server", o.ServerName, "tool", *toolName)
		observability.Relay().RecordDenial(o.ServerName, "ledger_breaker")
		return record(string(ledger.VerdictDeny), o.denyRequest(ctx, req.Method, messageID, toolName, argumentsJSON, nil, nil))
	}

	verdict := policy.Evaluate(o.Policy, o.ServerName, toolName)
	if verdict == policy.VerdictDeny {
		observability.Relay().RecordDenial(o.ServerName, "policy")
		return record(string(ledger.VerdictDeny), o.denyRequest(ctx, req.Method, messageID, toolName, argumentsJSON, nil, nil))
	}

	var riskScore *int
	var riskLevel *ledger.RiskLevel
	var warning string
	if toolName != nil && o.Risk != nil {
		score, err := o.Risk.Score(*toolName, argumentsJSON, subject)
		if err != nil {
			o.logger().Error("risk scoring failed, treating call as unscored", "error", err, "tool", *toolName)
		} else {
			s := score.Score
			riskScore = &s
			level := ledger.RiskLevel(score.Level)
			riskLevel = &level

			switch o.Risk.Evaluate(score) {
			case risk.VerdictDeny:
				observability.Relay().RecordDenial(o.ServerName, "risk")
				return record(string(ledger.VerdictDeny), o.denyRequest(ctx, req.Method, messageID, toolName, argumentsJSON, riskScore, riskLevel))
			case risk.VerdictFlag:
				reasonSummary := joinReasons(score.Reasons)
				warning = "risk engine flagged this call: " + reasonSummary
				// Reasons often quote fragments of the call's own arguments
				// (the matched keyword or command shape), which may carry
				// secrets the caller passed as tool input, so they are
				// masked in the plain-text log the same way a credential
				// field would be. The reasons are not written to the
				// ledger; the request record carries only score and level.
				o.logger().Warn("tool call flagged by risk engine", "tool", *toolName, "score", score.Score, logging.MaskField("reasons", reasonSummary))
			}
		}
	}

	o.appendRecord(ctx, ledger.PendingRecord{
		ServerName:    o.ServerName,
		Direction:     ledger.DirectionRequest,
		Method:        req.Method,
		MessageID:     messageID,
		ToolName:      toolName,
		ArgumentsJSON: argumentsJSON,
		Verdict:       ledger.VerdictAllow,
		RiskScore:     riskScore,
		RiskLevel:     riskLevel,
		PolicyHash:    o.PolicyHash,
	})

	verdictLabel := string(ledger.VerdictAllow)
	if warning != "" {
		verdictLabel = "flag"
	}
	return record(verdictLabel, Outcome{
		Forward:     true,
		RiskWarning: warning,
		Pending: &pendingExchange{
			messageID:     messageID,
			toolName:      toolName,
			argumentsJSON: argumentsJSON,
			riskScore:     riskScore,
			riskLevel:     riskLevel,
		},
	})
}

func (o *Orchestrator) denyRequest(ctx context.Context, method string, messageID, toolName, argumentsJSON *string, riskScore *int, riskLevel *ledger.RiskLevel) Outcome {
	o.appendRecord(ctx, ledger.PendingRecord{
		ServerName:    o.ServerName,
		Direction:     ledger.DirectionRequest,
		Method:        method,
		MessageID:     messageID,
		ToolName:      toolName,
		ArgumentsJSON: argumentsJSON,
		Verdict:       ledger.VerdictDeny,
		RiskScore:     riskScore,
		RiskLevel:     riskLevel,
		PolicyHash:    o.PolicyHash,
	})
	resp := deniedResponse(rawMessageID(messageID))
	o.appendRecord(ctx, ledger.PendingRecord{
		ServerName: o.ServerName,
		Direction:  ledger.DirectionResponse,
		Method:     method,
		MessageID:  messageID,
		ToolName:   toolName,
		Verdict:    ledger.VerdictDeny,
		RiskScore:  riskScore,
		RiskLevel:  riskLevel,
		PolicyHash: o.PolicyHash,
	})
	return Outcome{Forward: false, DeniedResponse: resp}
}

// DecideResponse runs step 5 of §4.5: append the passthrough response
// record once the upstream reply for a pending exchange has arrived.
func (o *Orchestrator) DecideResponse(ctx context.Context, pending *pendingExchange, method string, responseJSON []byte) {
	if pending == nil {
		return
	}
	var body *string
	if len(responseJSON) > 0 {
		s := string(responseJSON)
		body = &s
	}
	o.appendRecord(ctx, ledger.PendingRecord{
		ServerName:    o.ServerName,
		Direction:     ledger.DirectionResponse,
		Method:        method,
		MessageID:     pending.messageID,
		ToolName:      pending.toolName,
		ArgumentsJSON: pending.argumentsJSON,
		ResponseJSON:  body,
		Verdict:       ledger.VerdictPassthrough,
		RiskScore:     pending.riskScore,
		RiskLevel:     pending.riskLevel,
		PolicyHash:    o.PolicyHash,
	})
}

// appendRecord wraps Ledger.InsertAtomic with the §9 escalation policy: log
// and continue on a single failure (ledger failures never break the
// pipeline), but track consecutive failures so the breaker can trip.
func (o *Orchestrator) appendRecord(ctx context.Context, pending ledger.PendingRecord) {
	if o.Ledger == nil {
		return
	}
	_, err := o.Ledger.InsertAtomic(ctx, func(prevSig string) (*ledger.AuditRecord, error) {
		return ledger.NewRecord(pending, prevSig, o.KeyPair, o.now)
	})
	if err != nil {
		n := o.breaker.recordFailure()
		o.logger().Error("ledger append failed", "error", err, "consecutive_failures", n)
		observability.Ledger().RecordAppendFailure(o.ServerName)
		observability.Ledger().SetBreakerTripped(o.breaker.tripped())
		return
	}
	o.breaker.recordSuccess()
	observability.Ledger().SetBreakerTripped(o.breaker.tripped())
}

func (o *Orchestrator) transportLabel() string {
	if o.Transport != "" {
		return o.Transport
	}
	return "unknown"
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func rawMessageID(id *string) json.RawMessage {
	if id == nil {
		return nil
	}
	return json.RawMessage(*id)
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}

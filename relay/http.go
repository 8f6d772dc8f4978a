package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"toolwarden/admission"
	"toolwarden/observability"
)

// HTTPRelay implements the HTTP transport from §4.5/§4.6: a local POST /
// endpoint that authenticates the caller, rate-limits it, runs the shared
// decision loop, and forwards admitted calls to a configured upstream URL.
type HTTPRelay struct {
	Orchestrator  *Orchestrator
	Upstream      string
	Authenticator *admission.Authenticator
	RateLimiter   *admission.RateLimiter
	Client        *http.Client

	// RequireAuth mirrors the teacher's per-route RequireAuth flag: when
	// false, requests are admitted under the "anonymous" subject instead
	// of being rejected for lacking a bearer credential.
	RequireAuth bool
}

// Handler builds the chi router for this relay, grounded on the teacher's
// services/otc-gateway/server.buildRouter: RequestID/RealIP/Recoverer
// middleware, CORS-allow-any-origin for local development, then a single
// POST / route carrying the relay's own admission and rate-limit checks.
func (h *HTTPRelay) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(corsAllowAny)

	r.Post("/", h.serveRPC)
	return r
}

func corsAllowAny(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPRelay) serveRPC(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	raw, err := readBody(r)
	if err != nil {
		writeJSONRPCError(w, http.StatusBadRequest, nil, codeDenied, "invalid request body")
		return
	}

	result := h.RateLimiter.Check(principal.Subject, principal.RateLimitRPM)
	if !result.Allowed {
		observability.Relay().RecordThrottle(string(principal.Type))
		w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfterSecs))
		writeJSONRPCError(w, http.StatusTooManyRequests, peekID(raw), codeRateLimit, "rate limit exceeded")
		return
	}

	outcome := h.Orchestrator.DecideRequest(r.Context(), raw, principal.Subject)
	if !outcome.Forward {
		writeJSON(w, http.StatusOK, outcome.DeniedResponse)
		return
	}

	h.forwardUpstream(w, r.Context(), raw, outcome.Pending)
}

// authenticate implements the try-session-then-api-key bearer contract of
// §4.6 at the transport boundary: a missing or rejected credential is a 401
// unless RequireAuth is false, in which case the call is admitted under a
// fixed anonymous subject.
func (h *HTTPRelay) authenticate(w http.ResponseWriter, r *http.Request) (*admission.Principal, bool) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		if !h.RequireAuth {
			return &admission.Principal{Type: admission.PrincipalAPIKey, Subject: "anonymous"}, true
		}
		writeJSONRPCError(w, http.StatusUnauthorized, nil, codeAdmission, "missing bearer credential")
		return nil, false
	}

	principal, err := h.Authenticator.Authenticate(token)
	if err != nil {
		writeJSONRPCError(w, http.StatusUnauthorized, nil, codeAdmission, "bearer credential could not be verified")
		return nil, false
	}
	if principal == nil {
		writeJSONRPCError(w, http.StatusUnauthorized, nil, codeAdmission, "invalid or revoked bearer credential")
		return nil, false
	}
	return principal, true
}

// forwardUpstream proxies an admitted call to the upstream URL and relays
// the reply, handling both a plain application/json body and a streaming
// text/event-stream body per §6: each SSE data: frame is relayed to the
// caller as it arrives and also fed back through DecideResponse so the
// ledger sees one response record per frame.
func (h *HTTPRelay) forwardUpstream(w http.ResponseWriter, ctx context.Context, raw []byte, pending *pendingExchange) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Upstream, bytes.NewReader(raw))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, upstreamFailureResponse(peekID(raw), err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := h.client().Do(req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, upstreamFailureResponse(peekID(raw), err.Error()))
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		h.relaySSE(w, ctx, resp, pending)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, upstreamFailureResponse(peekID(raw), err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)

	h.auditResponse(ctx, pending, body)
}

// relaySSE relays upstream server-sent-event frames to the caller as they
// arrive, line by line, and audits each complete "data:" frame's payload as
// a response event, per §4.5/§6.
func (h *HTTPRelay) relaySSE(w http.ResponseWriter, ctx context.Context, resp *http.Response, pending *pendingExchange) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(resp.StatusCode)
	flusher, canFlush := w.(http.Flusher)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if _, err := w.Write(append(append([]byte(nil), line...), '\n')); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
		if payload, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			h.auditResponse(ctx, pending, bytes.TrimSpace(payload))
		}
	}
}

// auditResponse recovers from any panic in the response-side decision path
// so a bug there can never retroactively un-deliver bytes already written
// to the caller, matching the fail-open-for-observability guarantee the
// stdio transport gives.
func (h *HTTPRelay) auditResponse(ctx context.Context, pending *pendingExchange, body []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			h.Orchestrator.logger().Error("relay: recovered panic while auditing an HTTP response", "panic", rec)
		}
	}()
	if pending == nil {
		return
	}
	h.Orchestrator.DecideResponse(ctx, pending, "tools/call", body)
}

func (h *HTTPRelay) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func peekID(raw []byte) json.RawMessage {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	return req.ID
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	writeJSON(w, status, &Response{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	})
}

package relay

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"toolwarden/crypto"
	"toolwarden/ledger"
	"toolwarden/policy"
)

func newTestStdioOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return &Orchestrator{
		ServerName: "fs-server",
		Policy: &policy.Policy{
			Version: 1,
			Servers: []policy.ServerPolicy{
				{Server: "fs-server", Default: policy.ActionAllow, Tools: []policy.ToolRule{
					{Tool: "DangerousTool", Action: policy.ActionDeny},
				}},
			},
		},
		PolicyHash: "test-hash",
		Ledger:     store,
		KeyPair:    kp,
		Now:        time.Now,
	}
}

// cat echoes each input line back unchanged, standing in for an MCP server
// that replies once per request.
func TestStdioRelayForwardsAllowedCalls(t *testing.T) {
	o := newTestStdioOrchestrator(t)
	relay := &StdioRelay{Orchestrator: o, Command: "cat", Subject: "agent-1"}

	in := strings.NewReader(string(toolCallRequest("1", "tools/call", "ReadFile", `{}`)) + "\n")
	var out bytes.Buffer
	var stderr bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := relay.Run(ctx, in, &out, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}

	if !bytes.Contains(out.Bytes(), []byte("ReadFile")) {
		t.Fatalf("expected the forwarded call to be echoed back, got %q", out.String())
	}
}

// A denied tool call never reaches the child: the denial is written
// straight back to the caller and cat never echoes it.
func TestStdioRelayWritesDenialWithoutForwarding(t *testing.T) {
	o := newTestStdioOrchestrator(t)
	relay := &StdioRelay{Orchestrator: o, Command: "cat", Subject: "agent-1"}

	in := strings.NewReader(string(toolCallRequest("2", "tools/call", "DangerousTool", `{}`)) + "\n")
	var out bytes.Buffer
	var stderr bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := relay.Run(ctx, in, &out, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}

	scanner := bufio.NewScanner(&out)
	if !scanner.Scan() {
		t.Fatal("expected a denial line on stdout")
	}
	line := scanner.Text()
	if !strings.Contains(line, messageDenied) {
		t.Fatalf("expected denial message, got %q", line)
	}
}

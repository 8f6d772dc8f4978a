// Command toolwardend is the thin wiring entrypoint for the relay: it loads
// and hash-pins the policy document, opens the signing keystore, the audit
// ledger, the behavior store, and the admission store, and then runs one of
// the two transports (stdio or http) against the shared decision loop. A CLI
// front-end for managing policy/keys/sessions is out of scope here; this
// binary only starts the relay itself.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"toolwarden/admission"
	"toolwarden/cmd/internal/passphrase"
	"toolwarden/config"
	"toolwarden/crypto"
	"toolwarden/ledger"
	"toolwarden/observability/logging"
	telemetry "toolwarden/observability/otel"
	"toolwarden/relay"
	"toolwarden/risk"
)

const keystoreName = "relay"

func main() {
	env := strings.TrimSpace(os.Getenv("TOOLWARDEN_ENV"))
	logger := logging.Setup("toolwardend", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "toolwardend",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := run(logger); err != nil {
		log.Fatalf("toolwardend: %v", err)
	}
}

func run(logger *slog.Logger) error {
	var (
		policyPath  = flag.String("policy", "policy.json", "path to the policy document (§3)")
		mode        = flag.String("mode", "stdio", "transport mode: stdio or http")
		serverName  = flag.String("server", "default", "upstream MCP server name this instance mediates")
		dataDirFlag = flag.String("data-dir", "", "override the data directory resolved from policy/env")
		listenAddr  = flag.String("listen", ":8642", "listen address (http mode only)")
		upstream    = flag.String("upstream", "", "upstream MCP server URL (http mode only)")
		requireAuth = flag.Bool("require-auth", true, "reject calls lacking a bearer credential (http mode only)")
	)
	flag.Parse()

	loaded, err := config.LoadPolicy(*policyPath)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	dataDir := strings.TrimSpace(*dataDirFlag)
	if dataDir == "" {
		dataDir = config.DataDir(loaded.Policy)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	passphraseSource := passphrase.NewSource(config.KeystorePassphraseEnvVar)
	keyPair, err := loadOrCreateKeystore(dataDir, passphraseSource, logger)
	if err != nil {
		return fmt.Errorf("signing keystore: %w", err)
	}

	ledgerStore, err := ledger.Open(filepath.Join(dataDir, "ledger.db"))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledgerStore.Close()

	behaviorStore, err := risk.OpenBehaviorStore(filepath.Join(dataDir, "behavior.db"))
	if err != nil {
		return fmt.Errorf("open behavior store: %w", err)
	}
	defer behaviorStore.Close()

	admissionStore, err := admission.OpenStore(filepath.Join(dataDir, "admission.db"))
	if err != nil {
		return fmt.Errorf("open admission store: %w", err)
	}
	defer admissionStore.Close()

	sessionSecret, err := loadOrCreateSessionSecret(dataDir)
	if err != nil {
		return fmt.Errorf("session signing secret: %w", err)
	}

	riskEngine := risk.NewEngine(behaviorStore)

	rpm, burst := 60, 10
	if rl := loaded.Policy.RateLimit; rl != nil {
		if rl.RequestsPerMinute > 0 {
			rpm = rl.RequestsPerMinute
		}
		if rl.Burst > 0 {
			burst = rl.Burst
		}
	}
	rateLimiter := admission.NewRateLimiter(rpm, burst)
	authenticator := admission.NewAuthenticator(admissionStore, sessionSecret)

	orchestrator := &relay.Orchestrator{
		ServerName: *serverName,
		Policy:     loaded.Policy,
		PolicyHash: loaded.Hash,
		Risk:       riskEngine,
		Ledger:     ledgerStore,
		KeyPair:    keyPair,
		Logger:     logger,
		Transport:  *mode,
	}

	switch *mode {
	case "stdio":
		return runStdio(orchestrator)
	case "http":
		return runHTTP(orchestrator, authenticator, rateLimiter, *listenAddr, *upstream, *requireAuth, logger)
	default:
		return fmt.Errorf("unknown mode %q: want stdio or http", *mode)
	}
}

func runStdio(orchestrator *relay.Orchestrator) error {
	args := flag.Args()
	if len(args) == 0 {
		return errors.New("stdio mode requires the upstream server command as positional arguments, e.g. toolwardend -mode stdio -- mcp-server --flag")
	}
	r := &relay.StdioRelay{
		Orchestrator: orchestrator,
		Command:      args[0],
		Args:         args[1:],
		Subject:      "local",
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return r.Run(ctx, os.Stdin, os.Stdout, os.Stderr)
}

func runHTTP(orchestrator *relay.Orchestrator, authenticator *admission.Authenticator, rateLimiter *admission.RateLimiter, listenAddr, upstream string, requireAuth bool, logger *slog.Logger) error {
	if strings.TrimSpace(upstream) == "" {
		return errors.New("http mode requires -upstream")
	}
	r := &relay.HTTPRelay{
		Orchestrator:  orchestrator,
		Upstream:      upstream,
		Authenticator: authenticator,
		RateLimiter:   rateLimiter,
		RequireAuth:   requireAuth,
	}

	mux := http.NewServeMux()
	mux.Handle("/", r.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		// upstream may embed credentials (e.g. userinfo in the URL), so it is
		// masked the same way a credential field would be in any other log line.
		logger.Info("toolwardend listening", "addr", listener.Addr().String(), logging.MaskField("upstream", upstream))
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("serve failed", "error", serveErr)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	return nil
}

// loadOrCreateKeystore implements the four-way KeystoreStatus handling the
// redesign flag calls for: ready keys are used as-is, an absent keystore is
// generated and saved, a passphrase-protected keystore prompts for its
// passphrase via source, and a rejected passphrase is a fatal error rather
// than a silent fall-through.
func loadOrCreateKeystore(dataDir string, source *passphrase.Source, logger *slog.Logger) (*crypto.KeyPair, error) {
	envPassphrase := config.KeystorePassphrase()

	kp, status, err := crypto.Load(dataDir, keystoreName, envPassphrase)
	if err != nil {
		return nil, err
	}

	switch status {
	case crypto.KeystoreReady:
		return kp, nil

	case crypto.KeystoreNeedsPassphrase:
		pass, err := source.Get()
		if err != nil {
			return nil, fmt.Errorf("passphrase required to unlock keystore: %w", err)
		}
		kp, status, err = crypto.Load(dataDir, keystoreName, pass)
		if err != nil {
			return nil, err
		}
		if status != crypto.KeystoreReady {
			return nil, errors.New("keystore passphrase was rejected")
		}
		return kp, nil

	case crypto.KeystoreBadPassphrase:
		return nil, errors.New("keystore passphrase was rejected")

	case crypto.KeystoreAbsent:
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate signing keypair: %w", err)
		}
		pass := envPassphrase
		if pass == "" {
			if prompted, perr := source.Get(); perr == nil {
				pass = prompted
			} else {
				logger.Warn("no signing keystore passphrase available; saving new keystore unencrypted", "error", perr)
			}
		}
		if err := crypto.Save(dataDir, keystoreName, kp, pass); err != nil {
			return nil, fmt.Errorf("save new signing keypair: %w", err)
		}
		return kp, nil

	default:
		return nil, fmt.Errorf("unrecognized keystore status %v", status)
	}
}

// loadOrCreateSessionSecret resolves the HMAC key used to sign admission
// session JWTs, persisting a freshly generated one on first run so sessions
// survive a restart.
func loadOrCreateSessionSecret(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, "session.key")
	raw, err := os.ReadFile(path)
	if err == nil && len(raw) > 0 {
		return raw, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read session secret: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, fmt.Errorf("write session secret: %w", err)
	}
	return secret, nil
}

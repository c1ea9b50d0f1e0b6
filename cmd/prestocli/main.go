// Command prestocli runs one SQL statement against a Presto/Trino
// coordinator and prints the result, demonstrating the client library end
// to end: session construction, query execution, typed row mapping,
// encrypted credential caching, and local history logging.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	presto "github.com/prestodb/presto-go-client"
	"github.com/prestodb/presto-go-client/internal/credcache"
	"github.com/prestodb/presto-go-client/internal/history"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	switch envOr("LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.Info("prestocli starting", "version", version)

	if len(os.Args) < 2 {
		slog.Error("usage: prestocli 'SELECT ...' | prestocli history [N]")
		os.Exit(1)
	}

	hist, err := history.Open(envOr("PRESTOCLI_HISTORY_DB", "./prestocli-history.db"))
	if err != nil {
		slog.Error("history store init failed", "error", err)
		os.Exit(1)
	}
	defer hist.Close()

	if os.Args[1] == "history" {
		limit := 20
		if len(os.Args) > 2 {
			if n, err := strconv.Atoi(os.Args[2]); err == nil {
				limit = n
			}
		}
		if err := printHistory(hist, limit); err != nil {
			slog.Error("history query failed", "error", err)
			os.Exit(1)
		}
		return
	}

	sql := os.Args[len(os.Args)-1]

	cfg := presto.ClientConfig{
		Host:               envOr("PRESTO_HOST", "localhost"),
		Port:               envInt("PRESTO_PORT", 8080),
		Scheme:             envOr("PRESTO_SCHEME", "http"),
		MaxAttempts:        envInt("PRESTO_MAX_ATTEMPTS", 3),
		RequestTimeout:     envDuration("PRESTO_REQUEST_TIMEOUT_MS", 30*time.Second),
		TypedResults:       true,
		CredentialProvider: credentialProvider(),
	}

	sess, err := presto.NewSession(
		envOr("PRESTO_USER", "prestocli"),
		presto.WithCatalog(envOr("PRESTO_CATALOG", "")),
		presto.WithSchema(envOr("PRESTO_SCHEMA", "")),
		presto.WithSource("prestocli"),
	)
	if err != nil {
		slog.Error("session init failed", "error", err)
		os.Exit(1)
	}

	query, err := presto.NewQuery(cfg, sess, sql)
	if err != nil {
		slog.Error("query init failed", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	submittedAt := time.Now()
	entryID := fmt.Sprintf("pending-%d", submittedAt.UnixNano())
	_ = hist.RecordSubmitted(ctx, history.Entry{
		ID:          entryID,
		SQL:         sql,
		Catalog:     envOr("PRESTO_CATALOG", ""),
		Schema:      envOr("PRESTO_SCHEMA", ""),
		State:       "SUBMITTED",
		SubmittedAt: submittedAt,
	})

	result, err := query.Execute(ctx)
	if err != nil {
		slog.Error("query execution failed", "error", err)
		_ = hist.RecordFinished(ctx, entryID, "FAILED", 0, err.Error())
		os.Exit(1)
	}

	rowCount := printResult(result)
	_ = hist.RecordFinished(ctx, entryID, "FINISHED", rowCount, "")

	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Fprintf(os.Stderr, "(%s fetched)\n", humanize.Comma(int64(rowCount)))
	}
}

// credentialProvider wires PRESTO_CREDENTIAL_CMD, an external command whose
// stdout is a bearer token, into cfg.CredentialProvider. When
// PRESTO_CREDENTIAL_CACHE_KEY is also set the token is persisted between
// invocations in an internal/credcache.Cache so the command (typically an
// OAuth/Kerberos token acquisition step, slow enough to be worth caching)
// isn't re-run on every CLI call. Returns nil when PRESTO_CREDENTIAL_CMD is
// unset, leaving the client with no credential provider.
func credentialProvider() presto.CredentialProvider {
	cmdStr := os.Getenv("PRESTO_CREDENTIAL_CMD")
	if cmdStr == "" {
		return nil
	}
	provider := &commandTokenProvider{cmd: cmdStr}

	cacheKey := os.Getenv("PRESTO_CREDENTIAL_CACHE_KEY")
	if cacheKey == "" {
		slog.Warn("PRESTO_CREDENTIAL_CMD set without PRESTO_CREDENTIAL_CACHE_KEY; tokens will not be cached to disk")
		return provider
	}

	cache, err := credcache.Open(envOr("PRESTO_CREDENTIAL_CACHE_PATH", "./prestocli-credential-cache"), cacheKey)
	if err != nil {
		slog.Error("credential cache init failed, continuing without a disk cache", "error", err)
		return provider
	}
	return cache.Wrap(provider)
}

// commandTokenProvider fetches a bearer token by running an external
// command (e.g. a `gcloud auth print-access-token` style OAuth bootstrap),
// caching the result in memory for a conservative window.
type commandTokenProvider struct {
	cmd string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func (p *commandTokenProvider) Valid(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token != "" && time.Now().Before(p.expiresAt)
}

func (p *commandTokenProvider) Token(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

func (p *commandTokenProvider) Refresh(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "sh", "-c", p.cmd).Output()
	if err != nil {
		return fmt.Errorf("credential command: %w", err)
	}
	p.mu.Lock()
	p.token = strings.TrimSpace(string(out))
	p.expiresAt = time.Now().Add(55 * time.Minute)
	p.mu.Unlock()
	return nil
}

func printResult(result *presto.Result) int {
	count := 0
	for {
		row, ok, err := result.Next()
		if err != nil {
			slog.Error("row mapping failed", "error", err)
			break
		}
		if !ok {
			break
		}
		count++
		fmt.Println(row)
	}
	return count
}

func printHistory(hist *history.Store, limit int) error {
	entries, err := hist.Recent(context.Background(), limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		state := e.State
		if e.ErrorMessage != "" {
			state = fmt.Sprintf("%s (%s)", state, e.ErrorMessage)
		}
		fmt.Printf("%s\t%s\t%s\t%d rows\t%s\n",
			e.SubmittedAt.Format(time.RFC3339), e.ID, state, e.RowCount, e.SQL)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

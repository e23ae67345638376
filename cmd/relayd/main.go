package main

import (
	"context"
	"database/sql"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/converso/converso-relay/internal/auth"
	"github.com/converso/converso-relay/internal/bridge"
	"github.com/converso/converso-relay/internal/config"
	"github.com/converso/converso-relay/internal/health"
	"github.com/converso/converso-relay/internal/httpserver"
	"github.com/converso/converso-relay/internal/logging"
	"github.com/converso/converso-relay/internal/ratelimit"
	"github.com/converso/converso-relay/internal/transcript"
	transcriptpg "github.com/converso/converso-relay/internal/transcript/postgres"
	transcriptsqlite "github.com/converso/converso-relay/internal/transcript/sqlite"
	"github.com/converso/converso-relay/internal/upstream"
	"github.com/converso/converso-relay/internal/upstream/loopback"
	"github.com/converso/converso-relay/internal/version"
)

func main() {
	cfg, err := config.LoadRelayConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Rotating file logging when log_file is configured, mirrored to stdout
	// for foreground runs.
	const maxLogBytes = int64(100 * 1024 * 1024) // 100MB
	if logTarget := strings.TrimSpace(cfg.LogFile); logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[relayd] ")

	log.Printf("converso-relay %s starting env=%s", version.Info(), cfg.Environment)

	journal, journalDB, err := openJournal(cfg.TranscriptPath)
	if err != nil {
		log.Fatalf("open transcript journal: %v", err)
	}
	defer journal.Close()

	var agent upstream.AgentService
	if cfg.UpstreamConfigured() {
		client, err := upstream.New(upstream.Config{
			APIKey:         cfg.UpstreamAPIKey,
			BaseURL:        cfg.UpstreamBaseURL,
			WorkspaceID:    cfg.UpstreamWorkspaceID,
			AgentID:        cfg.UpstreamAgentID,
			RequestTimeout: cfg.UpstreamTimeout,
		})
		if err != nil {
			log.Fatalf("init upstream client: %v", err)
		}
		agent = client
		log.Printf("upstream agent service %s workspace=%s agent=%s", client.BaseURL(), cfg.UpstreamWorkspaceID, cfg.UpstreamAgentID)
	} else {
		agent = loopback.New()
		log.Printf("upstream credentials missing; serving loopback echo agent")
	}

	chatBridge := bridge.New(agent)
	chatBridge.SetPollPolicy(cfg.PollInterval, cfg.PollMaxAttempts)
	chatBridge.SetJournal(journal)
	chatBridge.SetLogger(log.New(log.Writer(), "[relayd/bridge] ", log.LstdFlags|log.Lmicroseconds))

	var agents []config.AgentDescriptor
	if cfg.AgentCatalogFile != "" {
		agents, err = config.LoadAgentCatalog(cfg.AgentCatalogFile)
		if err != nil {
			log.Printf("agent catalog %s unusable (%v); using default catalog", cfg.AgentCatalogFile, err)
			agents = nil
		}
	}
	if len(agents) == 0 {
		agents = config.DefaultAgentCatalog(cfg.UpstreamAgentID)
	}

	httpSrv := httpserver.New(chatBridge, agents)
	httpSrv.SetLogger(cfg.LogLevel, log.New(log.Writer(), "[relayd/http] ", log.LstdFlags|log.Lmicroseconds))
	chatBridge.SetMetrics(httpSrv.Metrics())

	if !cfg.AuthDisabled {
		httpSrv.SetAuth(auth.NewManager(cfg.AuthSecret), false)
	} else {
		log.Printf("authorization disabled: skipping token validation")
	}

	if cfg.RateLimitPerSecond > 0 {
		limiter := ratelimit.NewLimiter(cfg.RateLimitBurst, cfg.RateLimitPerSecond)
		defer limiter.Close()
		httpSrv.SetRateLimiter(limiter)
		log.Printf("rate limiting enabled rate=%.1f/s burst=%.0f", cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	}

	checkUpstream := ""
	if cfg.UpstreamConfigured() {
		checkUpstream = cfg.UpstreamBaseURL
	}
	httpSrv.SetHealthChecker(health.New(health.Config{
		TranscriptDB:    journalDB,
		UpstreamBaseURL: checkUpstream,
	}))

	srv := &http.Server{
		Addr:         cfg.HTTPAddress,
		Handler:      httpSrv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE responses stay open past any fixed write deadline
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("relay server listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// openJournal selects the transcript backend from the configured path; a
// postgres:// DSN selects Postgres, anything else is a sqlite file path.
func openJournal(path string) (transcript.Store, *sql.DB, error) {
	if transcript.IsPostgres(path) {
		store, err := transcriptpg.New(path)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("transcript journal backend=postgres")
		return store, store.DB(), nil
	}
	store, err := transcriptsqlite.New(path)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("transcript journal backend=sqlite path=%s", path)
	return store, store.DB(), nil
}

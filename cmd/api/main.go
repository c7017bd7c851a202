package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-agent-platform/internal/agents"
	"voice-agent-platform/internal/auth"
	"voice-agent-platform/internal/calls"
	"voice-agent-platform/internal/completion"
	"voice-agent-platform/internal/config"
	"voice-agent-platform/internal/conversation"
	"voice-agent-platform/internal/events"
	"voice-agent-platform/internal/httpapi"
	"voice-agent-platform/internal/metrics"
	"voice-agent-platform/internal/pricing"
	"voice-agent-platform/internal/reporting"
	"voice-agent-platform/internal/sms"
	"voice-agent-platform/internal/telephony"
	"voice-agent-platform/internal/transcript"
	"voice-agent-platform/migrations"
	"voice-agent-platform/pkg/logger"
	"voice-agent-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.DB.Migrate {
		if err := migrations.Apply(logger.With(rootCtx, log), db); err != nil {
			log.Error("migrations failed", "err", err)
			os.Exit(1)
		}
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	profiles, err := openAgents(cfg.Agents, db, log)
	if err != nil {
		log.Error("agent profiles init failed", "err", err)
		os.Exit(1)
	}

	pub, err := openPublisher(cfg.MQTT)
	if err != nil {
		log.Error("mqtt init failed", "err", err)
		os.Exit(1)
	}
	defer pub.Close()

	tw := telephony.NewTwilioClient(telephony.TwilioConfig{
		AccountSID:  cfg.Twilio.AccountSID,
		AuthToken:   cfg.Twilio.AuthToken,
		PhoneNumber: cfg.Twilio.PhoneNumber,
	})
	llm := completion.NewOpenAIProvider(completion.OpenAIConfig{
		APIKey:     cfg.OpenAI.APIKey,
		Model:      cfg.OpenAI.Model,
		Timeout:    cfg.OpenAI.Timeout,
		MaxRetries: cfg.OpenAI.MaxRetries,
	}, m)

	sessions := calls.NewPostgresRepo(db)
	transcripts := transcript.NewPostgresStore(db)

	deps := conversation.Deps{
		Sessions:    sessions,
		Transcripts: transcripts,
		Agents:      profiles,
		Completion:  llm,
		Locks:       calls.NewLockRegistry(),
		Capacity:    calls.NewRedisCapacity(rdb, cfg.Calls.MaxConcurrentPerAgent, cfg.Calls.SlotTTL),
		Recordings:  tw,
		Events:      events.NewBus(pub, cfg.MQTT.TopicPrefix),
		Metrics:     m,
		TurnTimeout: cfg.Calls.TurnTimeout,
	}
	if cfg.Pricing.RatePerMinuteMinor > 0 {
		deps.Pricing = pricing.NewService(&pricing.MemoryRepo{Minute: pricing.DefaultRates(cfg.Pricing.RatePerMinuteMinor, cfg.Pricing.Currency)})
	}

	h := httpapi.Handlers{
		Auth:       authManager,
		Engine:     conversation.NewEngine(deps),
		Reconciler: conversation.NewReconciler(deps),
		Outbound:   conversation.NewOutbound(deps, tw, cfg.CallbackURL("/api/v1/calls/outbound"), cfg.CallbackURL("/api/v1/calls/status")),
		SMS:        sms.NewService(profiles, llm, tw),
		Reporting:  reporting.NewService(sessions, transcripts),
		Agents:     profiles,
		Emitter: telephony.Emitter{
			TranscribeURL:  cfg.CallbackURL("/api/v1/calls/transcribe"),
			DefaultTimeout: cfg.Calls.GatherTimeout,
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	opts := routeOptions{
		authMW:   auth.RequireAccessToken(authManager),
		metrics:  reg,
		ready:    func(ctx context.Context) error { return utils.HealthCheck(ctx, db, 2*time.Second) },
		devLogin: !cfg.IsProduction() && cfg.App.Env != "staging",
	}
	if cfg.Twilio.ValidateSignature {
		opts.twilioMW = telephony.RequireTwilioSignature(cfg.Twilio.AuthToken, cfg.App.PublicBaseURL)
	}
	registerRoutes(r, h, opts)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Covers a turn queued behind another turn on the same call.
		WriteTimeout: 3 * cfg.Calls.TurnTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "signature_validation", cfg.Twilio.ValidateSignature)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// openAgents serves profiles from the seed file when one is configured,
// otherwise from the agent_profiles table.
func openAgents(cfg config.AgentsConfig, db *sql.DB, log *slog.Logger) (agents.Provider, error) {
	if cfg.SeedFile == "" {
		return agents.NewPostgresRepo(db), nil
	}
	repo := agents.NewMemoryRepo()
	n, err := repo.Seed(cfg.SeedFile)
	if err != nil {
		return nil, err
	}
	log.Info("agent profiles seeded", "file", cfg.SeedFile, "count", n)
	return repo, nil
}

func openPublisher(cfg config.MQTTConfig) (events.Publisher, error) {
	if cfg.Broker == "" {
		return events.NopPublisher{}, nil
	}
	return events.NewMQTTPublisher(events.MQTTOptions{
		Broker:   cfg.Broker,
		ClientID: cfg.ClientID,
		Username: cfg.Username,
		Password: cfg.Password,
		QoS:      1,
	})
}

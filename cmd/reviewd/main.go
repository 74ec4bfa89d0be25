package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"github.com/toolvet/toolvet/internal/analyzer"
	"github.com/toolvet/toolvet/internal/audit"
	"github.com/toolvet/toolvet/internal/decision"
	"github.com/toolvet/toolvet/internal/events"
	"github.com/toolvet/toolvet/internal/health"
	"github.com/toolvet/toolvet/internal/identity"
	"github.com/toolvet/toolvet/internal/knowledge"
	"github.com/toolvet/toolvet/internal/notify"
	"github.com/toolvet/toolvet/internal/operators"
	"github.com/toolvet/toolvet/internal/review/handler"
	"github.com/toolvet/toolvet/internal/review/orchestrator"
	"github.com/toolvet/toolvet/internal/review/store"
	"github.com/toolvet/toolvet/internal/signing"
	"github.com/toolvet/toolvet/internal/webhooks"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("reviewd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("reviewd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.issuer_url", "")
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("database.url", "")
	viper.SetDefault("auth.enabled", true)
	viper.SetDefault("auth.key_dir", "keys")
	viper.SetDefault("auth.token_ttl_seconds", 3600)
	viper.SetDefault("analysis.remote_endpoint", "")
	viper.SetDefault("analysis.token_url", "")
	viper.SetDefault("analysis.client_id", "")
	viper.SetDefault("analysis.client_secret", "")
	viper.SetDefault("analysis.scopes", []string{})
	viper.SetDefault("analysis.timeout", "2m")
	viper.SetDefault("analysis.max_concurrent", 4)
	viper.SetDefault("analysis.corpus_file", "")
	viper.SetDefault("review.human_timeout", "24h")
	viper.SetDefault("review.auto_approve_threshold", 0.25)
	viper.SetDefault("review.auto_reject_threshold", 0.75)
	viper.SetDefault("review.require_human_for_high", true)
	viper.SetDefault("signing.endpoint", "")
	viper.SetDefault("signing.token", "")
	viper.SetDefault("signing.public_key_url", "")
	viper.SetDefault("signing.max_retries", 3)
	viper.SetDefault("signing.attempt_timeout", "30s")
	viper.SetDefault("signing.backoff_base", "2s")
	viper.SetDefault("signing.backoff_cap", "30s")
	viper.SetDefault("email.smtp_host", "")
	viper.SetDefault("email.smtp_port", 587)
	viper.SetDefault("email.smtp_username", "")
	viper.SetDefault("email.smtp_password", "")
	viper.SetDefault("email.from_address", "reviews@toolvet.dev")
	viper.SetDefault("events.clickhouse_dsn", "")
	viper.SetDefault("health.check_interval", "5m")
	viper.SetDefault("health.fail_threshold", 3)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Storage ──────────────────────────────────────────────────────────────
	var (
		sessions store.SessionStore
		ledger   audit.Ledger
		opRepo   operators.Repository
		whRepo   webhooks.Repository
	)
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		sessions = store.NewPostgresStore(db)
		ledger = audit.NewPostgres(db, logger)
		opRepo = operators.NewPostgresRepository(db)
		whRepo = webhooks.NewPostgresRepository(db)
	} else {
		logger.Warn("no database configured; running with in-memory stores, all state is lost on restart")
		sessions = store.NewMemoryStore()
		ledger = audit.New()
		opRepo = operators.NewMemoryRepository()
		whRepo = webhooks.NewMemoryRepository()
	}

	// ── Audit Ledger ─────────────────────────────────────────────────────────
	startCtx := context.Background()
	if err := ledger.Verify(startCtx); err != nil {
		logger.Warn("audit ledger integrity check FAILED", zap.Error(err))
	} else {
		n, _ := ledger.Len(startCtx)
		root, _ := ledger.Root(startCtx)
		logger.Info("audit ledger verified",
			zap.Int("entries", n),
			zap.String("root", root),
		)
	}

	// ── Identity (token issuer) ──────────────────────────────────────────────
	httpPort := viper.GetInt("server.port")
	issuerURL := viper.GetString("server.issuer_url")
	if issuerURL == "" {
		issuerURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}

	var tokens *identity.TokenIssuer
	if viper.GetBool("auth.enabled") {
		keyDir := viper.GetString("auth.key_dir")
		key, err := identity.LoadOrCreateSigningKey(keyDir)
		if err != nil {
			return fmt.Errorf("signing key setup: %w", err)
		}
		tokenTTL := time.Duration(viper.GetInt("auth.token_ttl_seconds")) * time.Second
		tokens = identity.NewTokenIssuer(key, issuerURL, tokenTTL)
		logger.Info("token auth enabled", zap.String("key_dir", keyDir), zap.String("issuer", issuerURL))
	} else {
		logger.Warn("token auth DISABLED, all endpoints are open; do not use in production")
	}

	// ── Operators + Notifications ────────────────────────────────────────────
	opSvc := operators.NewService(opRepo, logger)

	var mailer notify.Sender
	if smtpHost := viper.GetString("email.smtp_host"); smtpHost != "" {
		mailer = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     smtpHost,
			Port:     viper.GetInt("email.smtp_port"),
			Username: viper.GetString("email.smtp_username"),
			Password: viper.GetString("email.smtp_password"),
			From:     viper.GetString("email.from_address"),
		})
		logger.Info("SMTP reviewer notifications configured", zap.String("host", smtpHost))
	} else {
		mailer = notify.NewNoopSender(logger)
		logger.Info("reviewer notifications: noop (set email.smtp_host to enable SMTP)")
	}
	notifier := notify.NewReviewerNotifier(mailer, opSvc, issuerURL, logger)

	// ── Analyzer ─────────────────────────────────────────────────────────────
	var securityAnalyzer orchestrator.SecurityAnalyzer
	var remoteAnalyzer *analyzer.RemoteAnalyzer
	if endpoint := viper.GetString("analysis.remote_endpoint"); endpoint != "" {
		remoteAnalyzer = analyzer.NewRemote(analyzer.RemoteConfig{
			Endpoint:     endpoint,
			TokenURL:     viper.GetString("analysis.token_url"),
			ClientID:     viper.GetString("analysis.client_id"),
			ClientSecret: viper.GetString("analysis.client_secret"),
			Scopes:       viper.GetStringSlice("analysis.scopes"),
		}, logger)
		securityAnalyzer = remoteAnalyzer
		logger.Info("analysis: remote service", zap.String("endpoint", endpoint))
	} else {
		kb := knowledge.Builtin()
		if corpusFile := viper.GetString("analysis.corpus_file"); corpusFile != "" {
			if err := kb.LoadFromFile(corpusFile); err != nil {
				return fmt.Errorf("load corpus %s: %w", corpusFile, err)
			}
			logger.Info("loaded extra corpus", zap.String("file", corpusFile))
		}
		securityAnalyzer = analyzer.NewKnowledgeAnalyzer(kb)
		logger.Info("analysis: in-process knowledge base", zap.String("corpus", kb.Stats().Describe()))
	}

	// ── Signer ───────────────────────────────────────────────────────────────
	var signer signing.Signer
	signEndpoint := viper.GetString("signing.endpoint")
	if signEndpoint != "" {
		signer = signing.NewHTTPSigner(signEndpoint, viper.GetString("signing.token"), nil)
		logger.Info("signing: remote schema-pin service", zap.String("endpoint", signEndpoint))
	} else {
		local, err := signing.NewLocalSigner(viper.GetString("signing.public_key_url"))
		if err != nil {
			return fmt.Errorf("local signer setup: %w", err)
		}
		signer = local
		logger.Warn("signing: local ephemeral key; set signing.endpoint for production",
			zap.String("key_id", local.KeyID()),
		)
	}

	// ── Workflow Engine ──────────────────────────────────────────────────────
	engineCfg := orchestrator.DefaultConfig()
	engineCfg.Gate = decision.Config{
		AutoApproveThreshold:          viper.GetFloat64("review.auto_approve_threshold"),
		AutoRejectThreshold:           viper.GetFloat64("review.auto_reject_threshold"),
		RequireHumanReviewForHighRisk: viper.GetBool("review.require_human_for_high"),
	}
	engineCfg.Signing = signing.Config{
		MaxRetries:     viper.GetInt("signing.max_retries"),
		AttemptTimeout: viper.GetDuration("signing.attempt_timeout"),
		BackoffBase:    viper.GetDuration("signing.backoff_base"),
		BackoffCap:     viper.GetDuration("signing.backoff_cap"),
	}
	engineCfg.AnalysisTimeout = viper.GetDuration("analysis.timeout")
	engineCfg.HumanReviewTimeout = viper.GetDuration("review.human_timeout")
	engineCfg.MaxConcurrentAnalyses = viper.GetInt64("analysis.max_concurrent")

	engine, err := orchestrator.New(engineCfg, orchestrator.Deps{
		Analyzer: securityAnalyzer,
		Signer:   signer,
		Store:    sessions,
		Ledger:   ledger,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("workflow engine: %w", err)
	}

	// ── Event Handlers ───────────────────────────────────────────────────────
	engine.AddEventHandler(events.NewLogHandler(logger))

	whSvc := webhooks.NewService(whRepo, logger)
	whSvc.SetMetricsRecorder(handler.RecordWebhookDelivery)
	engine.AddEventHandler(whSvc)

	var archiver *events.Archiver
	if dsn := viper.GetString("events.clickhouse_dsn"); dsn != "" {
		archiver, err = events.NewArchiver(dsn, logger)
		if err != nil {
			return fmt.Errorf("clickhouse archiver: %w", err)
		}
		engine.AddEventHandler(archiver)
		logger.Info("event archive: clickhouse")
	}

	// ── Dependency Health Checks ─────────────────────────────────────────────
	var targets []health.Target
	if remoteAnalyzer != nil {
		targets = append(targets, health.Target{Name: "analyzer", URL: remoteAnalyzer.Endpoint()})
	}
	if signEndpoint != "" {
		targets = append(targets, health.Target{Name: "signer", URL: signEndpoint})
	}

	healthCtx, healthCancel := context.WithCancel(context.Background())
	defer healthCancel()

	var checker *health.Checker
	if len(targets) > 0 {
		checker = health.New(targets, health.Config{
			CheckInterval: viper.GetDuration("health.check_interval"),
			FailThreshold: viper.GetInt("health.fail_threshold"),
		}, logger)
		checker.SetRecorder(handler.RecordHealthCheck)
		go checker.Start(healthCtx)
	}

	// ── HTTP Handlers ────────────────────────────────────────────────────────
	reviewHandler := handler.NewReviewHandler(engine, tokens, logger)
	authHandler := handler.NewAuthHandler(opSvc, tokens, logger)
	auditHandler := handler.NewAuditHandler(ledger, tokens, logger)
	wkHandler := handler.NewWellKnownHandler(tokens, issuerURL)

	var whHandler *webhooks.Handler
	if tokens != nil {
		whHandler = webhooks.NewHandler(whSvc, tokens, logger)
	} else {
		logger.Warn("webhook management API disabled: it requires token auth")
	}

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS
	corsOrigins := viper.GetStringSlice("server.cors_origins")
	corsConfig := cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	// Per-IP rate limiting
	rps := viper.GetInt("server.rate_limit_rps")
	if rps > 0 {
		router.Use(handler.RateLimiter(tokens, rps, rps*2))
	}

	router.Use(requestLogger(logger))
	router.Use(handler.PrometheusMiddleware())

	// Health and metrics (public, no auth)
	router.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{"status": "ok"}
		if checker != nil {
			body["dependencies"] = checker.Snapshot()
			if !checker.Healthy() {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		c.JSON(status, body)
	})
	router.GET("/metrics", handler.MetricsHandler())

	// Verification key discovery (public)
	router.GET("/.well-known/toolvet-key.json", wkHandler.ServeKey)

	// API v1
	v1 := router.Group("/api/v1")
	reviewHandler.Register(v1)
	authHandler.Register(v1)
	auditHandler.Register(v1)
	if whHandler != nil {
		whHandler.Register(v1)
	}

	// ── Serve ────────────────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("reviewd HTTP listening", zap.Int("port", httpPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down reviewd...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	healthCancel()
	engine.Close()
	if archiver != nil {
		archiver.Close()
	}

	logger.Info("reviewd stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quocanhngo/fleetwatch/internal/channel"
	"github.com/quocanhngo/fleetwatch/internal/config"
	"github.com/quocanhngo/fleetwatch/internal/handler"
	"github.com/quocanhngo/fleetwatch/internal/mapview"
	"github.com/quocanhngo/fleetwatch/internal/middleware"
	"github.com/quocanhngo/fleetwatch/internal/publisher"
	"github.com/quocanhngo/fleetwatch/internal/repository"
	"github.com/quocanhngo/fleetwatch/internal/restapi"
	"github.com/quocanhngo/fleetwatch/internal/service"
	"github.com/quocanhngo/fleetwatch/internal/telemetry"
	"github.com/quocanhngo/fleetwatch/internal/ws"
	"github.com/quocanhngo/fleetwatch/migrations"
	"github.com/quocanhngo/fleetwatch/pkg/auth"
	"github.com/quocanhngo/fleetwatch/pkg/mailer"
	"github.com/quocanhngo/fleetwatch/pkg/notification"
	"github.com/quocanhngo/fleetwatch/pkg/storage"
)

// @title           Fleetwatch Agent API
// @version         1.0
// @description     Operator dashboard for a fleetwatch tracker agent session.

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// alert log rows older than this are purged at startup
const journalRetention = 30 * 24 * time.Hour

func main() {
	// ==================== Load Config ====================
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("starting fleetwatch agent", "env", cfg.App.Env)

	if err := run(cfg, logger); err != nil {
		logger.Error("agent stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ==================== Journal (SQLite / PostgreSQL) ====================
	journal, err := openJournal(cfg, logger)
	if err != nil {
		return err
	}
	if n, err := journal.PurgeBefore(time.Now().Add(-journalRetention)); err != nil {
		logger.Warn("failed to purge alert log", "error", err)
	} else if n > 0 {
		logger.Info("purged old alert log rows", "rows", n)
	}

	// ==================== Redis (optional) ====================
	var rdb *redis.Client
	var revocations auth.RevocationList = auth.NewMemoryRevocations()
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rdb.Close()
		revocations = auth.NewRedisRevocations(rdb)
		logger.Info("connected to redis", "addr", cfg.Redis.Addr())
	}

	// ==================== Metrics ====================
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := telemetry.NewMetrics(registry)
	if err != nil {
		return err
	}

	// ==================== Upstream credential ====================
	backend := restapi.New(cfg.Upstream.BaseURL, cfg.Upstream.Timeout, metrics, logger)
	cred, deviceID, err := upstreamCredential(ctx, cfg, backend)
	if err != nil {
		return err
	}
	backend.SetToken(cred.Token)
	logger.Info("upstream credential ready", "account", cred.Account, "device_id", deviceID, "expires_at", cred.ExpiresAt)

	// ==================== Channel + position source ====================
	transport, err := newTransport(cfg)
	if err != nil {
		return err
	}
	source, err := newSource(cfg)
	if err != nil {
		return err
	}

	// ==================== Notifiers ====================
	var notifiers []service.Notifier
	if pusher := notification.NewAnomalyPusher(cfg.Firebase.CredentialsFile, cfg.Firebase.OperatorTokens, logger); pusher != nil {
		notifiers = append(notifiers, pusher)
	}
	if mail := mailer.New(mailer.Config{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		Username:   cfg.SMTP.Username,
		Password:   cfg.SMTP.Password,
		From:       cfg.SMTP.From,
		FromName:   cfg.SMTP.FromName,
		Recipients: cfg.SMTP.Recipients,
	}, logger); mail != nil {
		notifiers = append(notifiers, mail)
	}

	// ==================== Report archive (MinIO, optional) ====================
	var archive storage.Archive
	if cfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIO(ctx, storage.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		}, logger)
		if err != nil {
			logger.Warn("minio not available, report archive disabled", "error", err)
		} else {
			archive = minioStorage
			logger.Info("connected to minio", "bucket", cfg.MinIO.Bucket)
		}
	}

	// ==================== Dashboard hub ====================
	hub := ws.NewHub(rdb, logger)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	// ==================== Session ====================
	session, err := service.NewSession(service.Options{
		Credential: cred,
		DeviceID:   deviceID,
		Backend:    backend,
		Transport:  transport,
		ChannelConfig: channel.Config{
			MaxRetries:       cfg.Channel.MaxRetries,
			RetryInterval:    cfg.Channel.RetryInterval,
			HandshakeTimeout: cfg.Channel.HandshakeTimeout,
		},
		Source:            source,
		Journal:           journal,
		Archive:           archive,
		Notifiers:         notifiers,
		Broadcaster:       hub,
		Scene:             mapview.NewScene(cfg.Map.Width, cfg.Map.Height),
		AutoStartTracking: cfg.Tracking.AutoStart,
		StaleAfter:        cfg.Session.StaleAfter,
		RosterRefresh:     cfg.Session.RosterRefresh,
		NoticeTTL:         cfg.Session.NoticeTTL,
		AlertCapacity:     cfg.Session.AlertCapacity,
		Metrics:           metrics,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	sessionErr := make(chan error, 1)
	go func() { sessionErr <- session.Run(ctx) }()

	// ==================== Operator auth ====================
	if cfg.Operator.PasswordHash == "" {
		logger.Warn("OPERATOR_PASSWORD_HASH not set, dashboard login disabled (use cmd/operator hash)")
	}
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry)
	operatorAuth := service.NewOperatorAuth(cfg.Operator.Email, cfg.Operator.PasswordHash, jwtManager, revocations)

	// ==================== Gin Router ====================
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	// Serve swagger.json at /docs/swagger.json to avoid conflict with /swagger/* wildcard
	router.StaticFile("/docs/swagger.json", "./docs/swagger.json")
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/docs/swagger.json")))

	router.Use(middleware.CORSMiddleware(cfg.CORS.Origins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"service":  "fleetwatch-agent",
			"account":  session.Account(),
			"session":  session.SessionKey().String(),
			"channel":  session.Status().Connection,
			"tracking": session.Status().Tracking,
			"time":     time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	handler.Routes{
		Auth:          handler.NewAuthHandler(operatorAuth),
		Dashboard:     handler.NewDashboardHandler(session),
		WS:            handler.NewWSHandler(hub, session, operatorAuth, logger),
		Authenticator: operatorAuth,
	}.Register(router)

	// ==================== Start Server ====================
	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("dashboard api listening",
		"addr", "http://0.0.0.0:"+cfg.App.Port,
		"docs", "/swagger/index.html",
		"ws", "/ws?token=<operator_token>",
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-sessionErr:
		logger.Warn("session ended", "error", runErr)
	case runErr = <-serverErr:
		logger.Error("server failed", "error", runErr)
	}
	stop()

	// Give ongoing requests 5 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", "error", err)
	}

	<-session.Done()
	hubCancel()
	logger.Info("agent exited")
	return runErr
}

func openJournal(cfg *config.Config, logger *slog.Logger) (*repository.JournalRepository, error) {
	gormLogger := gormlogger.Default.LogMode(gormlogger.Info)
	if cfg.App.Env == "production" {
		gormLogger = gormlogger.Default.LogMode(gormlogger.Warn)
	}
	gormCfg := &gorm.Config{Logger: gormLogger}

	switch cfg.DB.Driver {
	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		journal := repository.NewJournalRepository(db)
		if err := migrations.Run(cfg.DB.URL(), logger); err != nil {
			logger.Warn("migration failed, falling back to gorm automigrate", "error", err)
			if err := journal.AutoMigrate(); err != nil {
				return nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		logger.Info("journal ready", "driver", "postgres", "host", cfg.DB.Host)
		return journal, nil

	case "sqlite", "":
		db, err := gorm.Open(sqlite.Open(cfg.DB.SQLitePath), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite journal: %w", err)
		}
		journal := repository.NewJournalRepository(db)
		if err := journal.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("journal ready", "driver", "sqlite", "path", cfg.DB.SQLitePath)
		return journal, nil

	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DB.Driver)
	}
}

// upstreamCredential uses UPSTREAM_TOKEN when set, otherwise logs in with
// the configured account. DEVICE_ID overrides the device id the backend hands
// out at login.
func upstreamCredential(ctx context.Context, cfg *config.Config, backend *restapi.Client) (auth.Credential, string, error) {
	token := cfg.Upstream.Token
	deviceID := cfg.Tracking.DeviceID

	if token == "" {
		if cfg.Upstream.Email == "" || cfg.Upstream.Password == "" {
			return auth.Credential{}, "", auth.ErrMissingCredential
		}
		res, err := backend.Login(ctx, cfg.Upstream.Email, cfg.Upstream.Password)
		if err != nil {
			return auth.Credential{}, "", fmt.Errorf("upstream login failed: %w", err)
		}
		token = res.Token
		if deviceID == "" {
			deviceID = res.DeviceID
		}
	}

	cred, err := auth.ParseCredential(token)
	if err != nil {
		return auth.Credential{}, "", err
	}
	return cred, deviceID, nil
}

func newTransport(cfg *config.Config) (channel.Transport, error) {
	switch cfg.Channel.Transport {
	case "websocket", "":
		return channel.NewWebSocketTransport(cfg.Channel.URL, cfg.Channel.HandshakeTimeout), nil
	case "mqtt":
		return channel.NewMQTTTransport(cfg.Channel.MQTTBroker, cfg.Channel.HandshakeTimeout), nil
	default:
		return nil, fmt.Errorf("unknown CHANNEL_TRANSPORT %q", cfg.Channel.Transport)
	}
}

// newSource returns a nil Source for "none"; tracking then reports the
// capability as unavailable.
func newSource(cfg *config.Config) (publisher.Source, error) {
	switch cfg.Tracking.Source {
	case "none", "":
		return nil, nil
	case "static":
		return publisher.NewStaticSource(cfg.Tracking.Latitude, cfg.Tracking.Longitude, cfg.Tracking.Accuracy, cfg.Tracking.Interval), nil
	case "replay":
		track, err := publisher.LoadTrack(cfg.Tracking.ReplayFile)
		if err != nil {
			return nil, err
		}
		return publisher.NewReplaySource(track), nil
	default:
		return nil, fmt.Errorf("unknown TRACKING_SOURCE %q", cfg.Tracking.Source)
	}
}

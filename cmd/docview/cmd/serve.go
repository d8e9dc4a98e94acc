package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/docview/internal/api/handlers"
	"github.com/bigkaa/docview/internal/api/middleware"
	"github.com/bigkaa/docview/internal/config"
	"github.com/bigkaa/docview/internal/database"
	"github.com/bigkaa/docview/internal/domain/role"
	"github.com/bigkaa/docview/internal/ledger/redisledger"
	"github.com/bigkaa/docview/internal/mailer"
	"github.com/bigkaa/docview/internal/objectstore"
	"github.com/bigkaa/docview/internal/repository"
	"github.com/bigkaa/docview/internal/server"
	"github.com/bigkaa/docview/internal/service"
	"github.com/bigkaa/docview/internal/session"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP-сервер",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "не применять миграции при старте")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("загрузка конфигурации: %w", err)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("docview запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("otp_ledger", cfg.OTPLedger),
	)

	if os.Getenv("DV_DEPHEALTH_GROUP") == "" {
		logger.Warn("DV_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	if !skipMigrations {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			return fmt.Errorf("миграции БД: %w", err)
		}
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("подключение к PostgreSQL: %w", err)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	identityRepo := repository.NewIdentityRepository(pool)
	documentRepo := repository.NewDocumentRepository(pool)
	pendingRepo := repository.NewPendingOTPRepository(pool)

	// 6. Журнал OTP: PostgreSQL (с фоновой очисткой) или Redis (TTL ключей)
	var (
		ledger      service.OTPLedger
		redisPinger handlers.Pinger
		sweeper     *service.OTPSweeper
	)
	switch cfg.OTPLedger {
	case config.LedgerRedis:
		rl, err := redisledger.New(ctx, redisledger.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			return fmt.Errorf("подключение к Redis: %w", err)
		}
		defer rl.Close()
		ledger = rl
		redisPinger = rl
	default:
		ledger = pendingRepo
		sweeper = service.NewOTPSweeper(pendingRepo, cfg.OTPGCInterval, logger)
	}

	// 7. Объектное хранилище
	store, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	}, logger)
	if err != nil {
		return fmt.Errorf("создание клиента объектного хранилища: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("проверка бакета %s: %w", cfg.S3Bucket, err)
	}

	// 8. Доставка кодов
	var sender service.Mailer
	if cfg.SMTPEnabled() {
		smtp, err := mailer.NewSMTPSender(mailer.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, logger)
		if err != nil {
			return fmt.Errorf("настройка SMTP: %w", err)
		}
		sender = smtp
	} else {
		logger.Warn("DV_SMTP_HOST не задан, коды будут только записываться в лог")
		sender = mailer.NewLogSender(logger)
	}

	// 9. Сессионные токены
	key, err := session.LoadOrGenerateKey(cfg.JWTPrivateKeyPath, logger)
	if err != nil {
		return fmt.Errorf("ключ подписи: %w", err)
	}
	issuer, err := session.NewIssuer(ctx, key, cfg.JWTIssuer, cfg.SessionTTL, logger)
	if err != nil {
		return fmt.Errorf("создание издателя токенов: %w", err)
	}
	kf, err := issuer.Keyfunc()
	if err != nil {
		return fmt.Errorf("создание keyfunc: %w", err)
	}

	// 10. Services
	authSvc := service.NewAuthService(identityRepo, ledger, sender, issuer, service.AuthConfig{
		AdminEmail:     role.NormalizeEmail(cfg.AdminEmail),
		CodeTTL:        cfg.OTPTTL,
		ResendInterval: cfg.OTPResendInterval,
		MaxAttempts:    cfg.OTPMaxAttempts,
	}, logger)
	cache := service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)
	docSvc := service.NewDocumentService(documentRepo, store, cache, cfg.UploadMaxBytes, cfg.DeleteObjects, logger)
	streamSvc := service.NewStreamService(docSvc, store, logger)

	// 11. Handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), redisPinger, store)
	apiHandler := handlers.NewAPIHandler(authSvc, docSvc, streamSvc, healthHandler, cfg.UploadMaxBytes, logger)

	// 12. Фоновые задачи
	if sweeper != nil {
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:      "docview",
		Group:          cfg.DephealthGroup,
		DB:             pgDB,
		PgURL:          cfg.DatabaseURL(),
		ObjectStoreURL: cfg.ObjectStoreURL(),
		CheckInterval:  cfg.DephealthCheckInterval,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
	} else {
		defer dephealthSvc.Stop()
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 13. HTTP-сервер
	srv := server.New(cfg, logger, server.Deps{
		API:         apiHandler,
		Auth:        middleware.NewSessionAuth(kf, issuer.IssuerName(), cfg.JWTLeeway, logger),
		VerifyLimit: middleware.NewRateLimiter(cfg.VerifyRateLimit, logger),
		JWKS:        issuer.JWKSHandler(),
	})

	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("docview остановлен")
	return nil
}

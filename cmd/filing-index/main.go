// Точка входа Filing Index — сервис обнаружения и постановки в обработку
// регуляторных отчётностей Companies House и FCA.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт клиенты реестров и менеджер очередей, запускает планировщик
// периодических задач, topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/filingindex/internal/api/handlers"
	"github.com/bigkaa/filingindex/internal/chclient"
	"github.com/bigkaa/filingindex/internal/config"
	"github.com/bigkaa/filingindex/internal/database"
	"github.com/bigkaa/filingindex/internal/fcaclient"
	"github.com/bigkaa/filingindex/internal/queue"
	"github.com/bigkaa/filingindex/internal/repository"
	"github.com/bigkaa/filingindex/internal/server"
	"github.com/bigkaa/filingindex/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Filing Index запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("FI_DEPHEALTH_GROUP") == "" {
		logger.Warn("FI_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Клиенты реестров
	streamClient := chclient.NewStreamClient(cfg.CHStreamURL, cfg.CHStreamAPIKey, logger)
	docClient := chclient.NewClient(cfg.CHInformationURL, cfg.CHDocumentURL, cfg.CHRESTAPIKey, cfg.DocCacheSize, cfg.DocCacheTTL, logger)
	historyClient := chclient.NewHistoryClient(cfg.CHHistoryURL, logger)
	fcaClient := fcaclient.NewClient(cfg.FCASearchURL, cfg.FCADataURL, logger)

	// 6. Менеджер очередей NATS JetStream
	queueMgr, err := queue.NewManager(queue.Config{
		URL:             cfg.NATSURL,
		JobsStream:      cfg.JobsStream,
		JobsSubject:     cfg.JobsSubject,
		ResultsStream:   cfg.ResultsStream,
		ResultsSubject:  cfg.ResultsSubject,
		ResultsConsumer: cfg.ResultsConsumer,
	}, logger)
	if err != nil {
		logger.Error("Ошибка подключения к NATS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer queueMgr.Close()

	if err := queueMgr.EnsureStreams(ctx); err != nil {
		logger.Error("Ошибка создания JetStream-стримов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Repositories
	filingRepo := repository.NewFilingRepository(pool)
	companyRepo := repository.NewCompanyRepository(pool)
	archiveRepo := repository.NewArchiveRepository(pool)

	// 8. Оркестратор индексации
	indexer := service.NewIndexer(
		service.Config{
			FilingLimitCH:  cfg.FilingLimitCH,
			FilingLimitFCA: cfg.FilingLimitFCA,
			FCAPastDays:    cfg.FCAPastDays,
		},
		streamClient,
		docClient,
		historyClient,
		fcaClient,
		queueMgr,
		filingRepo,
		companyRepo,
		archiveRepo,
		logger,
	)

	// 9. Планировщик периодических задач.
	// Поток CH блокируется на всё время жизни соединения и получает
	// выделенную полосу; остальные задачи делят ограниченный пул.
	scheduler := service.NewScheduler([]service.Task{
		{
			Name:      "ch-stream",
			Interval:  cfg.StreamRetryCooldown,
			Dedicated: true,
			Run:       indexer.RunStreamCycle,
		},
		{
			Name:     "ch-archives",
			Interval: cfg.ArchiveInterval,
			Run:      indexer.RunArchiveCycle,
		},
		{
			Name:     "fca-poll",
			Interval: cfg.FCAInterval,
			Run:      indexer.RunFCACycle,
		},
		{
			Name:     "job-dispatch",
			Interval: cfg.DispatchInterval,
			Run:      indexer.RunDispatchCycle,
		},
		{
			Name:     "result-reconcile",
			Interval: cfg.ReconcileInterval,
			Run:      indexer.RunReconcileCycle,
		},
	}, logger)
	scheduler.Start(ctx)

	// 10. topologymetrics — мониторинг зависимостей (PostgreSQL + NATS + CH API)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"filing-index",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.NATSMonitorURL,
		cfg.CHInformationURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 11. Health и status handlers
	pgChecker := database.NewReadinessChecker(pool)
	natsChecker := queueMgr.NewReadinessChecker()
	healthHandler := handlers.NewHealthHandler(pgChecker, natsChecker)
	statusHandler := handlers.NewStatusHandler(indexer)

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, healthHandler, statusHandler)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	scheduler.Stop()

	logger.Info("Filing Index остановлен")
}

// Пакет config — загрузка и валидация конфигурации Filing Index
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Filing Index.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (health, metrics, статус индексатора)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- NATS (очереди заданий и результатов) ---

	// URL NATS-сервера (например, nats://nats:4222)
	NATSURL string
	// URL monitoring endpoint NATS (для dephealth, опционально)
	NATSMonitorURL string
	// Имя JetStream-стрима заданий
	JobsStream string
	// Subject для публикации заданий
	JobsSubject string
	// Имя JetStream-стрима результатов
	ResultsStream string
	// Subject результатов
	ResultsSubject string
	// Имя durable consumer результатов
	ResultsConsumer string

	// --- Companies House ---

	// Базовый URL streaming API (живой поток событий)
	CHStreamURL string
	// API-ключ streaming API (Basic auth: ключ как username, пустой пароль)
	CHStreamAPIKey string
	// Базовый URL information API (filing history)
	CHInformationURL string
	// Базовый URL document API (метаданные документов)
	CHDocumentURL string
	// API-ключ REST API (information + document)
	CHRESTAPIKey string
	// Базовый URL bulk-data сервиса (архивы компаний)
	CHHistoryURL string

	// --- FCA ---

	// URL search API National Storage Mechanism
	FCASearchURL string
	// Базовый URL data API (скачивание документов)
	FCADataURL string
	// Глубина первоначального охвата в днях (пол даты возобновления)
	FCAPastDays int

	// --- Квоты ---

	// Лимит отчётностей Companies House (0 — без ограничения)
	FilingLimitCH int
	// Лимит отчётностей FCA (0 — без ограничения)
	FilingLimitFCA int

	// --- Расписание ---

	// Пауза перед переоткрытием потока CH после разрыва соединения
	StreamRetryCooldown time.Duration
	// Интервал обработки bulk-архивов CH
	ArchiveInterval time.Duration
	// Интервал опроса FCA
	FCAInterval time.Duration
	// Интервал постановки заданий в очередь
	DispatchInterval time.Duration
	// Интервал обработки результатов из очереди
	ReconcileInterval time.Duration

	// --- Кэш документов ---

	// Максимальный размер LRU-кэша URL документов
	DocCacheSize int
	// TTL записи кэша URL документов
	DocCacheTTL time.Duration

	// --- topologymetrics ---

	// Имя группы в метриках dephealth
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// FI_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("FI_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FI_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FI_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// FI_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FI_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FI_LOG_LEVEL: %w", err)
	}

	// FI_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FI_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FI_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// FI_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("FI_DB_HOST")
	if err != nil {
		return nil, err
	}

	// FI_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("FI_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FI_DB_PORT: %w", err)
	}

	// FI_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("FI_DB_NAME")
	if err != nil {
		return nil, err
	}

	// FI_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("FI_DB_USER")
	if err != nil {
		return nil, err
	}

	// FI_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("FI_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// FI_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("FI_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("FI_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- NATS ---

	// FI_NATS_URL — обязательный
	cfg.NATSURL, err = getEnvRequired("FI_NATS_URL")
	if err != nil {
		return nil, err
	}

	// FI_NATS_MONITOR_URL — monitoring endpoint (опционально, для dephealth)
	cfg.NATSMonitorURL = getEnvDefault("FI_NATS_MONITOR_URL", "")

	// FI_JOBS_STREAM — стрим заданий (по умолчанию FILING_JOBS)
	cfg.JobsStream = getEnvDefault("FI_JOBS_STREAM", "FILING_JOBS")

	// FI_JOBS_SUBJECT — subject заданий (по умолчанию filings.jobs)
	cfg.JobsSubject = getEnvDefault("FI_JOBS_SUBJECT", "filings.jobs")

	// FI_RESULTS_STREAM — стрим результатов (по умолчанию FILING_RESULTS)
	cfg.ResultsStream = getEnvDefault("FI_RESULTS_STREAM", "FILING_RESULTS")

	// FI_RESULTS_SUBJECT — subject результатов (по умолчанию filings.results)
	cfg.ResultsSubject = getEnvDefault("FI_RESULTS_SUBJECT", "filings.results")

	// FI_RESULTS_CONSUMER — durable consumer результатов (по умолчанию filing-index)
	cfg.ResultsConsumer = getEnvDefault("FI_RESULTS_CONSUMER", "filing-index")

	// --- Companies House ---

	// FI_CH_STREAM_URL — обязательный
	cfg.CHStreamURL, err = getEnvRequired("FI_CH_STREAM_URL")
	if err != nil {
		return nil, err
	}
	cfg.CHStreamURL = strings.TrimRight(cfg.CHStreamURL, "/")

	// FI_CH_STREAM_API_KEY — обязательный
	cfg.CHStreamAPIKey, err = getEnvRequired("FI_CH_STREAM_API_KEY")
	if err != nil {
		return nil, err
	}

	// FI_CH_INFORMATION_URL — обязательный
	cfg.CHInformationURL, err = getEnvRequired("FI_CH_INFORMATION_URL")
	if err != nil {
		return nil, err
	}
	cfg.CHInformationURL = strings.TrimRight(cfg.CHInformationURL, "/")

	// FI_CH_DOCUMENT_URL — обязательный
	cfg.CHDocumentURL, err = getEnvRequired("FI_CH_DOCUMENT_URL")
	if err != nil {
		return nil, err
	}
	cfg.CHDocumentURL = strings.TrimRight(cfg.CHDocumentURL, "/")

	// FI_CH_REST_API_KEY — обязательный
	cfg.CHRESTAPIKey, err = getEnvRequired("FI_CH_REST_API_KEY")
	if err != nil {
		return nil, err
	}

	// FI_CH_HISTORY_URL — обязательный
	cfg.CHHistoryURL, err = getEnvRequired("FI_CH_HISTORY_URL")
	if err != nil {
		return nil, err
	}
	cfg.CHHistoryURL = strings.TrimRight(cfg.CHHistoryURL, "/")

	// --- FCA ---

	// FI_FCA_SEARCH_URL — обязательный
	cfg.FCASearchURL, err = getEnvRequired("FI_FCA_SEARCH_URL")
	if err != nil {
		return nil, err
	}

	// FI_FCA_DATA_URL — обязательный
	cfg.FCADataURL, err = getEnvRequired("FI_FCA_DATA_URL")
	if err != nil {
		return nil, err
	}
	cfg.FCADataURL = strings.TrimRight(cfg.FCADataURL, "/")

	// FI_FCA_PAST_DAYS — глубина первоначального охвата (по умолчанию 30)
	cfg.FCAPastDays, err = getEnvInt("FI_FCA_PAST_DAYS", 30)
	if err != nil {
		return nil, fmt.Errorf("FI_FCA_PAST_DAYS: %w", err)
	}
	if cfg.FCAPastDays < 1 {
		return nil, fmt.Errorf("FI_FCA_PAST_DAYS: значение %d должно быть положительным", cfg.FCAPastDays)
	}

	// --- Квоты ---

	// FI_FILING_LIMIT_CH — лимит отчётностей CH (по умолчанию 0 — без ограничения)
	cfg.FilingLimitCH, err = getEnvInt("FI_FILING_LIMIT_CH", 0)
	if err != nil {
		return nil, fmt.Errorf("FI_FILING_LIMIT_CH: %w", err)
	}

	// FI_FILING_LIMIT_FCA — лимит отчётностей FCA (по умолчанию 0 — без ограничения)
	cfg.FilingLimitFCA, err = getEnvInt("FI_FILING_LIMIT_FCA", 0)
	if err != nil {
		return nil, fmt.Errorf("FI_FILING_LIMIT_FCA: %w", err)
	}

	// --- Расписание ---

	// FI_STREAM_RETRY_COOLDOWN — пауза перед переоткрытием потока (по умолчанию 60s)
	cfg.StreamRetryCooldown, err = getEnvDuration("FI_STREAM_RETRY_COOLDOWN", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FI_STREAM_RETRY_COOLDOWN: %w", err)
	}

	// FI_ARCHIVE_INTERVAL — интервал обработки архивов (по умолчанию 30m)
	cfg.ArchiveInterval, err = getEnvDuration("FI_ARCHIVE_INTERVAL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FI_ARCHIVE_INTERVAL: %w", err)
	}

	// FI_FCA_INTERVAL — интервал опроса FCA (по умолчанию 1h)
	cfg.FCAInterval, err = getEnvDuration("FI_FCA_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FI_FCA_INTERVAL: %w", err)
	}

	// FI_DISPATCH_INTERVAL — интервал постановки заданий (по умолчанию 20s)
	cfg.DispatchInterval, err = getEnvDuration("FI_DISPATCH_INTERVAL", 20*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FI_DISPATCH_INTERVAL: %w", err)
	}

	// FI_RECONCILE_INTERVAL — интервал обработки результатов (по умолчанию 20s)
	cfg.ReconcileInterval, err = getEnvDuration("FI_RECONCILE_INTERVAL", 20*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FI_RECONCILE_INTERVAL: %w", err)
	}

	// --- Кэш документов ---

	// FI_DOC_CACHE_SIZE — размер LRU-кэша (по умолчанию 1024)
	cfg.DocCacheSize, err = getEnvInt("FI_DOC_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("FI_DOC_CACHE_SIZE: %w", err)
	}
	if cfg.DocCacheSize < 1 {
		return nil, fmt.Errorf("FI_DOC_CACHE_SIZE: значение %d должно быть положительным", cfg.DocCacheSize)
	}

	// FI_DOC_CACHE_TTL — TTL записи кэша (по умолчанию 30m)
	cfg.DocCacheTTL, err = getEnvDuration("FI_DOC_CACHE_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FI_DOC_CACHE_TTL: %w", err)
	}

	// --- topologymetrics ---

	// FI_DEPHEALTH_GROUP — группа dephealth (по умолчанию filing-index)
	cfg.DephealthGroup = getEnvDefault("FI_DEPHEALTH_GROUP", "filing-index")

	// FI_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("FI_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FI_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// FI_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("FI_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FI_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseMigrateURL возвращает URL подключения для golang-migrate:
// тот же DatabaseURL, но со схемой pgx5.
func (c *Config) DatabaseMigrateURL() string {
	return "pgx5" + strings.TrimPrefix(c.DatabaseURL(), "postgres")
}

// DatabaseURL возвращает URL подключения к PostgreSQL
// (для лейблов dephealth, не для подключения).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

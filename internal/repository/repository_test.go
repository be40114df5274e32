package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/filingindex/internal/config"
	"github.com/bigkaa/filingindex/internal/database"
	"github.com/bigkaa/filingindex/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool и функцию очистки.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("filingindex_test"),
		postgres.WithUsername("filingindex"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	os.Setenv("FI_DB_HOST", host)
	os.Setenv("FI_DB_PORT", port.Port())
	os.Setenv("FI_DB_NAME", "filingindex_test")
	os.Setenv("FI_DB_USER", "filingindex")
	os.Setenv("FI_DB_PASSWORD", "test-password")
	os.Setenv("FI_DB_SSL_MODE", "disable")
	os.Setenv("FI_NATS_URL", "nats://localhost:4222")
	os.Setenv("FI_CH_STREAM_URL", "https://stream.example.test")
	os.Setenv("FI_CH_STREAM_API_KEY", "stream-key")
	os.Setenv("FI_CH_INFORMATION_URL", "https://api.example.test")
	os.Setenv("FI_CH_DOCUMENT_URL", "https://document.example.test")
	os.Setenv("FI_CH_REST_API_KEY", "rest-key")
	os.Setenv("FI_CH_HISTORY_URL", "https://history.example.test")
	os.Setenv("FI_FCA_SEARCH_URL", "https://fca.example.test/search")
	os.Setenv("FI_FCA_DATA_URL", "https://fca-data.example.test")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	// Подключаемся
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// newFiling возвращает шаблон новой отчётности для тестов.
func newFiling(externalID, downloadURL string) *model.NewFiling {
	return &model.NewFiling{
		RegistryCode:     model.RegistryCompaniesHouse,
		ExternalFilingID: externalID,
		CompanyNumber:    "13056435",
		DownloadURL:      downloadURL,
	}
}

// --- Тесты FilingRepository ---

func TestFilingLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewFilingRepository(pool)

	name := "ACME LIMITED"
	view := "https://find-and-update.company-information.service.gov.uk/company/13056435/filing-history/tx1"
	date := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	timepoint := int64(101)
	f := newFiling("tx1", "https://document.example.test/doc/abc/content")
	f.CompanyName = &name
	f.ExternalViewURL = &view
	f.FilingDate = &date
	f.StreamTimepoint = &timepoint

	// Exists до создания
	exists, err := repo.Exists(ctx, f)
	if err != nil {
		t.Fatalf("Exists() ошибка: %v", err)
	}
	if exists {
		t.Error("Exists() = true до создания")
	}

	// Create
	filingID, err := repo.Create(ctx, f)
	if err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if filingID == uuid.Nil {
		t.Fatal("Create() вернул нулевой UUID")
	}

	// Exists после создания
	exists, _ = repo.Exists(ctx, f)
	if !exists {
		t.Error("Exists() = false после создания")
	}

	// GetByID
	got, err := repo.GetByID(ctx, filingID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status = %q, хотели pending", got.Status)
	}
	if got.CompanyName == nil || *got.CompanyName != name {
		t.Errorf("CompanyName = %v, хотели %q", got.CompanyName, name)
	}
	if got.StreamTimepoint == nil || *got.StreamTimepoint != 101 {
		t.Errorf("StreamTimepoint = %v, хотели 101", got.StreamTimepoint)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	// Повторный Create того же натурального ключа — ErrConflict
	if _, err := repo.Create(ctx, f); !errors.Is(err, ErrConflict) {
		t.Errorf("повторный Create: ожидали ErrConflict, получили %v", err)
	}

	// ListByStatus
	pending, err := repo.ListByStatus(ctx, model.StatusPending)
	if err != nil {
		t.Fatalf("ListByStatus() ошибка: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("ListByStatus(pending) вернул %d записей, хотели 1", len(pending))
	}

	// UpdateStatus pending → queued
	if err := repo.UpdateStatus(ctx, filingID, model.StatusQueued); err != nil {
		t.Fatalf("UpdateStatus(queued) ошибка: %v", err)
	}

	// Повторный перевод в queued — ErrSuperseded
	if err := repo.UpdateStatus(ctx, filingID, model.StatusQueued); !errors.Is(err, ErrSuperseded) {
		t.Errorf("повторный UpdateStatus(queued): ожидали ErrSuperseded, получили %v", err)
	}

	// ApplyResult — терминальный статус и payload
	docDate := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	result := &model.FilingResult{
		FilingID:         filingID,
		Success:          true,
		CompanyName:      "ACME LIMITED (UPDATED)",
		DocumentDate:     &docDate,
		ViewerEntrypoint: "reports/tx1/index.html",
		Logs:             "обработка завершена",
	}
	if err := repo.ApplyResult(ctx, result); err != nil {
		t.Fatalf("ApplyResult() ошибка: %v", err)
	}

	completed, _ := repo.GetByID(ctx, filingID)
	if completed.Status != model.StatusCompleted {
		t.Errorf("Status = %q, хотели completed", completed.Status)
	}
	if completed.ViewerEntrypoint == nil || *completed.ViewerEntrypoint != "reports/tx1/index.html" {
		t.Errorf("ViewerEntrypoint = %v", completed.ViewerEntrypoint)
	}
	if completed.DocumentDate == nil || !completed.DocumentDate.Equal(docDate) {
		t.Errorf("DocumentDate = %v, хотели %v", completed.DocumentDate, docDate)
	}
	if completed.CompanyName == nil || *completed.CompanyName != "ACME LIMITED (UPDATED)" {
		t.Errorf("CompanyName = %v", completed.CompanyName)
	}

	// Повторное применение к терминальной записи — ErrSuperseded
	if err := repo.ApplyResult(ctx, result); !errors.Is(err, ErrSuperseded) {
		t.Errorf("повторный ApplyResult: ожидали ErrSuperseded, получили %v", err)
	}

	// Перевод терминальной записи в queued — ErrSuperseded
	if err := repo.UpdateStatus(ctx, filingID, model.StatusQueued); !errors.Is(err, ErrSuperseded) {
		t.Errorf("UpdateStatus после терминала: ожидали ErrSuperseded, получили %v", err)
	}
}

func TestFilingCreate_SameExternalIDDifferentURL(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewFilingRepository(pool)

	// Одна транзакция CH может ссылаться на несколько документов:
	// каждый download URL — отдельная отчётность
	if _, err := repo.Create(ctx, newFiling("tx1", "https://document.example.test/doc/aaa/content")); err != nil {
		t.Fatalf("Create() первый URL: %v", err)
	}
	if _, err := repo.Create(ctx, newFiling("tx1", "https://document.example.test/doc/bbb/content")); err != nil {
		t.Fatalf("Create() второй URL: %v", err)
	}

	count, err := repo.CountByRegistry(ctx, model.RegistryCompaniesHouse)
	if err != nil {
		t.Fatalf("CountByRegistry() ошибка: %v", err)
	}
	if count != 2 {
		t.Errorf("CountByRegistry() = %d, хотели 2", count)
	}
}

func TestFilingNotFound(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewFilingRepository(pool)

	unknown := uuid.New()
	if _, err := repo.GetByID(ctx, unknown); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID: ожидали ErrNotFound, получили %v", err)
	}
	if err := repo.UpdateStatus(ctx, unknown, model.StatusQueued); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateStatus: ожидали ErrNotFound, получили %v", err)
	}
	if err := repo.ApplyResult(ctx, &model.FilingResult{FilingID: unknown, Success: true}); !errors.Is(err, ErrNotFound) {
		t.Errorf("ApplyResult: ожидали ErrNotFound, получили %v", err)
	}
}

func TestLatestStreamTimepoint(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewFilingRepository(pool)

	// Пустое хранилище — курсоров нет
	_, ok, err := repo.LatestStreamTimepoint(ctx, model.RegistryCompaniesHouse)
	if err != nil {
		t.Fatalf("LatestStreamTimepoint() ошибка: %v", err)
	}
	if ok {
		t.Error("ok = true при пустом хранилище")
	}

	for i, tp := range []int64{10, 25, 17} {
		f := newFiling("tx"+string(rune('a'+i)), "https://document.example.test/doc/"+string(rune('a'+i))+"/content")
		timepoint := tp
		f.StreamTimepoint = &timepoint
		if _, err := repo.Create(ctx, f); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
	}

	timepoint, ok, err := repo.LatestStreamTimepoint(ctx, model.RegistryCompaniesHouse)
	if err != nil {
		t.Fatalf("LatestStreamTimepoint() ошибка: %v", err)
	}
	if !ok || timepoint != 25 {
		t.Errorf("timepoint = %d, ok = %v; хотели 25, true", timepoint, ok)
	}

	// Курсор другого реестра не виден
	_, ok, _ = repo.LatestStreamTimepoint(ctx, model.RegistryFCA)
	if ok {
		t.Error("ok = true для реестра без курсоров")
	}
}

func TestLatestFilingDate(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewFilingRepository(pool)

	floor := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// Пустое хранилище — возвращается floor
	got, err := repo.LatestFilingDate(ctx, model.RegistryFCA, floor)
	if err != nil {
		t.Fatalf("LatestFilingDate() ошибка: %v", err)
	}
	if !got.Equal(floor) {
		t.Errorf("LatestFilingDate() = %v, хотели floor %v", got, floor)
	}

	// Дата раньше floor не поднимает границу
	oldDate := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	f1 := &model.NewFiling{
		RegistryCode:     model.RegistryFCA,
		ExternalFilingID: "seq-old",
		CompanyNumber:    "213800ABCDEFGH123456",
		DownloadURL:      "https://fca-data.example.test/doc/seq-old.pdf",
		FilingDate:       &oldDate,
	}
	if _, err := repo.Create(ctx, f1); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	got, _ = repo.LatestFilingDate(ctx, model.RegistryFCA, floor)
	if !got.Equal(floor) {
		t.Errorf("LatestFilingDate() = %v, хотели floor %v", got, floor)
	}

	// Дата новее floor становится границей
	newDate := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	f2 := &model.NewFiling{
		RegistryCode:     model.RegistryFCA,
		ExternalFilingID: "seq-new",
		CompanyNumber:    "213800ABCDEFGH123456",
		DownloadURL:      "https://fca-data.example.test/doc/seq-new.pdf",
		FilingDate:       &newDate,
	}
	if _, err := repo.Create(ctx, f2); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	got, _ = repo.LatestFilingDate(ctx, model.RegistryFCA, floor)
	if !got.Equal(newDate) {
		t.Errorf("LatestFilingDate() = %v, хотели %v", got, newDate)
	}
}

// --- Тесты CompanyRepository ---

func TestCompanyRepository(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewCompanyRepository(pool)

	exists, err := repo.Exists(ctx, "13056435")
	if err != nil {
		t.Fatalf("Exists() ошибка: %v", err)
	}
	if exists {
		t.Error("Exists() = true до создания")
	}

	if err := repo.Create(ctx, &model.Company{CompanyNumber: "13056435"}); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	exists, _ = repo.Exists(ctx, "13056435")
	if !exists {
		t.Error("Exists() = false после создания")
	}

	// Повторное создание — no-op
	if err := repo.Create(ctx, &model.Company{CompanyNumber: "13056435"}); err != nil {
		t.Fatalf("повторный Create() ошибка: %v", err)
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() ошибка: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, хотели 1", count)
	}
}

// --- Тесты ArchiveRepository ---

func TestArchiveRepository(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewArchiveRepository(pool)

	filename := "Prod224_3342_13056435_20240331.zip"

	exists, err := repo.Exists(ctx, filename)
	if err != nil {
		t.Fatalf("Exists() ошибка: %v", err)
	}
	if exists {
		t.Error("Exists() = true до создания")
	}

	archive := &model.Archive{
		Filename: filename,
		URI:      "https://history.example.test/archives/" + filename,
		Category: model.ArchiveDaily,
	}
	if err := repo.Create(ctx, archive); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	exists, _ = repo.Exists(ctx, filename)
	if !exists {
		t.Error("Exists() = false после создания")
	}

	// Повторное создание — no-op
	if err := repo.Create(ctx, archive); err != nil {
		t.Fatalf("повторный Create() ошибка: %v", err)
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() ошибка: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, хотели 1", count)
	}
}

// indexer.go — оркестратор конвейера индексации отчётностей.
//
// Indexer владеет клиентами реестров, репозиториями и очередью и
// реализует циклы периодических задач: поток CH, bulk-архивы CH,
// выдача FCA, диспетчеризация заданий и сверка результатов.
// Сами циклы — в файлах ch_stream.go, ch_archive.go, fca.go,
// dispatch.go, reconcile.go.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/filingindex/internal/chclient"
	"github.com/bigkaa/filingindex/internal/domain/model"
	"github.com/bigkaa/filingindex/internal/fcaclient"
	"github.com/bigkaa/filingindex/internal/repository"
)

var filingsDiscoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fi_filings_discovered_total",
	Help: "Количество обнаруженных отчётностей, по реестру",
}, []string{"registry"})

// streamClient — потоковый клиент событий Companies House.
type streamClient interface {
	StreamFilings(ctx context.Context, timepoint *int64, handler chclient.StreamHandler) error
}

// documentClient — клиент information API Companies House.
type documentClient interface {
	GetCompanyFilingURLs(ctx context.Context, companyNumber, resourceID string) ([]string, error)
}

// archiveClient — клиент bulk-data сервиса Companies House.
type archiveClient interface {
	DailyDownloadLinks(ctx context.Context) ([]string, error)
	MonthlyDownloadLinks(ctx context.Context) ([]string, error)
	FullDownloadLinks(ctx context.Context) ([]string, error)
	DownloadArchive(ctx context.Context, uri string) (string, error)
}

// fcaSearchClient — клиент поискового API FCA NSM.
type fcaSearchClient interface {
	FetchAllSince(ctx context.Context, since time.Time) ([]fcaclient.Filing, error)
}

// jobQueue — очередь заданий и результатов воркеров.
type jobQueue interface {
	SubmitJobs(ctx context.Context, filings []model.Filing, onSubmitted func(model.Filing) error) (int, error)
	ConsumeResults(ctx context.Context, apply func(*model.FilingResult) bool) error
}

// session — снимок состояния текущей сессии индексации.
// Снимок неизменяемый: обновление создаёт копию и атомарно
// подменяет указатель, чтение из health-эндпоинта не требует блокировок.
type session struct {
	// StreamLastOpened — время последнего успешного открытия потока CH.
	StreamLastOpened time.Time
	// StreamResumeTimepoint — сохранённый курсор, с которым открыт поток.
	StreamResumeTimepoint *int64
	// StreamStartTimepoint — первый таймпоинт, наблюдённый в этой сессии.
	StreamStartTimepoint *int64
	// StreamLatestTimepoint — последний обработанный таймпоинт.
	StreamLatestTimepoint *int64
	// StreamFilingCount — отчётностей создано из потока за сессию.
	StreamFilingCount int64
	// FCALastStarted / FCALastEnded — границы последнего цикла FCA.
	FCALastStarted time.Time
	FCALastEnded   time.Time
}

// Config — параметры работы индексера.
type Config struct {
	// FilingLimitCH — лимит отчётностей потока CH (0 — без лимита).
	FilingLimitCH int
	// FilingLimitFCA — лимит отчётностей FCA (0 — без лимита).
	FilingLimitFCA int
	// FCAPastDays — нижняя граница выдачи FCA в днях от текущей даты.
	FCAPastDays int
}

// Indexer — оркестратор конвейера индексации.
type Indexer struct {
	cfg Config

	stream  streamClient
	docs    documentClient
	history archiveClient
	fca     fcaSearchClient
	queue   jobQueue

	filingRepo  repository.FilingRepository
	companyRepo repository.CompanyRepository
	archiveRepo repository.ArchiveRepository

	session atomic.Pointer[session]
	logger  *slog.Logger

	// now подменяется в тестах.
	now func() time.Time
}

// NewIndexer создаёт оркестратор конвейера.
func NewIndexer(
	cfg Config,
	stream streamClient,
	docs documentClient,
	history archiveClient,
	fca fcaSearchClient,
	queue jobQueue,
	filingRepo repository.FilingRepository,
	companyRepo repository.CompanyRepository,
	archiveRepo repository.ArchiveRepository,
	logger *slog.Logger,
) *Indexer {
	idx := &Indexer{
		cfg:         cfg,
		stream:      stream,
		docs:        docs,
		history:     history,
		fca:         fca,
		queue:       queue,
		filingRepo:  filingRepo,
		companyRepo: companyRepo,
		archiveRepo: archiveRepo,
		logger:      logger.With(slog.String("component", "indexer")),
		now:         time.Now,
	}
	idx.session.Store(&session{})
	return idx
}

// updateSession применяет изменение к копии снимка сессии
// и атомарно подменяет указатель.
func (idx *Indexer) updateSession(mutate func(*session)) {
	for {
		current := idx.session.Load()
		next := *current
		mutate(&next)
		if idx.session.CompareAndSwap(current, &next) {
			return
		}
	}
}

// checkRegistryLimit проверяет квоту реестра: count vs limit.
// Возвращает true, если место для новых отчётностей ещё есть.
func (idx *Indexer) checkRegistryLimit(ctx context.Context, registry model.RegistryCode) (bool, error) {
	var limit int
	switch registry {
	case model.RegistryCompaniesHouse:
		limit = idx.cfg.FilingLimitCH
	case model.RegistryFCA:
		limit = idx.cfg.FilingLimitFCA
	default:
		return false, fmt.Errorf("неизвестная квотная корзина %s", registry)
	}

	// 0 — лимит не задан
	if limit <= 0 {
		return true, nil
	}

	count, err := idx.filingRepo.CountByRegistry(ctx, registry)
	if err != nil {
		return false, fmt.Errorf("подсчёт отчётностей реестра %s: %w", registry, err)
	}

	return count < limit, nil
}

// Healthy сообщает, открывался ли поток CH в текущей сессии.
// Используется эндпоинтом готовности.
func (idx *Indexer) Healthy() bool {
	return !idx.session.Load().StreamLastOpened.IsZero()
}

// Status возвращает многострочный текстовый отчёт о состоянии сессии.
func (idx *Indexer) Status() string {
	s := idx.session.Load()

	var b strings.Builder
	b.WriteString("Состояние индексера отчётностей\n")

	if s.StreamLastOpened.IsZero() {
		b.WriteString("Поток CH: не открывался\n")
	} else {
		fmt.Fprintf(&b, "Поток CH: последнее открытие %s\n", s.StreamLastOpened.UTC().Format(time.RFC3339))
	}

	if s.StreamResumeTimepoint != nil {
		fmt.Fprintf(&b, "Курсор возобновления: %d\n", *s.StreamResumeTimepoint)
	} else {
		b.WriteString("Курсор возобновления: нет\n")
	}

	if s.StreamStartTimepoint != nil {
		fmt.Fprintf(&b, "Таймпоинт начала сессии: %d\n", *s.StreamStartTimepoint)
	} else {
		b.WriteString("Таймпоинт начала сессии: нет\n")
	}

	if s.StreamLatestTimepoint != nil {
		fmt.Fprintf(&b, "Последний таймпоинт: %d\n", *s.StreamLatestTimepoint)
	} else {
		b.WriteString("Последний таймпоинт: нет\n")
	}

	fmt.Fprintf(&b, "Отчётностей из потока за сессию: %d\n", s.StreamFilingCount)

	if s.FCALastStarted.IsZero() {
		b.WriteString("Цикл FCA: не запускался\n")
	} else {
		fmt.Fprintf(&b, "Цикл FCA: начат %s", s.FCALastStarted.UTC().Format(time.RFC3339))
		if s.FCALastEnded.IsZero() || s.FCALastEnded.Before(s.FCALastStarted) {
			b.WriteString(", выполняется\n")
		} else {
			fmt.Fprintf(&b, ", завершён %s\n", s.FCALastEnded.UTC().Format(time.RFC3339))
		}
	}

	if idx.Healthy() {
		b.WriteString("Итог: работает\n")
	} else {
		b.WriteString("Итог: поток не открыт\n")
	}

	return b.String()
}

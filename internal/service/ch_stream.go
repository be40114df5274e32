// ch_stream.go — цикл поллера живого потока событий Companies House.
//
// Поток — долгоживущее HTTP-соединение с построчной выдачей событий
// filing-history. Цикл возобновляется с последнего сохранённого
// таймпоинта, поэтому разрыв соединения не теряет события.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/filingindex/internal/chclient"
	"github.com/bigkaa/filingindex/internal/domain/model"
	"github.com/bigkaa/filingindex/internal/repository"
)

// streamEvent — событие filing-history из потока CH.
// resource_id адресует ресурс в information API, data.transaction_id —
// внешний идентификатор отчётности; значения могут различаться.
type streamEvent struct {
	ResourceKind string `json:"resource_kind"`
	ResourceURI  string `json:"resource_uri"`
	ResourceID   string `json:"resource_id"`
	Data         struct {
		TransactionID string `json:"transaction_id"`
		Date          string `json:"date"`
		Links         struct {
			Self string `json:"self"`
		} `json:"links"`
	} `json:"data"`
	Event struct {
		Timepoint int64  `json:"timepoint"`
		Type      string `json:"type"`
	} `json:"event"`
}

// companyNumberFromURI извлекает номер компании из resource_uri
// вида /company/13056435/filing-history/<tx>.
func companyNumberFromURI(uri string) (string, bool) {
	parts := strings.Split(uri, "/")
	if len(parts) < 3 || parts[1] != "company" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

// RunStreamCycle открывает поток событий CH и обрабатывает его до
// разрыва соединения, исчерпания квоты или остановки.
func (idx *Indexer) RunStreamCycle(ctx context.Context) cycleOutcome {
	ok, err := idx.checkRegistryLimit(ctx, model.RegistryCompaniesHouse)
	if err != nil {
		idx.logger.Error("Ошибка проверки квоты потока CH", slog.String("error", err.Error()))
		return outcomeFatal
	}
	if !ok {
		idx.logger.Info("Квота потока CH исчерпана, цикл пропущен")
		return outcomeQuotaExceeded
	}

	// Возобновляемся с последнего сохранённого таймпоинта
	var resume *int64
	if tp, found, err := idx.filingRepo.LatestStreamTimepoint(ctx, model.RegistryCompaniesHouse); err != nil {
		idx.logger.Error("Ошибка чтения курсора потока", slog.String("error", err.Error()))
		return outcomeFatal
	} else if found {
		resume = &tp
	}

	idx.updateSession(func(s *session) {
		s.StreamLastOpened = idx.now()
		s.StreamResumeTimepoint = resume
		// Таймпоинт начала сессии выставит первое наблюдённое событие
		s.StreamStartTimepoint = nil
		s.StreamLatestTimepoint = resume
		s.StreamFilingCount = 0
	})

	outcome := outcomeContinue
	err = idx.stream.StreamFilings(ctx, resume, func(line string) bool {
		// Пустые строки — heartbeat потока
		if len(strings.TrimSpace(line)) <= 1 {
			return true
		}
		return idx.handleStreamEvent(ctx, line, &outcome)
	})

	if err != nil {
		if errors.Is(err, chclient.ErrRateLimited) {
			idx.logger.Warn("Поток CH отклонён по rate limit, ждём следующего цикла")
			return outcomeRateLimited
		}
		idx.logger.Error("Поток CH прерван", slog.String("error", err.Error()))
		return outcomeFatal
	}

	return outcome
}

// handleStreamEvent обрабатывает одно событие потока.
// Возвращает false, когда поток надо остановить; причина — в outcome.
func (idx *Indexer) handleStreamEvent(ctx context.Context, line string, outcome *cycleOutcome) bool {
	var event streamEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		// Нечитаемое событие означает рассинхронизацию потока:
		// соединение закрываем, курсор останется на последнем успешном
		idx.logger.Error("Нечитаемое событие потока CH", slog.String("error", err.Error()))
		*outcome = outcomeFatal
		return false
	}

	idx.updateSession(func(s *session) {
		tp := event.Event.Timepoint
		s.StreamLatestTimepoint = &tp
		if s.StreamStartTimepoint == nil {
			s.StreamStartTimepoint = &tp
		}
	})

	if event.ResourceKind != "filing-history" || event.Event.Type != "changed" {
		return true
	}

	companyNumber, ok := companyNumberFromURI(event.ResourceURI)
	if !ok {
		idx.logger.Warn("Не удалось извлечь номер компании",
			slog.String("resource_uri", event.ResourceURI),
		)
		return true
	}

	var filingDate *time.Time
	if event.Data.Date != "" {
		parsed, err := time.Parse("2006-01-02", event.Data.Date)
		if err != nil {
			idx.logger.Error("Некорректная дата события потока CH",
				slog.String("date", event.Data.Date),
				slog.String("transaction_id", event.Data.TransactionID),
			)
			*outcome = outcomeFatal
			return false
		}
		filingDate = &parsed
	}

	// Одна транзакция может ссылаться на несколько документов.
	// Поиск идёт по resource_id события, не по transaction_id.
	urls, err := idx.docs.GetCompanyFilingURLs(ctx, companyNumber, event.ResourceID)
	if err != nil {
		if errors.Is(err, chclient.ErrRateLimited) {
			idx.logger.Warn("Information API отклонил запрос по rate limit",
				slog.String("resource_id", event.ResourceID),
			)
			*outcome = outcomeRateLimited
			return false
		}
		idx.logger.Error("Ошибка запроса документов транзакции",
			slog.String("resource_id", event.ResourceID),
			slog.String("error", err.Error()),
		)
		*outcome = outcomeFatal
		return false
	}

	timepoint := event.Event.Timepoint
	var viewURL *string
	if event.Data.Links.Self != "" {
		self := event.Data.Links.Self
		viewURL = &self
	}

	for _, url := range urls {
		candidate := model.NewFiling{
			RegistryCode:     model.RegistryCompaniesHouse,
			ExternalFilingID: event.Data.TransactionID,
			CompanyNumber:    companyNumber,
			DownloadURL:      url,
			ExternalViewURL:  viewURL,
			FilingDate:       filingDate,
			StreamTimepoint:  &timepoint,
		}

		exists, err := idx.filingRepo.Exists(ctx, &candidate)
		if err != nil {
			idx.logger.Error("Ошибка проверки дубликата", slog.String("error", err.Error()))
			*outcome = outcomeFatal
			return false
		}
		if exists {
			continue
		}

		if _, err := idx.filingRepo.Create(ctx, &candidate); err != nil {
			// Конкурентная вставка того же документа — не ошибка
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			idx.logger.Error("Ошибка создания отчётности", slog.String("error", err.Error()))
			*outcome = outcomeFatal
			return false
		}

		filingsDiscoveredTotal.WithLabelValues(string(model.RegistryCompaniesHouse)).Inc()
		idx.updateSession(func(s *session) { s.StreamFilingCount++ })
	}

	// Квота проверяется на каждом событии: поток живёт долго
	ok, err = idx.checkRegistryLimit(ctx, model.RegistryCompaniesHouse)
	if err != nil {
		idx.logger.Error("Ошибка проверки квоты потока CH", slog.String("error", err.Error()))
		*outcome = outcomeFatal
		return false
	}
	if !ok {
		idx.logger.Info("Квота потока CH исчерпана, поток остановлен")
		*outcome = outcomeQuotaExceeded
		return false
	}

	return true
}

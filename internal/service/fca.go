// fca.go — цикл поллера выдачи FCA National Storage Mechanism.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bigkaa/filingindex/internal/domain/model"
	"github.com/bigkaa/filingindex/internal/repository"
)

// RunFCACycle забирает публикации FCA, поданные с момента последней
// сохранённой даты (но не глубже FCAPastDays), и создаёт отчётности.
func (idx *Indexer) RunFCACycle(ctx context.Context) cycleOutcome {
	// Границы цикла фиксируются в сессии даже при пропуске по квоте:
	// health-отчёт показывает, что поллер жив
	idx.updateSession(func(s *session) { s.FCALastStarted = idx.now() })
	defer idx.updateSession(func(s *session) { s.FCALastEnded = idx.now() })

	ok, err := idx.checkRegistryLimit(ctx, model.RegistryFCA)
	if err != nil {
		idx.logger.Error("Ошибка проверки квоты FCA", slog.String("error", err.Error()))
		return outcomeFatal
	}
	if !ok {
		idx.logger.Info("Квота FCA исчерпана, цикл пропущен")
		return outcomeQuotaExceeded
	}

	// Нижняя граница — максимум из последней сохранённой даты подачи
	// и дна окна в FCAPastDays
	windowFloor := idx.now().AddDate(0, 0, -idx.cfg.FCAPastDays)
	since, err := idx.filingRepo.LatestFilingDate(ctx, model.RegistryFCA, windowFloor)
	if err != nil {
		idx.logger.Error("Ошибка чтения последней даты подачи FCA", slog.String("error", err.Error()))
		return outcomeFatal
	}

	filings, err := idx.fca.FetchAllSince(ctx, since)
	if err != nil {
		idx.logger.Error("Ошибка запроса выдачи FCA", slog.String("error", err.Error()))
		return outcomeFatal
	}

	created := 0
	for _, f := range filings {
		submitted := f.SubmittedDate
		candidate := model.NewFiling{
			RegistryCode:     model.RegistryFCA,
			ExternalFilingID: f.SequenceID,
			CompanyNumber:    f.LEI,
			DownloadURL:      f.DownloadURL,
			FilingDate:       &submitted,
		}
		if f.CompanyName != "" {
			name := f.CompanyName
			candidate.CompanyName = &name
		}
		if f.InfoURL != "" {
			info := f.InfoURL
			candidate.ExternalViewURL = &info
		}

		exists, err := idx.filingRepo.Exists(ctx, &candidate)
		if err != nil {
			idx.logger.Error("Ошибка проверки дубликата FCA", slog.String("error", err.Error()))
			return outcomeFatal
		}
		if exists {
			continue
		}

		// Квота может исчерпаться посреди пачки
		ok, err := idx.checkRegistryLimit(ctx, model.RegistryFCA)
		if err != nil {
			idx.logger.Error("Ошибка проверки квоты FCA", slog.String("error", err.Error()))
			return outcomeFatal
		}
		if !ok {
			idx.logger.Info("Квота FCA исчерпана, цикл остановлен",
				slog.Int("created", created),
			)
			return outcomeQuotaExceeded
		}

		if _, err := idx.filingRepo.Create(ctx, &candidate); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			idx.logger.Error("Ошибка создания отчётности FCA",
				slog.String("seq_id", f.SequenceID),
				slog.String("error", err.Error()),
			)
			return outcomeFatal
		}

		filingsDiscoveredTotal.WithLabelValues(string(model.RegistryFCA)).Inc()
		created++
	}

	idx.logger.Info("Цикл FCA завершён",
		slog.Time("since", since),
		slog.Int("fetched", len(filings)),
		slog.Int("created", created),
	)

	return outcomeContinue
}

// dispatch.go — цикл диспетчеризации заданий воркерам.
//
// Публикация задания и перевод отчётности в queued не транзакционны:
// падение между ними оставит отчётность в pending, и задание уйдёт
// повторно на следующем цикле. Воркеры и сверка результатов обязаны
// переносить дубликаты (at-least-once).
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bigkaa/filingindex/internal/domain/model"
	"github.com/bigkaa/filingindex/internal/repository"
)

// RunDispatchCycle отправляет все pending-отчётности в очередь воркеров.
func (idx *Indexer) RunDispatchCycle(ctx context.Context) cycleOutcome {
	pending, err := idx.filingRepo.ListByStatus(ctx, model.StatusPending)
	if err != nil {
		idx.logger.Error("Ошибка выборки pending-отчётностей", slog.String("error", err.Error()))
		return outcomeFatal
	}

	if len(pending) == 0 {
		return outcomeContinue
	}

	filings := make([]model.Filing, 0, len(pending))
	for _, f := range pending {
		filings = append(filings, *f)
	}

	submitted, err := idx.queue.SubmitJobs(ctx, filings, func(f model.Filing) error {
		err := idx.filingRepo.UpdateStatus(ctx, f.FilingID, model.StatusQueued)
		// Конкурентная сверка могла уже завершить отчётность
		if errors.Is(err, repository.ErrSuperseded) {
			return nil
		}
		return err
	})
	if err != nil {
		// Неотправленные остаются pending и уйдут на следующем цикле
		idx.logger.Error("Ошибка отправки заданий",
			slog.Int("submitted", submitted),
			slog.Int("pending", len(filings)),
			slog.String("error", err.Error()),
		)
		return outcomeFatal
	}

	idx.logger.Info("Задания отправлены воркерам", slog.Int("count", submitted))
	return outcomeContinue
}

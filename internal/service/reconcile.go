// reconcile.go — цикл сверки результатов обработки.
//
// Классический at-least-once консьюмер: применение результата обязано
// быть идемпотентным. Повторная доставка уже применённого результата
// подтверждается без изменения состояния.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bigkaa/filingindex/internal/domain/model"
	"github.com/bigkaa/filingindex/internal/repository"
)

// RunReconcileCycle выбирает накопившиеся результаты воркеров
// и применяет их к хранилищу.
func (idx *Indexer) RunReconcileCycle(ctx context.Context) cycleOutcome {
	err := idx.queue.ConsumeResults(ctx, func(result *model.FilingResult) bool {
		err := idx.filingRepo.ApplyResult(ctx, result)
		if err == nil {
			idx.logger.Info("Результат применён",
				slog.String("filing_id", result.FilingID.String()),
				slog.String("status", string(result.TerminalStatus())),
			)
			return true
		}

		// Повторная доставка уже применённого результата
		if errors.Is(err, repository.ErrSuperseded) {
			idx.logger.Debug("Результат уже применён, сообщение подтверждено",
				slog.String("filing_id", result.FilingID.String()),
			)
			return true
		}

		// Ошибка хранилища: сообщение остаётся для передоставки
		idx.logger.Error("Ошибка применения результата",
			slog.String("filing_id", result.FilingID.String()),
			slog.String("error", err.Error()),
		)
		return false
	})
	if err != nil {
		idx.logger.Error("Ошибка выборки результатов", slog.String("error", err.Error()))
		return outcomeFatal
	}

	return outcomeContinue
}

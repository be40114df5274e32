// ch_archive.go — цикл загрузки bulk-архивов Companies House.
//
// Архив считается обработанным (и записывается в ch_archives) только
// если ВСЕ его записи соответствуют шаблону имени файла. Архив с
// невалидными записями не фиксируется и будет переобработан целиком
// на следующем цикле; созданные компании при этом не откатываются —
// повторная обработка идемпотентна.
package service

import (
	"archive/zip"
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"regexp"
	"sort"

	"github.com/bigkaa/filingindex/internal/domain/model"
	"github.com/bigkaa/filingindex/internal/repository"
)

// chaLimit — лимит квотной корзины архивов CH.
const chaLimit = 5

// archiveEntryPattern — шаблон имени записи архива:
// Prod<цифры>_<цифры>_<номер компании>_<ГГГГММДД>.html
var archiveEntryPattern = regexp.MustCompile(`^Prod\d+_\d+_([a-zA-Z0-9]+)_(\d{8})\.html$`)

// checkArchiveLimit проверяет квоту корзины архивов: count vs chaLimit.
func (idx *Indexer) checkArchiveLimit(ctx context.Context) (bool, error) {
	count, err := idx.archiveRepo.Count(ctx)
	if err != nil {
		return false, err
	}
	return count < chaLimit, nil
}

// RunArchiveCycle обрабатывает доступные bulk-архивы всех трёх категорий.
func (idx *Indexer) RunArchiveCycle(ctx context.Context) cycleOutcome {
	ok, err := idx.checkArchiveLimit(ctx)
	if err != nil {
		idx.logger.Error("Ошибка проверки квоты архивов", slog.String("error", err.Error()))
		return outcomeFatal
	}
	if !ok {
		idx.logger.Info("Квота архивов CH исчерпана, цикл пропущен",
			slog.String("bucket", string(model.RegistryCompaniesHouseArchive)),
		)
		return outcomeQuotaExceeded
	}

	categories := []struct {
		category model.ArchiveCategory
		links    func(context.Context) ([]string, error)
	}{
		{model.ArchiveDaily, idx.history.DailyDownloadLinks},
		{model.ArchiveMonthly, idx.history.MonthlyDownloadLinks},
		{model.ArchiveFull, idx.history.FullDownloadLinks},
	}

	outcome := outcomeContinue
	for _, c := range categories {
		if ctx.Err() != nil {
			return outcomeContinue
		}

		links, err := c.links(ctx)
		if err != nil {
			// Недоступный список категории не мешает остальным
			idx.logger.Error("Ошибка получения списка архивов",
				slog.String("category", string(c.category)),
				slog.String("error", err.Error()),
			)
			outcome = outcomeFatal
			continue
		}

		for _, uri := range links {
			if ctx.Err() != nil {
				return outcomeContinue
			}

			// Квота проверяется перед каждым архивом
			ok, err := idx.checkArchiveLimit(ctx)
			if err != nil {
				idx.logger.Error("Ошибка проверки квоты архивов", slog.String("error", err.Error()))
				return outcomeFatal
			}
			if !ok {
				idx.logger.Info("Квота архивов CH исчерпана, цикл остановлен",
					slog.String("bucket", string(model.RegistryCompaniesHouseArchive)),
				)
				return outcomeQuotaExceeded
			}

			if err := idx.processArchive(ctx, uri, c.category); err != nil {
				// Ошибка одного архива — повтор на следующем цикле
				idx.logger.Error("Ошибка обработки архива",
					slog.String("uri", uri),
					slog.String("error", err.Error()),
				)
				outcome = outcomeFatal
			}
		}
	}

	return outcome
}

// processArchive скачивает и обрабатывает один архив.
func (idx *Indexer) processArchive(ctx context.Context, uri string, category model.ArchiveCategory) error {
	filename := path.Base(uri)

	exists, err := idx.archiveRepo.Exists(ctx, filename)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	idx.logger.Info("Обработка архива",
		slog.String("filename", filename),
		slog.String("category", string(category)),
	)

	tempPath, err := idx.history.DownloadArchive(ctx, uri)
	if err != nil {
		return err
	}
	defer os.Remove(tempPath)

	entries, err := listArchiveEntries(tempPath)
	if err != nil {
		return err
	}

	complete := true
	created := 0
	for _, entry := range entries {
		match := archiveEntryPattern.FindStringSubmatch(entry)
		if match == nil {
			idx.logger.Warn("Невалидная запись архива",
				slog.String("filename", filename),
				slog.String("entry", entry),
			)
			complete = false
			continue
		}

		companyNumber := match[1]
		known, err := idx.companyRepo.Exists(ctx, companyNumber)
		if err != nil {
			return err
		}
		if known {
			continue
		}

		if err := idx.companyRepo.Create(ctx, &model.Company{CompanyNumber: companyNumber}); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			return err
		}
		created++
	}

	// Неполный архив не фиксируется: переобработка на следующем цикле
	if !complete {
		idx.logger.Warn("Архив содержит невалидные записи и не зафиксирован",
			slog.String("filename", filename),
			slog.Int("companies_created", created),
		)
		return nil
	}

	archive := &model.Archive{Filename: filename, URI: uri, Category: category}
	if err := idx.archiveRepo.Create(ctx, archive); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return err
	}

	idx.logger.Info("Архив обработан",
		slog.String("filename", filename),
		slog.Int("entries", len(entries)),
		slog.Int("companies_created", created),
	)

	return nil
}

// listArchiveEntries возвращает отсортированный список имён записей архива.
func listArchiveEntries(archivePath string) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	entries := make([]string, 0, len(reader.File))
	for _, f := range reader.File {
		entries = append(entries, f.Name)
	}
	sort.Strings(entries)

	return entries, nil
}

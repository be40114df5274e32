package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/filingindex/internal/domain/model"
)

// ArchiveRepository — интерфейс хранилища обработанных bulk-архивов CH.
// Запись архива создаётся только после полного успешного разбора;
// её наличие — признак "архив уже обработан, пропустить".
type ArchiveRepository interface {
	// Exists проверяет, обработан ли архив с данным именем файла.
	Exists(ctx context.Context, filename string) (bool, error)
	// Create фиксирует полностью разобранный архив.
	Create(ctx context.Context, a *model.Archive) error
	// Count возвращает количество обработанных архивов
	// (квотная корзина companies-house-archive).
	Count(ctx context.Context) (int, error)
}

// archiveRepo — реализация ArchiveRepository.
type archiveRepo struct {
	db DBTX
}

// NewArchiveRepository создаёт репозиторий архивов.
func NewArchiveRepository(db DBTX) ArchiveRepository {
	return &archiveRepo{db: db}
}

func (r *archiveRepo) Exists(ctx context.Context, filename string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM ch_archives WHERE filename = $1)`

	var exists bool
	err := r.db.QueryRow(ctx, query, filename).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки существования архива: %w", err)
	}
	return exists, nil
}

func (r *archiveRepo) Create(ctx context.Context, a *model.Archive) error {
	query := `
		INSERT INTO ch_archives (filename, uri, category)
		VALUES ($1, $2, $3)
		ON CONFLICT (filename) DO NOTHING`

	_, err := r.db.Exec(ctx, query, a.Filename, a.URI, a.Category)
	if err != nil {
		return fmt.Errorf("ошибка создания записи архива %s: %w", a.Filename, err)
	}
	return nil
}

func (r *archiveRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM ch_archives`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта архивов: %w", err)
	}
	return count, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/filingindex/internal/domain/model"
)

// FilingRepository — интерфейс хранилища отчётностей.
// Контракт Filing Store: проверка натурального ключа, атомарное создание,
// монотонное обновление статуса, квотные счётчики и курсорные запросы.
type FilingRepository interface {
	// Exists проверяет наличие отчётности по натуральному ключу
	// (реестр + внешний идентификатор) или эквивалентному download URL.
	Exists(ctx context.Context, f *model.NewFiling) (bool, error)
	// Create создаёт отчётность в статусе pending.
	// Уникальность натурального ключа обеспечивает БД: при дубликате
	// возвращается ErrConflict, никакая запись не создаётся.
	Create(ctx context.Context, f *model.NewFiling) (uuid.UUID, error)
	// GetByID возвращает отчётность по UUID.
	GetByID(ctx context.Context, filingID uuid.UUID) (*model.Filing, error)
	// ListByStatus возвращает отчётности в указанном статусе.
	ListByStatus(ctx context.Context, status model.FilingStatus) ([]*model.Filing, error)
	// UpdateStatus выполняет монотонный переход статуса.
	// Переход в статус с меньшим или равным рангом — ErrSuperseded.
	UpdateStatus(ctx context.Context, filingID uuid.UUID, status model.FilingStatus) error
	// ApplyResult применяет результат воркера: терминальный статус и payload.
	// Идемпотентен: повторное применение к терминальной записи — ErrSuperseded.
	ApplyResult(ctx context.Context, result *model.FilingResult) error
	// LatestStreamTimepoint возвращает максимальный сохранённый курсор
	// потока для реестра. ok=false — курсоров ещё нет (читать с начала).
	LatestStreamTimepoint(ctx context.Context, registry model.RegistryCode) (timepoint int64, ok bool, err error)
	// LatestFilingDate возвращает максимальную дату отчётности реестра,
	// но не раньше floor.
	LatestFilingDate(ctx context.Context, registry model.RegistryCode, floor time.Time) (time.Time, error)
	// CountByRegistry возвращает количество отчётностей реестра
	// (квотная корзина).
	CountByRegistry(ctx context.Context, registry model.RegistryCode) (int, error)
}

// filingRepo — реализация FilingRepository.
type filingRepo struct {
	db DBTX
}

// NewFilingRepository создаёт репозиторий отчётностей.
func NewFilingRepository(db DBTX) FilingRepository {
	return &filingRepo{db: db}
}

// filingColumns — список колонок для SELECT отчётности.
const filingColumns = `filing_id, registry_code, external_filing_id, company_number,
	company_name, download_url, external_view_url, filing_date, stream_timepoint,
	status, error, viewer_entrypoint, worker_logs, document_date, created_at, updated_at`

// scanFiling сканирует строку в model.Filing.
func scanFiling(row pgx.Row) (*model.Filing, error) {
	f := &model.Filing{}
	err := row.Scan(
		&f.FilingID, &f.RegistryCode, &f.ExternalFilingID, &f.CompanyNumber,
		&f.CompanyName, &f.DownloadURL, &f.ExternalViewURL, &f.FilingDate, &f.StreamTimepoint,
		&f.Status, &f.Error, &f.ViewerEntrypoint, &f.WorkerLogs, &f.DocumentDate,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *filingRepo) Exists(ctx context.Context, f *model.NewFiling) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM filings
			WHERE registry_code = $1
				AND external_filing_id = $2
				AND download_url = $3
		)`

	var exists bool
	err := r.db.QueryRow(ctx, query, f.RegistryCode, f.ExternalFilingID, f.DownloadURL).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки существования отчётности: %w", err)
	}
	return exists, nil
}

func (r *filingRepo) Create(ctx context.Context, f *model.NewFiling) (uuid.UUID, error) {
	query := `
		INSERT INTO filings (registry_code, external_filing_id, company_number,
			company_name, download_url, external_view_url, filing_date, stream_timepoint, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
		RETURNING filing_id`

	var filingID uuid.UUID
	err := r.db.QueryRow(ctx, query,
		f.RegistryCode, f.ExternalFilingID, f.CompanyNumber,
		f.CompanyName, f.DownloadURL, f.ExternalViewURL, f.FilingDate, f.StreamTimepoint,
	).Scan(&filingID)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("%w: отчётность с таким натуральным ключом уже существует", ErrConflict)
		}
		return uuid.Nil, fmt.Errorf("ошибка создания отчётности: %w", err)
	}
	return filingID, nil
}

func (r *filingRepo) GetByID(ctx context.Context, filingID uuid.UUID) (*model.Filing, error) {
	query := `SELECT ` + filingColumns + ` FROM filings WHERE filing_id = $1`

	f, err := scanFiling(r.db.QueryRow(ctx, query, filingID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения отчётности: %w", err)
	}
	return f, nil
}

func (r *filingRepo) ListByStatus(ctx context.Context, status model.FilingStatus) ([]*model.Filing, error) {
	query := `SELECT ` + filingColumns + `
		FROM filings
		WHERE status = $1
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения отчётностей по статусу: %w", err)
	}
	defer rows.Close()

	var result []*model.Filing
	for rows.Next() {
		f, err := scanFiling(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования отчётности: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// UpdateStatus выполняет переход статуса с защитой монотонности на уровне SQL:
// обновление проходит только если текущий статус — разрешённый предшественник.
func (r *filingRepo) UpdateStatus(ctx context.Context, filingID uuid.UUID, status model.FilingStatus) error {
	var predecessors []string
	switch status {
	case model.StatusQueued:
		predecessors = []string{string(model.StatusPending)}
	case model.StatusCompleted, model.StatusFailed:
		predecessors = []string{string(model.StatusPending), string(model.StatusQueued)}
	default:
		return fmt.Errorf("недопустимый целевой статус %q", status)
	}

	query := `
		UPDATE filings
		SET status = $2
		WHERE filing_id = $1 AND status = ANY($3)`

	tag, err := r.db.Exec(ctx, query, filingID, status, predecessors)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса отчётности: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Либо запись отсутствует, либо статус уже продвинут дальше.
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM filings WHERE filing_id = $1)`, filingID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("ошибка проверки отчётности %s: %w", filingID, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrSuperseded
	}
	return nil
}

// ApplyResult применяет результат воркера к отчётности.
// Терминальный статус никогда не перезаписывается: повторное или
// устаревшее применение возвращает ErrSuperseded.
func (r *filingRepo) ApplyResult(ctx context.Context, result *model.FilingResult) error {
	query := `
		UPDATE filings
		SET status = $2,
			error = NULLIF($3, ''),
			viewer_entrypoint = NULLIF($4, ''),
			worker_logs = NULLIF($5, ''),
			document_date = $6,
			company_name = COALESCE(NULLIF($7, ''), company_name)
		WHERE filing_id = $1
			AND status IN ('pending', 'queued')`

	tag, err := r.db.Exec(ctx, query,
		result.FilingID, result.TerminalStatus(),
		result.Error, result.ViewerEntrypoint, result.Logs,
		result.DocumentDate, result.CompanyName,
	)
	if err != nil {
		return fmt.Errorf("ошибка применения результата отчётности %s: %w", result.FilingID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM filings WHERE filing_id = $1)`, result.FilingID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("ошибка проверки отчётности %s: %w", result.FilingID, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrSuperseded
	}
	return nil
}

func (r *filingRepo) LatestStreamTimepoint(ctx context.Context, registry model.RegistryCode) (int64, bool, error) {
	query := `SELECT MAX(stream_timepoint) FROM filings WHERE registry_code = $1`

	var timepoint *int64
	err := r.db.QueryRow(ctx, query, registry).Scan(&timepoint)
	if err != nil {
		return 0, false, fmt.Errorf("ошибка получения последнего timepoint: %w", err)
	}
	if timepoint == nil {
		return 0, false, nil
	}
	return *timepoint, true, nil
}

func (r *filingRepo) LatestFilingDate(ctx context.Context, registry model.RegistryCode, floor time.Time) (time.Time, error) {
	query := `
		SELECT GREATEST(COALESCE(MAX(filing_date), $2::timestamptz), $2::timestamptz)
		FROM filings
		WHERE registry_code = $1`

	var latest time.Time
	err := r.db.QueryRow(ctx, query, registry, floor).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("ошибка получения последней даты отчётности: %w", err)
	}
	return latest, nil
}

func (r *filingRepo) CountByRegistry(ctx context.Context, registry model.RegistryCode) (int, error) {
	query := `SELECT COUNT(*) FROM filings WHERE registry_code = $1`

	var count int
	err := r.db.QueryRow(ctx, query, registry).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта отчётностей: %w", err)
	}
	return count, nil
}

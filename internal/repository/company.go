package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/filingindex/internal/domain/model"
)

// CompanyRepository — интерфейс хранилища компаний.
// Компании обнаруживаются только при разборе bulk-архивов CH.
type CompanyRepository interface {
	// Exists проверяет наличие компании по номеру.
	Exists(ctx context.Context, companyNumber string) (bool, error)
	// Create создаёт компанию. Дубликат — no-op (уникальность обеспечивает БД).
	Create(ctx context.Context, c *model.Company) error
	// Count возвращает общее количество компаний.
	Count(ctx context.Context) (int, error)
}

// companyRepo — реализация CompanyRepository.
type companyRepo struct {
	db DBTX
}

// NewCompanyRepository создаёт репозиторий компаний.
func NewCompanyRepository(db DBTX) CompanyRepository {
	return &companyRepo{db: db}
}

func (r *companyRepo) Exists(ctx context.Context, companyNumber string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM companies WHERE company_number = $1)`

	var exists bool
	err := r.db.QueryRow(ctx, query, companyNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки существования компании: %w", err)
	}
	return exists, nil
}

func (r *companyRepo) Create(ctx context.Context, c *model.Company) error {
	// ON CONFLICT DO NOTHING: повторное обнаружение компании — no-op,
	// корректность при параллельных инстансах обеспечивает БД.
	query := `
		INSERT INTO companies (company_number)
		VALUES ($1)
		ON CONFLICT (company_number) DO NOTHING`

	_, err := r.db.Exec(ctx, query, c.CompanyNumber)
	if err != nil {
		return fmt.Errorf("ошибка создания компании %s: %w", c.CompanyNumber, err)
	}
	return nil
}

func (r *companyRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM companies`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта компаний: %w", err)
	}
	return count, nil
}

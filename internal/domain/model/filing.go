// filing.go — доменные типы отчётностей (filings).
// Отчётность обнаруживается поллерами реестров, создаётся в статусе pending,
// ставится в очередь (queued) и завершается терминальным статусом
// (completed/failed) после обработки внешним воркером.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RegistryCode — код реестра-источника отчётностей.
// Каждый код — независимая квотная корзина (count vs limit).
type RegistryCode string

const (
	// RegistryCompaniesHouse — живой поток событий Companies House.
	RegistryCompaniesHouse RegistryCode = "companies-house"
	// RegistryCompaniesHouseArchive — bulk-архивы Companies House.
	// Отдельная квотная корзина, независимая от потока отчётностей.
	RegistryCompaniesHouseArchive RegistryCode = "companies-house-archive"
	// RegistryFCA — National Storage Mechanism FCA (REST с фильтром по дате).
	RegistryFCA RegistryCode = "fca"
)

// FilingStatus — статус отчётности в конвейере обработки.
// Переходы строго монотонны: pending → queued → {completed, failed}.
type FilingStatus string

const (
	// StatusPending — отчётность обнаружена, ждёт постановки в очередь.
	StatusPending FilingStatus = "pending"
	// StatusQueued — задание отправлено в очередь воркеров.
	StatusQueued FilingStatus = "queued"
	// StatusCompleted — воркер успешно обработал отчётность (терминальный).
	StatusCompleted FilingStatus = "completed"
	// StatusFailed — воркер завершился с ошибкой (терминальный).
	StatusFailed FilingStatus = "failed"
)

// IsTerminal сообщает, является ли статус терминальным.
// Терминальный статус никогда не перезаписывается.
func (s FilingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank возвращает порядковый номер статуса для проверки монотонности.
// Переход допустим только в статус с большим рангом.
func (s FilingStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusQueued:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// Filing — запись отчётности в БД.
type Filing struct {
	// FilingID — первичный ключ (UUID).
	FilingID uuid.UUID
	// RegistryCode — реестр-источник.
	RegistryCode RegistryCode
	// ExternalFilingID — идентификатор отчётности в реестре.
	// Пара (RegistryCode, ExternalFilingID) — натуральный ключ дедупликации.
	ExternalFilingID string
	// CompanyNumber — номер компании (CH) или LEI (FCA).
	CompanyNumber string
	// CompanyName — название компании (только FCA).
	CompanyName *string
	// DownloadURL — URL документа для скачивания воркером.
	DownloadURL string
	// ExternalViewURL — публичная страница отчётности в реестре (опционально).
	ExternalViewURL *string
	// FilingDate — дата подачи отчётности (опционально).
	FilingDate *time.Time
	// StreamTimepoint — курсор события потока CH (только companies-house).
	StreamTimepoint *int64
	// Status — текущий статус конвейера.
	Status FilingStatus
	// Error — текст ошибки воркера (терминальный failed).
	Error *string
	// ViewerEntrypoint — точка входа сгенерированного viewer (терминальный completed).
	ViewerEntrypoint *string
	// WorkerLogs — логи воркера, приложенные к результату.
	WorkerLogs *string
	// DocumentDate — дата документа, извлечённая воркером.
	DocumentDate *time.Time
	// CreatedAt — время создания записи.
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time
}

// NewFiling — заявка на создание отчётности (кандидат от поллера).
type NewFiling struct {
	RegistryCode     RegistryCode
	ExternalFilingID string
	CompanyNumber    string
	CompanyName      *string
	DownloadURL      string
	ExternalViewURL  *string
	FilingDate       *time.Time
	StreamTimepoint  *int64
}

// FilingResult — результат обработки отчётности внешним воркером,
// полученный из очереди результатов.
type FilingResult struct {
	// FilingID — идентификатор обработанной отчётности.
	FilingID uuid.UUID
	// Success — успешность обработки; определяет терминальный статус.
	Success bool
	// Error — текст ошибки (при Success=false).
	Error string
	// CompanyName — название компании, извлечённое из документа.
	CompanyName string
	// CompanyNumber — номер компании, извлечённый из документа.
	CompanyNumber string
	// DocumentDate — дата документа (опционально).
	DocumentDate *time.Time
	// ViewerEntrypoint — точка входа viewer (при Success=true).
	ViewerEntrypoint string
	// Logs — логи воркера.
	Logs string
}

// TerminalStatus возвращает терминальный статус для результата.
func (r *FilingResult) TerminalStatus() FilingStatus {
	if r.Success {
		return StatusCompleted
	}
	return StatusFailed
}

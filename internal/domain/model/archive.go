package model

import "time"

// ArchiveCategory — категория bulk-архива Companies House.
type ArchiveCategory string

const (
	// ArchiveDaily — ежедневный архив.
	ArchiveDaily ArchiveCategory = "daily"
	// ArchiveMonthly — ежемесячный архив.
	ArchiveMonthly ArchiveCategory = "monthly"
	// ArchiveFull — полный исторический архив.
	ArchiveFull ArchiveCategory = "full"
)

// Archive — обработанный bulk-архив Companies House.
// Запись создаётся только после того, как ВСЕ вхождения архива
// совпали с ожидаемым шаблоном имени файла. Неполный архив не
// записывается и будет повторно обработан на следующем цикле.
type Archive struct {
	// Filename — имя файла архива (ключ дедупликации).
	Filename string
	// URI — источник скачивания архива.
	URI string
	// Category — категория архива (daily/monthly/full).
	Category ArchiveCategory
	// CreatedAt — время создания записи.
	CreatedAt time.Time
}

package model

import "time"

// Company — компания, обнаруженная при разборе bulk-архивов Companies House.
// Записи создаются один раз и далее не изменяются.
type Company struct {
	// CompanyNumber — номер компании в Companies House (алфавитно-цифровой).
	CompanyNumber string
	// CreatedAt — время создания записи.
	CreatedAt time.Time
}

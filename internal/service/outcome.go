package service

// cycleOutcome — исход одного цикла поллера.
// Явный тип вместо протаскивания ошибок через управляющий поток:
// планировщик и логика цикла различают «нормально закончили»,
// «упёрлись в квоту», «реестр троттлит» и «фатальная ошибка».
type cycleOutcome int

const (
	// outcomeContinue — цикл завершён штатно, следующий по расписанию.
	outcomeContinue cycleOutcome = iota
	// outcomeQuotaExceeded — достигнут лимит отчётностей реестра,
	// цикл прерван до освобождения квоты.
	outcomeQuotaExceeded
	// outcomeRateLimited — реестр вернул 429, ждём следующего цикла.
	outcomeRateLimited
	// outcomeFatal — ошибка, прервавшая цикл; детали в логе.
	outcomeFatal
)

// String возвращает текстовое представление исхода для логов.
func (o cycleOutcome) String() string {
	switch o {
	case outcomeContinue:
		return "continue"
	case outcomeQuotaExceeded:
		return "quota-exceeded"
	case outcomeRateLimited:
		return "rate-limited"
	case outcomeFatal:
		return "fatal"
	}
	return "unknown"
}

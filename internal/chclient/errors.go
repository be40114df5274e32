// Пакет chclient — клиенты Companies House: streaming API (живой поток
// событий filing history), information API (поиск URL документов)
// и bulk-data сервис (архивы компаний).
package chclient

import "errors"

// Ошибки клиентов Companies House.
var (
	// ErrRateLimited — провайдер вернул сигнал ограничения частоты (429).
	// Для поллера это не ошибка: цикл завершается, попытка повторяется
	// по расписанию без потери курсора.
	ErrRateLimited = errors.New("превышен лимит запросов Companies House")
	// ErrConnection — сбой соединения потока. Отличимый тип ошибки:
	// поллер логирует и переоткрывает поток после паузы.
	ErrConnection = errors.New("сбой соединения потока Companies House")
)

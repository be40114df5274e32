// status.go — текстовый отчёт о состоянии индексера.
// GET /api/v1/indexer/status — человекочитаемый снимок сессии
// для административной поверхности.
package handlers

import (
	"net/http"
)

// StatusReporter — источник текстового отчёта о состоянии индексера.
type StatusReporter interface {
	// Status возвращает многострочный текстовый отчёт.
	Status() string
	// Healthy сообщает, открыт ли поток событий в текущей сессии.
	Healthy() bool
}

// StatusHandler — обработчик отчёта о состоянии индексера.
type StatusHandler struct {
	reporter StatusReporter
}

// NewStatusHandler создаёт обработчик отчёта о состоянии.
func NewStatusHandler(reporter StatusReporter) *StatusHandler {
	return &StatusHandler{reporter: reporter}
}

// GetStatus — снимок состояния сессии индексации.
// Отчёт текстовый, не структурированный: потребитель — человек.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.reporter.Healthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write([]byte(h.reporter.Status()))
}

package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/filingindex/internal/domain/model"
)

// TestIndexer_Status: отчёт о состоянии отражает сессию потока
// и границы цикла FCA.
func TestIndexer_Status(t *testing.T) {
	idx := newTestIndexer(Config{}, nil, nil, nil, nil, nil, nil, nil, nil)

	report := idx.Status()
	for _, want := range []string{
		"Поток CH: не открывался",
		"Курсор возобновления: нет",
		"Таймпоинт начала сессии: нет",
		"Цикл FCA: не запускался",
		"Итог: поток не открыт",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("в отчёте нет строки %q:\n%s", want, report)
		}
	}
	if idx.Healthy() {
		t.Error("Healthy() = true до открытия потока")
	}

	// Открытая сессия потока
	opened := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	resume := int64(95)
	start := int64(100)
	latest := int64(105)
	idx.updateSession(func(s *session) {
		s.StreamLastOpened = opened
		s.StreamResumeTimepoint = &resume
		s.StreamStartTimepoint = &start
		s.StreamLatestTimepoint = &latest
		s.StreamFilingCount = 7
		s.FCALastStarted = opened.Add(time.Minute)
		s.FCALastEnded = opened.Add(2 * time.Minute)
	})

	report = idx.Status()
	for _, want := range []string{
		"Поток CH: последнее открытие 2026-08-31T10:00:00Z",
		"Курсор возобновления: 95",
		"Таймпоинт начала сессии: 100",
		"Последний таймпоинт: 105",
		"Отчётностей из потока за сессию: 7",
		"Цикл FCA: начат 2026-08-31T10:01:00Z, завершён 2026-08-31T10:02:00Z",
		"Итог: работает",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("в отчёте нет строки %q:\n%s", want, report)
		}
	}
	if !idx.Healthy() {
		t.Error("Healthy() = false при открытом потоке")
	}
}

// TestIndexer_StatusFCARunning: незавершённый цикл FCA показан как
// выполняющийся.
func TestIndexer_StatusFCARunning(t *testing.T) {
	idx := newTestIndexer(Config{}, nil, nil, nil, nil, nil, nil, nil, nil)
	idx.updateSession(func(s *session) {
		s.FCALastStarted = time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	})

	if report := idx.Status(); !strings.Contains(report, "выполняется") {
		t.Errorf("незавершённый цикл FCA не отмечен в отчёте:\n%s", report)
	}
}

// TestCheckRegistryLimit: нулевой лимит — квота не ограничена.
func TestCheckRegistryLimit(t *testing.T) {
	filingRepo := newFakeFilingRepo()
	for i := 0; i < 3; i++ {
		filingRepo.Create(context.Background(), &model.NewFiling{
			RegistryCode:     model.RegistryCompaniesHouse,
			ExternalFilingID: string(rune('a' + i)),
			CompanyNumber:    "13056435",
			DownloadURL:      "https://doc.test/" + string(rune('a'+i)),
		})
	}

	tests := []struct {
		name     string
		limit    int
		registry model.RegistryCode
		want     bool
	}{
		{"без лимита", 0, model.RegistryCompaniesHouse, true},
		{"лимит не достигнут", 5, model.RegistryCompaniesHouse, true},
		{"лимит достигнут", 3, model.RegistryCompaniesHouse, false},
		{"лимит другого реестра не влияет", 3, model.RegistryFCA, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := newTestIndexer(
				Config{FilingLimitCH: tt.limit, FilingLimitFCA: tt.limit},
				nil, nil, nil, nil, nil, filingRepo, nil, nil,
			)
			got, err := idx.checkRegistryLimit(context.Background(), tt.registry)
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if got != tt.want {
				t.Errorf("checkRegistryLimit() = %v, ожидали %v", got, tt.want)
			}
		})
	}
}

// TestUpdateSession_Concurrent: конкурентные обновления снимка сессии
// не теряются.
func TestUpdateSession_Concurrent(t *testing.T) {
	idx := newTestIndexer(Config{}, nil, nil, nil, nil, nil, nil, nil, nil)

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 250; j++ {
				idx.updateSession(func(s *session) { s.StreamFilingCount++ })
			}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	if got := idx.session.Load().StreamFilingCount; got != 1000 {
		t.Errorf("StreamFilingCount = %d, ожидали 1000", got)
	}
}

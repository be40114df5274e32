package fcaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestFetchAllSince проверяет выдачу и сборку download URL.
func TestFetchAllSince(t *testing.T) {
	var gotReq searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("ожидался POST, получен %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("ошибка декодирования запроса: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"total": 2,
			"hits": [
				{
					"seq_id": "seq-1",
					"company_name": "ACME PLC",
					"lei": "213800ABCDEFGH123456",
					"download_link": "/doc/seq-1.pdf",
					"html_link": "https://nsm.example.test/view/seq-1",
					"submitted_date": "2026-08-20"
				},
				{
					"seq_id": "seq-2",
					"company_name": "WIDGETS LTD",
					"lei": "213800ZYXWVUT654321",
					"download_link": "/doc/seq-2.pdf",
					"html_link": "https://nsm.example.test/view/seq-2",
					"submitted_date": "2026-08-21"
				}
			]
		}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "https://data.example.test", testLogger())

	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	filings, err := client.FetchAllSince(context.Background(), since)
	if err != nil {
		t.Fatalf("FetchAllSince вернул ошибку: %v", err)
	}

	if gotReq.SubmittedAfter != "2026-08-01" {
		t.Errorf("submitted_after = %q, ожидали 2026-08-01", gotReq.SubmittedAfter)
	}

	if len(filings) != 2 {
		t.Fatalf("получено %d публикаций, ожидали 2", len(filings))
	}

	f := filings[0]
	if f.SequenceID != "seq-1" {
		t.Errorf("SequenceID = %q, ожидали seq-1", f.SequenceID)
	}
	if f.CompanyName != "ACME PLC" {
		t.Errorf("CompanyName = %q, ожидали ACME PLC", f.CompanyName)
	}
	if f.LEI != "213800ABCDEFGH123456" {
		t.Errorf("LEI = %q", f.LEI)
	}
	if f.DownloadURL != "https://data.example.test/doc/seq-1.pdf" {
		t.Errorf("DownloadURL = %q, ожидали базовый URL + download_link", f.DownloadURL)
	}
	if !f.SubmittedDate.Equal(time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("SubmittedDate = %v, ожидали 2026-08-20", f.SubmittedDate)
	}
}

// TestFetchAllSince_Pagination проверяет постраничную выборку.
func TestFetchAllSince_Pagination(t *testing.T) {
	const total = 250 // 3 страницы при pageSize=100

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("ошибка декодирования запроса: %v", err)
		}

		count := pageSize
		if req.From+count > total {
			count = total - req.From
		}

		resp := searchResponse{Total: total}
		for i := 0; i < count; i++ {
			resp.Hits = append(resp.Hits, struct {
				SeqID         string `json:"seq_id"`
				CompanyName   string `json:"company_name"`
				LEI           string `json:"lei"`
				DownloadLink  string `json:"download_link"`
				InfoLink      string `json:"html_link"`
				SubmittedDate string `json:"submitted_date"`
			}{
				SeqID:         fmt.Sprintf("seq-%d", req.From+i),
				SubmittedDate: "2026-08-15",
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "https://data.example.test", testLogger())

	filings, err := client.FetchAllSince(context.Background(), time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("FetchAllSince вернул ошибку: %v", err)
	}

	if len(filings) != total {
		t.Errorf("получено %d публикаций, ожидали %d", len(filings), total)
	}
	if filings[total-1].SequenceID != fmt.Sprintf("seq-%d", total-1) {
		t.Errorf("последняя публикация = %q, страницы пересекаются или потеряны", filings[total-1].SequenceID)
	}
}

// TestFetchAllSince_BadDate проверяет ошибку на некорректной дате подачи.
func TestFetchAllSince_BadDate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total": 1, "hits": [{"seq_id": "seq-1", "submitted_date": "31/03/2026"}]}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "https://data.example.test", testLogger())

	if _, err := client.FetchAllSince(context.Background(), time.Now()); err == nil {
		t.Error("FetchAllSince должен вернуть ошибку на некорректной дате")
	}
}

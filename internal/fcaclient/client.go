// Пакет fcaclient реализует клиент поискового API
// FCA National Storage Mechanism.
package fcaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// pageSize — размер страницы поисковой выдачи.
const pageSize = 100

// Filing — публикация из выдачи поискового API FCA.
type Filing struct {
	// SequenceID — уникальный идентификатор публикации в NSM.
	SequenceID string
	// CompanyName — название организации.
	CompanyName string
	// LEI — Legal Entity Identifier организации.
	LEI string
	// DownloadURL — полный URL скачивания документа.
	DownloadURL string
	// InfoURL — страница публикации на сайте FCA.
	InfoURL string
	// SubmittedDate — дата подачи документа.
	SubmittedDate time.Time
}

// searchRequest — тело POST-запроса к поисковому API.
type searchRequest struct {
	From           int    `json:"from"`
	Size           int    `json:"size"`
	SubmittedAfter string `json:"submitted_after"`
	SortBy         string `json:"sort_by"`
}

// searchResponse — ответ поискового API.
type searchResponse struct {
	Total int `json:"total"`
	Hits  []struct {
		SeqID         string `json:"seq_id"`
		CompanyName   string `json:"company_name"`
		LEI           string `json:"lei"`
		DownloadLink  string `json:"download_link"`
		InfoLink      string `json:"html_link"`
		SubmittedDate string `json:"submitted_date"`
	} `json:"hits"`
}

// Client — клиент поискового API FCA NSM.
type Client struct {
	searchURL  string
	dataURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient создаёт клиент FCA. searchURL — поисковый эндпоинт,
// dataURL — базовый URL хранилища документов.
func NewClient(searchURL, dataURL string, logger *slog.Logger) *Client {
	return &Client{
		searchURL:  searchURL,
		dataURL:    dataURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With(slog.String("component", "fca_client")),
	}
}

// FetchAllSince возвращает все публикации, поданные начиная с указанной даты.
// Выдача забирается постранично до исчерпания.
func (c *Client) FetchAllSince(ctx context.Context, since time.Time) ([]Filing, error) {
	var filings []Filing

	for from := 0; ; from += pageSize {
		page, total, err := c.fetchPage(ctx, since, from)
		if err != nil {
			return nil, err
		}
		filings = append(filings, page...)

		if from+pageSize >= total || len(page) == 0 {
			break
		}
	}

	c.logger.Debug("Выдача FCA получена",
		slog.Time("since", since),
		slog.Int("count", len(filings)),
	)

	return filings, nil
}

// fetchPage забирает одну страницу поисковой выдачи.
func (c *Client) fetchPage(ctx context.Context, since time.Time, from int) ([]Filing, int, error) {
	body, err := json.Marshal(searchRequest{
		From:           from,
		Size:           pageSize,
		SubmittedAfter: since.Format("2006-01-02"),
		SortBy:         "submitted_date",
	})
	if err != nil {
		return nil, 0, fmt.Errorf("сериализация поискового запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.searchURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("создание поискового запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("запрос поискового API FCA: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, 0, fmt.Errorf("поисковый API FCA вернул статус %d: %s", resp.StatusCode, string(respBody))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, 0, fmt.Errorf("декодирование поисковой выдачи FCA: %w", err)
	}

	filings := make([]Filing, 0, len(sr.Hits))
	for _, hit := range sr.Hits {
		submitted, err := time.Parse("2006-01-02", hit.SubmittedDate)
		if err != nil {
			return nil, 0, fmt.Errorf("разбор даты подачи %q (seq_id %s): %w", hit.SubmittedDate, hit.SeqID, err)
		}

		filings = append(filings, Filing{
			SequenceID:    hit.SeqID,
			CompanyName:   hit.CompanyName,
			LEI:           hit.LEI,
			DownloadURL:   c.dataURL + hit.DownloadLink,
			InfoURL:       hit.InfoLink,
			SubmittedDate: submitted,
		})
	}

	return filings, sr.Total, nil
}

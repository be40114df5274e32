package chclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша URL документов.
var (
	docCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fi_ch_doc_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш URL документов CH.",
	})
	docCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fi_ch_doc_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша URL документов CH.",
	})
)

// filingHistoryLinks — блок links ресурса filing history.
type filingHistoryLinks struct {
	DocumentMetadata string `json:"document_metadata"`
}

// associatedFiling — связанная отчётность внутри транзакции filing history.
type associatedFiling struct {
	Links filingHistoryLinks `json:"links"`
}

// filingHistoryTransaction — ответ information API
// GET /company/{companyNumber}/filing-history/{resourceID}.
type filingHistoryTransaction struct {
	TransactionID    string             `json:"transaction_id"`
	Links            filingHistoryLinks `json:"links"`
	AssociatedFiling []associatedFiling `json:"associated_filings"`
}

// Client — клиент information API Companies House.
// Разрешает событие потока в набор URL документов для скачивания.
type Client struct {
	informationURL string
	documentURL    string
	apiKey         string
	httpClient     *http.Client
	cache          *expirable.LRU[string, []string]
	logger         *slog.Logger
}

// NewClient создаёт клиент information API.
// documentURL — базовый URL document API для относительных ссылок
// document_metadata. cacheSize/cacheTTL — параметры LRU-кэша результатов
// поиска документов: поток нередко доставляет несколько событий одной
// транзакции подряд.
func NewClient(informationURL, documentURL, apiKey string, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) *Client {
	return &Client{
		informationURL: informationURL,
		documentURL:    documentURL,
		apiKey:         apiKey,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		cache:          expirable.NewLRU[string, []string](cacheSize, nil, cacheTTL),
		logger:         logger.With(slog.String("component", "ch_client")),
	}
}

// GetCompanyFilingURLs возвращает набор URL документов для транзакции
// filing history: document_metadata самой транзакции плюс связанных
// отчётностей, каждый с суффиксом /content (download URL document API).
// resourceID — resource_id события потока, не transaction_id.
// Результат кэшируется. 429 от провайдера — ErrRateLimited.
func (c *Client) GetCompanyFilingURLs(ctx context.Context, companyNumber, resourceID string) ([]string, error) {
	cacheKey := companyNumber + "/" + resourceID
	if urls, ok := c.cache.Get(cacheKey); ok {
		docCacheHitsTotal.Inc()
		return urls, nil
	}
	docCacheMissesTotal.Inc()

	reqURL := fmt.Sprintf("%s/company/%s/filing-history/%s", c.informationURL, companyNumber, resourceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса filing history: %w", err)
	}
	req.SetBasicAuth(c.apiKey, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос filing history %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: information API", ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("information API вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var tx filingHistoryTransaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, fmt.Errorf("декодирование filing history %s: %w", reqURL, err)
	}

	// Собираем document_metadata транзакции и связанных отчётностей.
	// Дубликаты исключаются, порядок сохраняется.
	seen := make(map[string]bool)
	var urls []string
	addMetadata := func(metadataURL string) {
		if metadataURL == "" {
			return
		}
		// Относительная ссылка разрешается против базового URL document API
		if strings.HasPrefix(metadataURL, "/") {
			metadataURL = c.documentURL + metadataURL
		}
		downloadURL := metadataURL + "/content"
		if !seen[downloadURL] {
			seen[downloadURL] = true
			urls = append(urls, downloadURL)
		}
	}
	addMetadata(tx.Links.DocumentMetadata)
	for _, af := range tx.AssociatedFiling {
		addMetadata(af.Links.DocumentMetadata)
	}

	if len(urls) == 0 {
		c.logger.Debug("Транзакция без document_metadata",
			slog.String("company_number", companyNumber),
			slog.String("resource_id", resourceID),
		)
	}

	c.cache.Add(cacheKey, urls)
	return urls, nil
}

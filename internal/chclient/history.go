package chclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// downloadList — ответ bulk-data сервиса со списком доступных архивов.
type downloadList struct {
	Downloads []string `json:"downloads"`
}

// HistoryClient — клиент bulk-data сервиса Companies House.
// Перечисляет доступные архивы (daily/monthly/full) и скачивает их.
type HistoryClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHistoryClient создаёт клиент bulk-data сервиса.
// Архивы публичны, авторизация не требуется.
func NewHistoryClient(baseURL string, logger *slog.Logger) *HistoryClient {
	return &HistoryClient{
		baseURL: baseURL,
		// Архивы крупные: отдельный щедрый таймаут на скачивание
		httpClient: &http.Client{Timeout: 30 * time.Minute},
		logger:     logger.With(slog.String("component", "ch_history_client")),
	}
}

// DailyDownloadLinks возвращает список URL ежедневных архивов.
func (c *HistoryClient) DailyDownloadLinks(ctx context.Context) ([]string, error) {
	return c.downloadLinks(ctx, "daily")
}

// MonthlyDownloadLinks возвращает список URL ежемесячных архивов.
func (c *HistoryClient) MonthlyDownloadLinks(ctx context.Context) ([]string, error) {
	return c.downloadLinks(ctx, "monthly")
}

// FullDownloadLinks возвращает список URL полных исторических архивов.
func (c *HistoryClient) FullDownloadLinks(ctx context.Context) ([]string, error) {
	return c.downloadLinks(ctx, "full")
}

// downloadLinks запрашивает список архивов указанной категории.
func (c *HistoryClient) downloadLinks(ctx context.Context, category string) ([]string, error) {
	reqURL := fmt.Sprintf("%s/archives/%s", c.baseURL, category)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса списка архивов: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос списка архивов %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bulk-data сервис вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var list downloadList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("декодирование списка архивов %s: %w", reqURL, err)
	}

	return list.Downloads, nil
}

// DownloadArchive скачивает архив во временный файл и возвращает его путь.
// Удаление файла — обязанность вызывающего кода.
func (c *HistoryClient) DownloadArchive(ctx context.Context, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("создание запроса архива: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("скачивание архива %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bulk-data сервис вернул статус %d для %s", resp.StatusCode, uri)
	}

	tempFile, err := os.CreateTemp("", "ch-archive-*.zip")
	if err != nil {
		return "", fmt.Errorf("создание временного файла: %w", err)
	}

	written, err := io.Copy(tempFile, resp.Body)
	closeErr := tempFile.Close()
	if err != nil {
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("запись архива %s: %w", uri, err)
	}
	if closeErr != nil {
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("закрытие временного файла: %w", closeErr)
	}

	c.logger.Debug("Архив скачан",
		slog.String("uri", uri),
		slog.String("path", tempFile.Name()),
		slog.Int64("bytes", written),
	)

	return tempFile.Name(), nil
}

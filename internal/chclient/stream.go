package chclient

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StreamHandler — обработчик одной строки потока.
// Возвращает false, чтобы остановить чтение и закрыть соединение.
// Пустые строки-heartbeat'ы поток передаёт обработчику как есть —
// пропускать их обязан вызывающий код.
type StreamHandler func(line string) bool

// StreamClient — клиент streaming API Companies House.
// Держит одно долгоживущее HTTP-соединение и читает
// newline-delimited JSON события неограниченно долго.
type StreamClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewStreamClient создаёт клиент streaming API.
// apiKey передаётся как username HTTP Basic с пустым паролем:
// https://developer-specs.company-information.service.gov.uk/streaming-api/guides/authentication
func NewStreamClient(baseURL, apiKey string, logger *slog.Logger) *StreamClient {
	// Без Client.Timeout: соединение живёт минуты и дольше.
	// Таймауты только на установку соединения и заголовки ответа.
	httpClient := &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}

	return &StreamClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "ch_stream_client")),
	}
}

// StreamFilings открывает поток событий filing history, при необходимости
// возобновляя с курсора timepoint, и передаёт каждую строку обработчику.
// Блокируется на всё время жизни соединения.
//
// Возврат nil — обработчик запросил остановку либо сервер штатно закрыл
// поток. ErrRateLimited — провайдер вернул 429. ErrConnection — сбой
// чтения из установленного соединения.
func (c *StreamClient) StreamFilings(ctx context.Context, timepoint *int64, handler StreamHandler) error {
	url := c.baseURL + "/filings"
	if timepoint != nil {
		url = fmt.Sprintf("%s?timepoint=%d", url, *timepoint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("создание запроса потока: %w", err)
	}
	req.SetBasicAuth(c.apiKey, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: streaming API", ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: streaming API вернул статус %d", ErrConnection, resp.StatusCode)
	}

	c.logger.Debug("Поток событий открыт", slog.String("url", c.baseURL+"/filings"))

	scanner := bufio.NewScanner(resp.Body)
	// События filing history бывают крупными
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if !handler(scanner.Text()) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		// Отмена контекста — штатная остановка при shutdown
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	// Сервер закрыл поток без ошибки: конец цикла, поллер переоткроет.
	return nil
}

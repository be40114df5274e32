// Пакет queue реализует обмен заданиями и результатами с пулом
// внешних воркеров через NATS JetStream.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/filingindex/internal/domain/model"
)

var (
	jobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fi_queue_jobs_submitted_total",
		Help: "Количество заданий, отправленных в очередь воркеров",
	})
	resultsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fi_queue_results_received_total",
		Help: "Количество результатов, полученных из очереди, по исходу",
	}, []string{"outcome"})
)

// fetchBatchSize — размер пакета при выборке результатов.
const fetchBatchSize = 32

// Config — параметры очередей JetStream.
type Config struct {
	URL             string
	JobsStream      string
	JobsSubject     string
	ResultsStream   string
	ResultsSubject  string
	ResultsConsumer string
}

// Manager — менеджер очередей заданий и результатов.
type Manager struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	cfg    Config
	logger *slog.Logger
}

// NewManager подключается к NATS и создаёт контекст JetStream.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("filing-index"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("подключение к NATS %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("создание контекста JetStream: %w", err)
	}

	return &Manager{
		nc:     nc,
		js:     js,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "queue_manager")),
	}, nil
}

// EnsureStreams создаёт (или обновляет) стримы заданий и результатов.
func (m *Manager) EnsureStreams(ctx context.Context) error {
	_, err := m.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      m.cfg.JobsStream,
		Subjects:  []string{m.cfg.JobsSubject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("создание стрима заданий %s: %w", m.cfg.JobsStream, err)
	}

	_, err = m.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      m.cfg.ResultsStream,
		Subjects:  []string{m.cfg.ResultsSubject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("создание стрима результатов %s: %w", m.cfg.ResultsStream, err)
	}

	return nil
}

// jobPayload — задание воркеру на обработку отчётности.
type jobPayload struct {
	FilingID      string `json:"filing_id"`
	RegistryCode  string `json:"registry_code"`
	CompanyNumber string `json:"company_number"`
	DownloadURL   string `json:"download_url"`
}

// resultPayload — результат обработки в формате воркера.
// DocumentDate передаётся строкой в формате YYYY-MM-DD.
type resultPayload struct {
	FilingID         string `json:"FilingId"`
	Success          bool   `json:"Success"`
	Error            string `json:"Error"`
	CompanyName      string `json:"CompanyName"`
	CompanyNumber    string `json:"CompanyNumber"`
	DocumentDate     string `json:"DocumentDate"`
	ViewerEntrypoint string `json:"ViewerEntrypoint"`
	Logs             string `json:"Logs"`
}

// toResult разбирает payload в доменный результат.
func (p *resultPayload) toResult() (*model.FilingResult, error) {
	filingID, err := uuid.Parse(p.FilingID)
	if err != nil {
		return nil, fmt.Errorf("разбор FilingId %q: %w", p.FilingID, err)
	}

	result := &model.FilingResult{
		FilingID:         filingID,
		Success:          p.Success,
		Error:            p.Error,
		CompanyName:      p.CompanyName,
		CompanyNumber:    p.CompanyNumber,
		ViewerEntrypoint: p.ViewerEntrypoint,
		Logs:             p.Logs,
	}

	if p.DocumentDate != "" {
		docDate, err := time.Parse("2006-01-02", p.DocumentDate)
		if err != nil {
			return nil, fmt.Errorf("разбор DocumentDate %q: %w", p.DocumentDate, err)
		}
		result.DocumentDate = &docDate
	}

	return result, nil
}

// SubmitJobs публикует задания для переданных отчётностей.
// После успешной публикации каждого задания вызывается onSubmitted;
// его ошибка логируется, но не прерывает отправку остальных.
// Возвращает количество опубликованных заданий.
func (m *Manager) SubmitJobs(ctx context.Context, filings []model.Filing, onSubmitted func(model.Filing) error) (int, error) {
	submitted := 0

	for _, filing := range filings {
		payload, err := json.Marshal(jobPayload{
			FilingID:      filing.FilingID.String(),
			RegistryCode:  string(filing.RegistryCode),
			CompanyNumber: filing.CompanyNumber,
			DownloadURL:   filing.DownloadURL,
		})
		if err != nil {
			return submitted, fmt.Errorf("сериализация задания %s: %w", filing.FilingID, err)
		}

		if _, err := m.js.Publish(ctx, m.cfg.JobsSubject, payload); err != nil {
			return submitted, fmt.Errorf("публикация задания %s: %w", filing.FilingID, err)
		}

		jobsSubmittedTotal.Inc()
		submitted++

		if err := onSubmitted(filing); err != nil {
			m.logger.Warn("Ошибка фиксации отправленного задания",
				slog.String("filing_id", filing.FilingID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	return submitted, nil
}

// ConsumeResults выбирает накопившиеся результаты из очереди и передаёт
// их обработчику. apply возвращает true, если результат обработан и
// сообщение можно подтвердить; false — сообщение будет передоставлено.
// Выборка продолжается, пока очередь не опустеет.
func (m *Manager) ConsumeResults(ctx context.Context, apply func(*model.FilingResult) bool) error {
	stream, err := m.js.Stream(ctx, m.cfg.ResultsStream)
	if err != nil {
		return fmt.Errorf("получение стрима результатов: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       m.cfg.ResultsConsumer,
		FilterSubject: m.cfg.ResultsSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       time.Minute,
		MaxDeliver:    10,
	})
	if err != nil {
		return fmt.Errorf("создание консьюмера результатов: %w", err)
	}

	for {
		batch, err := consumer.Fetch(fetchBatchSize, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				return nil
			}
			return fmt.Errorf("выборка результатов: %w", err)
		}

		received := 0
		for msg := range batch.Messages() {
			received++
			m.handleResultMessage(msg, apply)
		}

		if err := batch.Error(); err != nil {
			return fmt.Errorf("пакет результатов: %w", err)
		}

		// Пустой пакет — очередь исчерпана
		if received == 0 {
			return nil
		}
	}
}

// handleResultMessage разбирает одно сообщение результата и подтверждает
// либо возвращает его в очередь.
func (m *Manager) handleResultMessage(msg jetstream.Msg, apply func(*model.FilingResult) bool) {
	var payload resultPayload
	if err := json.Unmarshal(msg.Data(), &payload); err != nil {
		// Нечитаемое сообщение передоставлять бессмысленно
		m.logger.Error("Нечитаемый результат, сообщение отброшено",
			slog.String("error", err.Error()),
		)
		resultsReceivedTotal.WithLabelValues("malformed").Inc()
		if err := msg.Ack(); err != nil {
			m.logger.Warn("Ошибка подтверждения сообщения", slog.String("error", err.Error()))
		}
		return
	}

	result, err := payload.toResult()
	if err != nil {
		m.logger.Error("Некорректный результат, сообщение отброшено",
			slog.String("filing_id", payload.FilingID),
			slog.String("error", err.Error()),
		)
		resultsReceivedTotal.WithLabelValues("malformed").Inc()
		if err := msg.Ack(); err != nil {
			m.logger.Warn("Ошибка подтверждения сообщения", slog.String("error", err.Error()))
		}
		return
	}

	if apply(result) {
		resultsReceivedTotal.WithLabelValues("applied").Inc()
		if err := msg.Ack(); err != nil {
			m.logger.Warn("Ошибка подтверждения сообщения",
				slog.String("filing_id", result.FilingID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	resultsReceivedTotal.WithLabelValues("retried").Inc()
	if err := msg.Nak(); err != nil {
		m.logger.Warn("Ошибка возврата сообщения в очередь",
			slog.String("filing_id", result.FilingID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// Close закрывает подключение к NATS с дожиданием отправки буферов.
func (m *Manager) Close() {
	if err := m.nc.Drain(); err != nil {
		m.logger.Warn("Ошибка закрытия подключения к NATS", slog.String("error", err.Error()))
	}
}

// ReadinessChecker проверяет состояние подключения к NATS
// для эндпоинта /health/ready.
type ReadinessChecker struct {
	nc *nats.Conn
}

// NewReadinessChecker создаёт проверку готовности NATS.
func (m *Manager) NewReadinessChecker() *ReadinessChecker {
	return &ReadinessChecker{nc: m.nc}
}

// CheckReady возвращает статус подключения к NATS.
func (c *ReadinessChecker) CheckReady() (string, string) {
	if c.nc.Status() != nats.CONNECTED {
		return "fail", fmt.Sprintf("NATS: состояние подключения %s", c.nc.Status())
	}
	return "ok", "NATS: подключение активно"
}

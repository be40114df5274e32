// scheduler.go — планировщик периодических задач индексера.
//
// Все задачи выполняются в режиме fixed-delay: следующий запуск
// планируется через interval ПОСЛЕ завершения предыдущего. Это
// исключает наложение запусков одной задачи при долгих циклах.
//
// Задачи делятся на две полосы:
//   - dedicated — отдельная горутина без ограничений (поллер потока CH
//     блокируется на долгоживущем HTTP-соединении и не должен занимать
//     общий пул);
//   - общий пул — ограничен семафором, чтобы тяжёлые циклы (архивы,
//     FCA) не выполнялись все одновременно.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var taskRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fi_scheduler_task_runs_total",
	Help: "Количество запусков периодических задач, по задаче и исходу",
}, []string{"task", "outcome"})

// sharedPoolSize — ёмкость общего пула задач.
const sharedPoolSize = 2

// Task — периодическая задача планировщика.
type Task struct {
	// Name — имя задачи для логов и метрик.
	Name string
	// Interval — пауза между завершением и следующим запуском.
	Interval time.Duration
	// Dedicated — запускать в отдельной полосе, минуя общий пул.
	Dedicated bool
	// Run — один цикл задачи.
	Run func(ctx context.Context) cycleOutcome
}

// Scheduler — планировщик периодических задач с fixed-delay семантикой.
type Scheduler struct {
	tasks  []Task
	logger *slog.Logger

	sem    chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler создаёт планировщик для переданных задач.
func NewScheduler(tasks []Task, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tasks:  tasks,
		logger: logger.With(slog.String("component", "scheduler")),
		sem:    make(chan struct{}, sharedPoolSize),
	}
}

// Start запускает по горутине на задачу.
// Вызывается один раз при старте приложения.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runLoop(ctx, task)
	}

	s.logger.Info("Планировщик запущен",
		slog.Int("tasks", len(s.tasks)),
		slog.Int("shared_pool", sharedPoolSize),
	)
}

// Stop останавливает все задачи и ждёт завершения текущих циклов.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Планировщик остановлен")
}

// runLoop — цикл одной задачи: запуск, пауза interval, повтор.
func (s *Scheduler) runLoop(ctx context.Context, task Task) {
	defer s.wg.Done()

	s.logger.Info("Задача запущена",
		slog.String("task", task.Name),
		slog.String("interval", task.Interval.String()),
		slog.Bool("dedicated", task.Dedicated),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Задача остановлена", slog.String("task", task.Name))
			return
		case <-timer.C:
		}

		outcome := s.runOnce(ctx, task)
		if ctx.Err() != nil {
			s.logger.Info("Задача остановлена", slog.String("task", task.Name))
			return
		}

		taskRunsTotal.WithLabelValues(task.Name, outcome.String()).Inc()
		if outcome == outcomeFatal {
			s.logger.Warn("Цикл задачи завершился с ошибкой",
				slog.String("task", task.Name),
			)
		}

		timer.Reset(task.Interval)
	}
}

// runOnce выполняет один цикл задачи, при необходимости через общий пул.
func (s *Scheduler) runOnce(ctx context.Context, task Task) cycleOutcome {
	if !task.Dedicated {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			return outcomeContinue
		}
	}

	started := time.Now()
	outcome := task.Run(ctx)

	s.logger.Debug("Цикл задачи завершён",
		slog.String("task", task.Name),
		slog.String("outcome", outcome.String()),
		slog.String("duration", time.Since(started).Round(time.Millisecond).String()),
	)

	return outcome
}

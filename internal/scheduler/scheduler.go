package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultResolution 작업 실행 여부를 확인하는 기본 주기
const DefaultResolution = time.Second

var errPanic = errors.New("scheduled task panicked")

// Task 등록된 주기적 작업
type Task struct {
	Name      string
	Interval  time.Duration
	Handler   func(ctx context.Context) error
	LastRun   time.Time
	NextRun   time.Time
	RunCount  int64
	LastError error
}

// TaskInfo 작업 정보 (JSON 응답용)
type TaskInfo struct {
	Name      string    `json:"name"`
	Interval  string    `json:"interval"`
	LastRun   time.Time `json:"last_run"`
	NextRun   time.Time `json:"next_run"`
	RunCount  int64     `json:"run_count"`
	LastError *string   `json:"last_error,omitempty"`
}

// Scheduler in-process 주기 작업 실행기 (풀 마감 처리 등)
type Scheduler struct {
	tasks      []*Task
	mu         sync.RWMutex
	logger     zerolog.Logger
	resolution time.Duration
	now        func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 스케줄러 생성. resolution 이 0 이하면 DefaultResolution
func New(logger zerolog.Logger, resolution time.Duration) *Scheduler {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	return &Scheduler{
		logger:     logger.With().Str("component", "scheduler").Logger(),
		resolution: resolution,
		now:        time.Now,
	}
}

// Register 주기적 작업 등록. 첫 실행은 interval 뒤
func (s *Scheduler) Register(name string, interval time.Duration, handler func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = append(s.tasks, &Task{
		Name:     name,
		Interval: interval,
		Handler:  handler,
		NextRun:  s.now().Add(interval),
	})
	s.logger.Info().Str("task", name).Dur("interval", interval).Msg("scheduled task registered")
}

// Start 백그라운드 실행. ctx 가 취소되거나 Stop 이 호출되면 멈춘다
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.resolution)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx, s.now())
			}
		}
	}()
	s.logger.Info().Dur("resolution", s.resolution).Msg("scheduler started")
}

// Stop 실행 중인 작업이 끝날 때까지 기다린다
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

// tick 실행 대상 작업 체크 및 실행
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.RLock()
	tasks := make([]*Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.RUnlock()

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		if now.Before(task.NextRun) {
			continue
		}

		err := s.run(ctx, task)

		s.mu.Lock()
		task.LastError = err
		task.LastRun = now
		task.NextRun = now.Add(task.Interval)
		task.RunCount++
		s.mu.Unlock()
	}
}

func (s *Scheduler) run(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("task", task.Name).Interface("panic", r).Msg("scheduled task panicked")
			err = errPanic
		}
	}()

	if err = task.Handler(ctx); err != nil {
		s.logger.Error().Err(err).Str("task", task.Name).Msg("scheduled task failed")
		return err
	}
	s.logger.Debug().Str("task", task.Name).Msg("scheduled task done")
	return nil
}

// Tasks 등록된 작업 목록 조회 (모니터링용)
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		info := TaskInfo{
			Name:     t.Name,
			Interval: t.Interval.String(),
			LastRun:  t.LastRun,
			NextRun:  t.NextRun,
			RunCount: t.RunCount,
		}
		if t.LastError != nil {
			msg := t.LastError.Error()
			info.LastError = &msg
		}
		result = append(result, info)
	}
	return result
}

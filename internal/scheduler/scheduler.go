// Package scheduler runs the monitoring loop and the housekeeping cron jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"QDIIRadar/internal/calendar"
	"QDIIRadar/internal/metrics"
	"QDIIRadar/internal/model"
	"QDIIRadar/internal/notifier"
)

// Housekeeping is the store surface used by cron jobs and ops commands.
type Housekeeping interface {
	PruneStates(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context, now time.Time) (model.NotificationStats, error)
}

// Scheduler owns the Monitor and the cron tasks around it.
type Scheduler struct {
	Cron          *cron.Cron
	Monitor       *Monitor
	Store         Housekeeping
	Calendar      *calendar.Service
	RetentionDays int
	Ctx           context.Context
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, mon *Monitor, store Housekeeping, cal *calendar.Service, retentionDays int) *Scheduler {
	return &Scheduler{
		Cron:          cron.New(cron.WithSeconds()),
		Monitor:       mon,
		Store:         store,
		Calendar:      cal,
		RetentionDays: retentionDays,
		Ctx:           ctx,
	}
}

// RegisterAll registers the retention prune and calendar warm-up tasks.
func (s *Scheduler) RegisterAll(pruneCron, calendarCron string) error {
	if _, err := s.Cron.AddFunc(pruneCron, s.pruneTask); err != nil {
		return fmt.Errorf("register prune task: %w", err)
	}
	if _, err := s.Cron.AddFunc(calendarCron, s.calendarTask); err != nil {
		return fmt.Errorf("register calendar task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info().Int("jobs", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

// PruneNow deletes fund states older than the retention period.
func (s *Scheduler) PruneNow(ctx context.Context) (int64, error) {
	if s.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)
	n, err := s.Store.PruneStates(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.StatesPruned.Add(float64(n))
	return n, nil
}

func (s *Scheduler) pruneTask() {
	n, err := s.PruneNow(s.Ctx)
	if err != nil {
		log.Error().Err(err).Msg("prune fund states failed")
		return
	}
	log.Info().Int64("rows", n).Int("retention_days", s.RetentionDays).Msg("fund states pruned")
}

func (s *Scheduler) calendarTask() {
	if s.Calendar == nil {
		return
	}
	open, err := s.Calendar.Warm(s.Ctx)
	if err != nil {
		log.Warn().Err(err).Msg("calendar warm-up failed")
		return
	}
	log.Info().Bool("trading_day", open).Msg("calendar warmed")
}

// HandleCommand processes an ops command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	switch command {
	case "/status", "查看状态":
		return notifier.FormatStatus(s.Monitor.Status(ctx))
	case "/stats", "查看统计":
		stats, err := s.Store.Stats(ctx, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("stats command failed")
			return "❌ 统计读取失败"
		}
		return notifier.FormatStats(stats)
	case "/check", "立即检查":
		res, err := s.Monitor.RunCycle(ctx)
		if err != nil {
			return fmt.Sprintf("❌ 检查失败: %v", err)
		}
		if res.Skipped != "" {
			return "⏭ 跳过: " + res.Skipped
		}
		return fmt.Sprintf("✅ 检查完成\n基金: %d | 触发: %d | 发送: %d | 抑制: %d", res.Evaluated, res.Fired, res.Sent, res.Suppressed)
	case "/start", "开始监控":
		switch err := s.Monitor.Start(ctx); {
		case err == nil:
			return "▶️ 监控已启动"
		case errors.Is(err, ErrAlreadyRunning):
			return "监控已在运行"
		case errors.Is(err, ErrEmailDisabled):
			return "❌ 邮件通知未启用，无法启动监控"
		default:
			return fmt.Sprintf("❌ 启动失败: %v", err)
		}
	case "/stop", "停止监控":
		s.Monitor.Stop()
		return "⏹ 监控已停止"
	default:
		return "可用命令:\n• /status 查看状态\n• /stats 查看统计\n• /check 立即检查\n• /start 开始监控\n• /stop 停止监控"
	}
}

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"niftycast/internal/logger"
)

// DailyScheduler 每天在指定时区的固定墙钟时间执行一次任务。
type DailyScheduler struct {
	RunAt          string // "HH:MM"
	Location       *time.Location
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewDailyScheduler(ctx context.Context, runAt string, loc *time.Location) (*DailyScheduler, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if loc == nil {
		loc = time.UTC
	}
	if _, err := time.Parse("15:04", strings.TrimSpace(runAt)); err != nil {
		return nil, fmt.Errorf("run_at 必须为 HH:MM 格式, got %q", runAt)
	}
	return &DailyScheduler{
		RunAt:    strings.TrimSpace(runAt),
		Location: loc,
		ctx:      ctx,
		nowFn:    time.Now,
	}, nil
}

// WithNowFn 替换时间源（测试用）。
func (s *DailyScheduler) WithNowFn(fn func() time.Time) *DailyScheduler {
	if fn != nil {
		s.nowFn = fn
	}
	return s
}

func (s *DailyScheduler) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("DailyScheduler: task is nil, exit")
		return
	}
	startAt := s.nowFn().In(s.Location)
	logger.Infof("DailyScheduler: started run_at=%s tz=%s run_immediately=%v at=%s",
		s.RunAt, s.Location, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		logger.Infof("DailyScheduler: RunImmediately=true, execute once before first alignment")
		task()
	}

	for {
		now := s.nowFn().In(s.Location)
		nextAt := s.NextRunAfter(now)
		wait := nextAt.Sub(now)
		logger.Infof("DailyScheduler: 下次执行=%s (in %s) | uptime=%s",
			nextAt.Format(time.RFC3339),
			wait.Truncate(time.Second),
			now.Sub(startAt).Truncate(time.Second),
		)
		if !s.waitUntil(nextAt) {
			return
		}
		task()
	}
}

// NextRunAfter 返回 now 之后最近的一次执行时间。
func (s *DailyScheduler) NextRunAfter(now time.Time) time.Time {
	local := now.In(s.Location)
	parsed, _ := time.Parse("15:04", s.RunAt)
	next := time.Date(local.Year(), local.Month(), local.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, s.Location)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *DailyScheduler) waitUntil(target time.Time) bool {
	now := s.nowFn()
	wait := target.Sub(now)
	if wait <= 0 {
		select {
		case <-s.ctx.Done():
			logger.Infof("DailyScheduler: ctx done, exit")
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(wait)
	select {
	case <-s.ctx.Done():
		timer.Stop()
		logger.Infof("DailyScheduler: ctx done, exit")
		return false
	case <-timer.C:
		return true
	}
}

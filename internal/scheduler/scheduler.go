// Package scheduler fires the ingest job on a cron schedule in UTC.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appconfig "cryptoingest/config"
	"cryptoingest/logger"
)

// Job is one scheduled invocation.
type Job func(ctx context.Context)

// Scheduler wraps a cron runner bound to a single job.
type Scheduler struct {
	cfg  appconfig.ScheduleConfig
	job  Job
	cron *cron.Cron
	run  cron.Job
	log  *logger.Log

	mu      sync.Mutex
	ctx     context.Context
	running bool
	wg      sync.WaitGroup
}

// New parses the cron expression (with seconds) and prepares the runner.
func New(cfg appconfig.ScheduleConfig, job Job) (*Scheduler, error) {
	if job == nil {
		return nil, fmt.Errorf("nil job")
	}
	log := logger.GetLogger()
	cl := cronLogger{entry: log.WithComponent("scheduler")}

	wrappers := []cron.JobWrapper{cron.Recover(cl)}
	if cfg.SkipIfRunning {
		wrappers = append(wrappers, cron.SkipIfStillRunning(cl))
	}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
	)

	s := &Scheduler{cfg: cfg, job: job, cron: c, log: log}
	// The startup run shares the wrapped job so SkipIfStillRunning sees it.
	s.run = cron.NewChain(wrappers...).Then(cron.FuncJob(s.fire))
	if _, err := c.AddJob(cfg.Cron, s.run); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Cron, err)
	}
	return s, nil
}

// Start begins firing the job. With RunOnStartup one invocation is started
// immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	if s.cfg.RunOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run.Run()
		}()
	}

	entries := s.cron.Entries()
	fields := logger.Fields{"schedule": s.cfg.Cron, "run_on_startup": s.cfg.RunOnStartup}
	if len(entries) > 0 {
		fields["next_run"] = entries[0].Next.Format(time.RFC3339)
	}
	s.log.WithComponent("scheduler").WithFields(fields).Info("scheduler started")
	return nil
}

// Stop prevents new invocations and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.log.WithComponent("scheduler").Info("stopping scheduler")
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.WithComponent("scheduler").Info("scheduler stopped")
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	s.job(ctx)
}

// cronLogger routes cron's own logging into logrus.
type cronLogger struct {
	entry *logger.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

func kvFields(kv []interface{}) logger.Fields {
	fields := make(logger.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields[key] = kv[i+1]
	}
	return fields
}

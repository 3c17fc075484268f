package escalation

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"restotrack/config"
	"restotrack/core/store"
	"restotrack/core/utils"
)

// Scheduler polls the durable job table on a fixed interval and feeds
// due jobs to the engine. Jobs stay incomplete on transient engine
// errors and are retried next tick; completion is compare-and-swap so
// two overlapping ticks cannot run the same job twice.
type Scheduler struct {
	engine      *Engine
	escalations store.EscalationStore
	cron        *cron.Cron
	cfg         *config.AppConfig
	logger      *utils.Logger
	entryID     cron.EntryID
}

func NewScheduler(engine *Engine, escalationStore store.EscalationStore, cfg *config.AppConfig, logger *utils.Logger) *Scheduler {
	return &Scheduler{
		engine:      engine,
		escalations: escalationStore,
		cron:        cron.New(cron.WithSeconds()),
		cfg:         cfg,
		logger:      logger,
	}
}

func (s *Scheduler) Start() error {
	if s == nil || s.cfg == nil || !s.cfg.Scheduler.Enabled {
		return nil
	}
	spec := fmt.Sprintf("@every %s", s.cfg.DispatchInterval())
	id, err := s.cron.AddFunc(spec, func() {
		s.Tick(context.Background())
	})
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	if s.logger != nil {
		s.logger.Infof("escalation scheduler started, interval %s", s.cfg.DispatchInterval())
	}
	return nil
}

func (s *Scheduler) Stop() {
	if s == nil || s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Tick drains one batch of due jobs. Each job is marked complete only
// after the engine handled it; a job whose handling errored is left due
// and retried on a later tick.
func (s *Scheduler) Tick(ctx context.Context) {
	limit := 20
	if s.cfg != nil && s.cfg.Scheduler.MaxJobsPerTick > 0 {
		limit = s.cfg.Scheduler.MaxJobsPerTick
	}
	jobs, err := s.escalations.ListDueEscalationJobs(ctx, utils.NowUTC(), limit)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("escalation tick: list due jobs: %v", err)
		}
		return
	}
	for _, job := range jobs {
		if err := s.engine.Escalate(ctx, job.IncidentID, job.ContactIndex); err != nil {
			if s.logger != nil {
				s.logger.Errorf("escalation tick: job %s incident %d: %v", job.ID, job.IncidentID, err)
			}
			continue
		}
		if err := s.escalations.CompleteEscalationJob(ctx, job.ID); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			if s.logger != nil {
				s.logger.Errorf("escalation tick: complete job %s: %v", job.ID, err)
			}
		}
	}
}

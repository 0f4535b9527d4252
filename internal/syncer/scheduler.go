package syncer

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler triggers a drain on a cron schedule as a safety net for missed
// connectivity events.
type Scheduler struct {
	engine  *Engine
	spec    string
	cron    *cron.Cron
	entryID cron.EntryID
	logger  *zerolog.Logger
}

func NewScheduler(engine *Engine, spec string, logger *zerolog.Logger) (*Scheduler, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &Scheduler{
		engine: engine,
		spec:   spec,
		cron:   cron.New(),
		logger: logger,
	}

	id, err := s.cron.AddFunc(spec, s.triggerSync)
	if err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	s.entryID = id
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Info().Str("schedule", s.spec).Msg("Starting drain scheduler")
	s.cron.Start()
}

// Stop waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Stopped drain scheduler")
}

func (s *Scheduler) triggerSync() {
	if s.engine.Draining() {
		s.logger.Debug().Msg("Drain already running, skipping scheduled run")
		return
	}
	if !s.engine.Online() {
		s.logger.Debug().Msg("Offline, skipping scheduled run")
		return
	}
	s.engine.trigger(TriggerSchedule, false)
}

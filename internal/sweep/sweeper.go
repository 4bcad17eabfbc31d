package sweep

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"pactline/internal/engine"
)

// Sweeper periodically applies the auto-breach predicate to active promises.
type Sweeper struct {
	Engine   engine.Engine
	Interval string
	Logger   *log.Logger

	cron *cron.Cron
}

func New(e engine.Engine, interval string) *Sweeper {
	return &Sweeper{Engine: e, Interval: interval}
}

func (s *Sweeper) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// Start schedules the recurring sweep. Interval uses Go duration syntax.
func (s *Sweeper) Start() error {
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}
	c := cron.New()
	_, err := c.AddFunc("@every "+s.Interval, func() {
		n, err := s.Engine.SweepAutoBreach(context.Background())
		if err != nil {
			s.logger().Printf("auto-breach sweep failed: %v", err)
			return
		}
		if n > 0 {
			s.logger().Printf("auto-breach sweep breached %d promise(s)", n)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep interval %q: %w", s.Interval, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

// RunOnce performs a single sweep, for the one-shot CLI command.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	return s.Engine.SweepAutoBreach(ctx)
}

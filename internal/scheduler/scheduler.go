// Package scheduler runs the periodic challenge expiry sweep
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Billy-Davies-2/ladder-bot/internal/ladder"
	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
)

// Tournaments is the set of live tournaments to sweep
type Tournaments interface {
	Each(fn func(*ladder.State))
}

// Scheduler expires overdue challenges on a cron spec
type Scheduler struct {
	c       *cron.Cron
	spec    string
	source  Tournaments
	timeout time.Duration
}

// New registers the sweep. spec accepts the standard 5-field syntax and
// descriptors such as "@every 1m"
func New(spec string, source Tournaments) (*Scheduler, error) {
	s := &Scheduler{
		c:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		spec:    spec,
		source:  source,
		timeout: 30 * time.Second,
	}
	_, err := s.c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Sweep expires overdue challenges in every tournament and returns how many
// were closed. A failing tournament does not stop the others
func (s *Scheduler) Sweep(ctx context.Context) int {
	expired := 0
	s.source.Each(func(st *ladder.State) {
		recs, err := st.Expire(ctx)
		if err != nil {
			logger.Warn("Expiry sweep failed", "tournament", st.Key().String(), "error", err)
			return
		}
		if len(recs) > 0 {
			logger.Info("Expired challenges", "tournament", st.Key().String(), "count", len(recs))
		}
		expired += len(recs)
	})
	return expired
}

func (s *Scheduler) Start() {
	logger.Info("Starting expiry scheduler", "cron", s.spec)
	s.c.Start()
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

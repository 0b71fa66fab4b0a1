package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/cppla/clubcheckin/services"
)

// GatewayProber is the part of the gateway monitor the scheduler drives.
type GatewayProber interface {
	Probe(ctx context.Context) services.GatewayStatusSnapshot
}

// Pruner drops expired local dedup state.
type Pruner interface {
	Prune() int
}

// Options lists the background jobs to schedule.
type Options struct {
	Gateway       GatewayProber
	ProbeInterval time.Duration
	Guard         Pruner
	PruneInterval time.Duration
}

// New builds a scheduler whose jobs never overlap with themselves.
func New(log *zap.Logger) *cron.Cron {
	if log == nil {
		log = zap.NewNop()
	}
	l := cron.PrintfLogger(zap.NewStdLog(log.Named("cron")))
	return cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
}

// InitCronJobs registers the jobs on c and starts it.
func InitCronJobs(c *cron.Cron, opts Options, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	if opts.Gateway != nil {
		interval := opts.ProbeInterval
		if interval <= 0 {
			interval = 3 * time.Second
		}
		gw := opts.Gateway
		_, err := c.AddFunc(every(interval), func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval+5*time.Second)
			defer cancel()
			gw.Probe(ctx)
		})
		if err != nil {
			return fmt.Errorf("schedule gateway probe: %w", err)
		}
		// first snapshot without waiting a full interval
		go gw.Probe(context.Background())
	}

	if opts.Guard != nil {
		interval := opts.PruneInterval
		if interval <= 0 {
			interval = time.Minute
		}
		guard := opts.Guard
		_, err := c.AddFunc(every(interval), func() {
			if n := guard.Prune(); n > 0 {
				log.Debug("pruned debounce marks", zap.Int("count", n))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule dedup prune: %w", err)
		}
	}

	c.Start()
	log.Info("cron jobs started", zap.Int("jobs", len(c.Entries())))
	return nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

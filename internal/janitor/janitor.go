package janitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/truco/pkg/mesas"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const (
	defaultInterval = time.Minute
	defaultGrace    = 30 * time.Second
	jobName         = "sweep-empty-mesas"
)

var errNilSweeper = errors.New("janitor: sweeper is nil")

// Sweeper removes seatless mesas older than grace.
type Sweeper interface {
	SweepEmptyTables(ctx context.Context, grace time.Duration) ([]mesas.TableID, error)
}

// Config controls how often the sweep runs and how old an empty mesa must be.
type Config struct {
	Interval time.Duration
	Grace    time.Duration
	// OnSweep runs after a sweep that removed at least one mesa.
	OnSweep func(ctx context.Context, removed []mesas.TableID)
}

// Janitor periodically deletes mesas that were left without seats.
type Janitor struct {
	sweeper   Sweeper
	cfg       Config
	logger    *zap.Logger
	scheduler gocron.Scheduler
	stopOnce  sync.Once
	stopErr   error
}

// New validates cfg and prepares a Janitor. Call Start to schedule it.
func New(sweeper Sweeper, cfg Config, logger *zap.Logger) (*Janitor, error) {
	if sweeper == nil {
		return nil, errNilSweeper
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Grace < 0 {
		cfg.Grace = defaultGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{sweeper: sweeper, cfg: cfg, logger: logger.Named("janitor")}, nil
}

// Start schedules the sweep job. The job stops when ctx is done or Shutdown is called.
func (janitor *Janitor) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("janitor scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(janitor.cfg.Interval),
		gocron.NewTask(func() {
			janitor.RunOnce(ctx)
		}),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("janitor job: %w", err)
	}
	janitor.scheduler = scheduler
	scheduler.Start()
	janitor.logger.Info("janitor started",
		zap.Duration("interval", janitor.cfg.Interval),
		zap.Duration("grace", janitor.cfg.Grace),
	)
	go func() {
		<-ctx.Done()
		_ = janitor.Shutdown()
	}()
	return nil
}

// RunOnce sweeps immediately and returns the removed mesa ids.
func (janitor *Janitor) RunOnce(ctx context.Context) []mesas.TableID {
	if ctx.Err() != nil {
		return nil
	}
	removed, err := janitor.sweeper.SweepEmptyTables(ctx, janitor.cfg.Grace)
	if err != nil {
		janitor.logger.Warn("sweep failed", zap.Error(err))
		return nil
	}
	if len(removed) == 0 {
		return nil
	}
	for _, tableID := range removed {
		janitor.logger.Info("empty mesa removed", zap.String("mesa_id", tableID.String()))
	}
	if janitor.cfg.OnSweep != nil {
		janitor.cfg.OnSweep(ctx, removed)
	}
	return removed
}

// Shutdown stops the scheduler. It is safe to call more than once.
func (janitor *Janitor) Shutdown() error {
	if janitor.scheduler == nil {
		return nil
	}
	janitor.stopOnce.Do(func() {
		janitor.stopErr = janitor.scheduler.Shutdown()
	})
	return janitor.stopErr
}

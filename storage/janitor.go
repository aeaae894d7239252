package storage

import (
	"FireDetServer/logger"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Janitor runs Store.Prune on a fixed interval.
type Janitor struct {
	scheduler gocron.Scheduler
	store     *Store
}

func NewJanitor(store *Store, interval time.Duration) (*Janitor, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	j := &Janitor{scheduler: scheduler, store: store}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(j.sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, err
	}
	return j, nil
}

func (j *Janitor) sweep() {
	removed, err := j.store.Prune(time.Now())
	if err != nil {
		logger.Log().Error("retention sweep failed", zap.String("dir", j.store.Dir()), zap.Error(err))
	}
	if removed > 0 {
		logger.Log().Info("retention sweep", zap.String("dir", j.store.Dir()), zap.Int("removed", removed))
	}
}

func (j *Janitor) Start() {
	j.scheduler.Start()
}

func (j *Janitor) Stop() error {
	return j.scheduler.Shutdown()
}

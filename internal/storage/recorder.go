package storage

import (
	"context"
	"time"

	"github.com/KevinKickass/OpenLaserCore/internal/dispatcher"
	"github.com/KevinKickass/OpenLaserCore/internal/job"
	"go.uber.org/zap"
)

// JobStore persists job history rows.
type JobStore interface {
	SaveJob(ctx context.Context, rec JobRecord) error
}

const saveTimeout = 5 * time.Second

// Recorder writes paused and finished jobs to a JobStore. Dispatcher events
// are queued so a slow database never blocks job execution.
type Recorder struct {
	store  JobStore
	logger *zap.Logger
	queue  chan JobRecord
}

func NewRecorder(store JobStore, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger,
		queue:  make(chan JobRecord, 64),
	}
}

// Handle is a dispatcher listener.
func (r *Recorder) Handle(ev dispatcher.Event) {
	if ev.Type != dispatcher.EventJobStatus || ev.Job == nil {
		return
	}
	if ev.Job.Status != job.StatusPaused && !ev.Job.Status.Terminal() {
		return
	}

	rec := JobRecord{
		ID:        ev.Job.ID,
		Title:     ev.Job.Title,
		Status:    ev.Job.Status.String(),
		ElapsedMs: ev.Job.ElapsedMs,
		Error:     ev.Job.Error,
	}
	if p := ev.Job.Progress; p != nil {
		rec.Done, rec.Total = p.Done, p.Total
	}

	select {
	case r.queue <- rec:
	default:
		r.logger.Warn("Job history queue full, dropping record",
			zap.String("job_id", rec.ID.String()),
			zap.String("status", rec.Status))
	}
}

// Run saves queued records until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case rec := <-r.queue:
			r.save(rec)
		case <-ctx.Done():
			for {
				select {
				case rec := <-r.queue:
					r.save(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) save(rec JobRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := r.store.SaveJob(ctx, rec); err != nil {
		r.logger.Error("Failed to record job",
			zap.String("job_id", rec.ID.String()),
			zap.Error(err))
	}
}

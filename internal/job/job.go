package job

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/OpenLaserCore/internal/device"
	"github.com/google/uuid"
)

var (
	// ErrAlreadyRunning is returned when Execute is called on a running job.
	ErrAlreadyRunning = errors.New("job already running")

	// ErrFinished is returned when Execute is called on a terminal job.
	ErrFinished = errors.New("job already finished")
)

// errPaused is returned by a body that stopped at a safe point on request.
var errPaused = errors.New("job paused")

// body is the job-specific part of a Job.
type body interface {
	run(ctx context.Context, j *Job, dev device.Device) error
}

// progresser is implemented by bodies that know how far they got.
type progresser interface {
	progress() Progress
}

// Progress counts processed units of a job.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Listener is called after every status change of a job.
type Listener func(j *Job, status Status)

// Job is one unit of work executed against a device.
//
// A job owns a cancellation signal that is merged with the context passed to
// Execute. Pausable jobs stop at their next safe point after RequestPause and
// can be resumed by calling Execute again.
type Job struct {
	id       uuid.UUID
	title    string
	pausable bool
	body     body

	ctx       context.Context
	cancel    context.CancelFunc
	runCancel context.CancelFunc

	pauseRequested atomic.Bool

	mu       sync.Mutex
	status   Status
	err      error
	elapsed  time.Duration
	started  time.Time
	runs     int
	released bool

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int
}

func newJob(title string, pausable bool, b body) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		id:        uuid.New(),
		title:     title,
		pausable:  pausable,
		body:      b,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]Listener),
	}
}

func (j *Job) ID() uuid.UUID  { return j.id }
func (j *Job) Title() string  { return j.title }
func (j *Job) Pausable() bool { return j.pausable }

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Err returns the error that failed or paused the job.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Elapsed is the accumulated execution time over all runs.
func (j *Job) Elapsed() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started.IsZero() {
		return j.elapsed
	}
	return j.elapsed + time.Since(j.started)
}

func (j *Job) Progress() Progress {
	if p, ok := j.body.(progresser); ok {
		return p.progress()
	}
	return Progress{}
}

// Subscribe registers l for status changes. The returned func removes it.
func (j *Job) Subscribe(l Listener) func() {
	j.listenersMu.Lock()
	defer j.listenersMu.Unlock()
	id := j.nextID
	j.nextID++
	j.listeners[id] = l
	return func() {
		j.listenersMu.Lock()
		delete(j.listeners, id)
		j.listenersMu.Unlock()
	}
}

// RequestPause asks a running pausable job to stop at its next safe point.
// It reports whether the request was accepted.
func (j *Job) RequestPause() bool {
	if !j.pausable || j.Status() != StatusRunning {
		return false
	}
	j.pauseRequested.Store(true)
	return true
}

func (j *Job) pauseDue() bool {
	return j.pauseRequested.Load()
}

// rehome homes dev when a resumed job finds the head position lost, as it
// is after a cancelled engrave or a reconnect.
func (j *Job) rehome(ctx context.Context, dev device.Device) error {
	j.mu.Lock()
	resumed := j.runs > 1
	j.mu.Unlock()
	if !resumed || dev.Position() != nil {
		return nil
	}
	return dev.Home(ctx)
}

// Cancel fires the job's own cancellation signal. A paused job is cancelled
// right away since nothing is running to observe the signal.
func (j *Job) Cancel() {
	j.cancel()

	j.mu.Lock()
	paused := j.status == StatusPaused
	runCancel := j.runCancel
	j.mu.Unlock()
	if runCancel != nil {
		runCancel()
	}
	if paused {
		j.finish(StatusCancelled, nil)
	}
}

// Execute runs the job against dev until it completes, fails, is cancelled
// or pauses. Cancellation and pausing are not errors. A body error is
// recorded and returned, except unexpected disconnection of a pausable job
// which pauses it instead.
func (j *Job) Execute(ctx context.Context, dev device.Device) error {
	j.mu.Lock()
	switch {
	case j.status == StatusRunning:
		j.mu.Unlock()
		return ErrAlreadyRunning
	case j.status.Terminal():
		j.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFinished, j.status)
	}
	runCtx, cancel := context.WithCancel(ctx)
	j.started = time.Now()
	j.err = nil
	j.runs++
	j.runCancel = cancel
	j.pauseRequested.Store(false)
	j.status = StatusRunning
	j.mu.Unlock()
	j.notify(StatusRunning)
	defer j.stopClock()
	defer cancel()

	stop := context.AfterFunc(j.ctx, cancel)
	defer stop()
	if j.ctx.Err() != nil {
		cancel()
	}

	err := j.body.run(runCtx, j, dev)
	switch {
	case err == nil:
		j.finish(StatusDone, nil)
		return nil

	case errors.Is(err, errPaused):
		j.setStatus(StatusPaused)
		return nil

	case runCtx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		j.finish(StatusCancelled, nil)
		return nil

	case j.pausable && errors.Is(err, device.ErrUnexpectedDisconnection):
		j.mu.Lock()
		j.err = err
		j.mu.Unlock()
		j.setStatus(StatusPaused)
		return nil

	default:
		j.finish(StatusFailed, err)
		return err
	}
}

func (j *Job) stopClock() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runCancel = nil
	if !j.started.IsZero() {
		j.elapsed += time.Since(j.started)
		j.started = time.Time{}
	}
}

// finish moves the job into a terminal status and releases its cancellation signal.
func (j *Job) finish(s Status, err error) {
	j.mu.Lock()
	if err != nil {
		j.err = err
	}
	release := !j.released
	j.released = true
	j.mu.Unlock()

	if release {
		j.cancel()
	}
	j.setStatus(s)
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	if j.status == s {
		j.mu.Unlock()
		return
	}
	j.status = s
	j.mu.Unlock()
	j.notify(s)
}

func (j *Job) notify(s Status) {
	j.listenersMu.Lock()
	ids := make([]int, 0, len(j.listeners))
	for id := range j.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, j.listeners[id])
	}
	j.listenersMu.Unlock()

	for _, l := range listeners {
		l(j, s)
	}
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLaserCore/internal/config"
	"github.com/KevinKickass/OpenLaserCore/internal/device"
	"github.com/KevinKickass/OpenLaserCore/internal/job"
	"github.com/KevinKickass/OpenLaserCore/internal/serial"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("device not connected")
	ErrNoJob        = errors.New("no current job")
	ErrNotPaused    = errors.New("current job is not paused")
	ErrNotPausable  = errors.New("current job cannot be paused")
)

// Factory creates the device for a connect request.
type Factory func(cfg config.DeviceConfig) (device.Device, error)

// NewFactory builds mock or serial devices according to cfg.Type.
func NewFactory(logger *zap.Logger) Factory {
	return func(cfg config.DeviceConfig) (device.Device, error) {
		switch cfg.Type {
		case config.DeviceTypeMock:
			return device.NewMock(device.MockOptions{
				WidthDots:    cfg.WidthDots,
				HeightDots:   cfg.HeightDots,
				TimePerPoint: cfg.Mock.TimePerPoint,
				ConnectDelay: cfg.Mock.ConnectDelay,
				HomingDelay:  cfg.Mock.HomingDelay,
			}, logger.Named("mock")), nil
		case config.DeviceTypeSerial:
			return serial.NewDevice(cfg, serial.SystemPorts{}, serial.OpenPort, logger.Named("serial")), nil
		default:
			return nil, fmt.Errorf("%w: device type %q", device.ErrMissingConfiguration, cfg.Type)
		}
	}
}

type EventType string

const (
	EventDeviceStatus   EventType = "device_status"
	EventDevicePosition EventType = "device_position"
	EventJobStatus      EventType = "job_status"
)

// Event is a republished device or job notification.
type Event struct {
	Type     EventType      `json:"type"`
	Status   *device.Status `json:"status,omitempty"`
	Position *device.Point  `json:"position,omitempty"`
	Job      *JobSnapshot   `json:"job,omitempty"`
}

// JobSnapshot is the externally visible state of a job.
type JobSnapshot struct {
	ID        uuid.UUID     `json:"id"`
	Title     string        `json:"title"`
	Status    job.Status    `json:"status"`
	ElapsedMs int64         `json:"elapsed_ms"`
	Pausable  bool          `json:"pausable"`
	Progress  *job.Progress `json:"progress,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func Snapshot(j *job.Job) *JobSnapshot {
	if j == nil {
		return nil
	}
	s := &JobSnapshot{
		ID:        j.ID(),
		Title:     j.Title(),
		Status:    j.Status(),
		ElapsedMs: j.Elapsed().Milliseconds(),
		Pausable:  j.Pausable(),
	}
	if p := j.Progress(); p.Total > 0 {
		s.Progress = &p
	}
	if err := j.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}

// Dispatcher owns the single device and the single current job.
type Dispatcher struct {
	cfg     config.DeviceConfig
	factory Factory
	logger  *zap.Logger

	// lifecycle serialises Connect and Disconnect
	lifecycle sync.Mutex

	mu           sync.Mutex
	device       device.Device
	unsubDevice  func()
	job          *job.Job
	unsubJob     func()
	jobDone      chan struct{}
	listenersMu  sync.Mutex
	listeners    map[int]func(Event)
	nextListener int
}

func New(cfg config.DeviceConfig, factory Factory, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		factory:   factory,
		logger:    logger,
		listeners: make(map[int]func(Event)),
	}
}

// Subscribe registers l for all republished events. The returned func removes it.
func (d *Dispatcher) Subscribe(l func(Event)) func() {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	id := d.nextListener
	d.nextListener++
	d.listeners[id] = l
	return func() {
		d.listenersMu.Lock()
		delete(d.listeners, id)
		d.listenersMu.Unlock()
	}
}

func (d *Dispatcher) publish(ev Event) {
	d.listenersMu.Lock()
	ids := make([]int, 0, len(d.listeners))
	for id := range d.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, d.listeners[id])
	}
	d.listenersMu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

func (d *Dispatcher) publishDevice(status device.Status, pos *device.Point) {
	d.publish(Event{Type: EventDeviceStatus, Status: &status})
	d.publish(Event{Type: EventDevicePosition, Position: pos})
}

func (d *Dispatcher) onDeviceEvent(ev device.Event) {
	switch ev.Type {
	case device.EventStatusChanged:
		s := ev.Status
		d.logger.Info("Device status changed",
			zap.Stringer("from", ev.PreviousStatus),
			zap.Stringer("to", ev.Status))
		d.publish(Event{Type: EventDeviceStatus, Status: &s})
	case device.EventPositionChanged:
		d.publish(Event{Type: EventDevicePosition, Position: ev.Position})
	}
}

func (d *Dispatcher) onJobStatus(j *job.Job, status job.Status) {
	fields := []zap.Field{
		zap.String("job_id", j.ID().String()),
		zap.String("title", j.Title()),
		zap.Stringer("status", status),
		zap.Duration("elapsed", j.Elapsed()),
	}
	if status == job.StatusFailed {
		d.logger.Error("Job failed", append(fields, zap.Error(j.Err()))...)
	} else {
		d.logger.Info("Job status changed", fields...)
	}
	d.publish(Event{Type: EventJobStatus, Job: Snapshot(j)})
}

func (d *Dispatcher) DeviceStatus() device.Status {
	d.mu.Lock()
	dev := d.device
	d.mu.Unlock()
	if dev == nil {
		return device.StatusDisconnected
	}
	return dev.Status()
}

func (d *Dispatcher) DevicePosition() *device.Point {
	d.mu.Lock()
	dev := d.device
	d.mu.Unlock()
	if dev == nil {
		return nil
	}
	return dev.Position()
}

// State is a snapshot of the device and the current job.
type State struct {
	Status   device.Status `json:"status"`
	Position *device.Point `json:"position"`
	Job      *JobSnapshot  `json:"job"`
}

func (d *Dispatcher) State() State {
	return State{
		Status:   d.DeviceStatus(),
		Position: d.DevicePosition(),
		Job:      Snapshot(d.CurrentJob()),
	}
}

// CurrentJob returns the current job or nil.
func (d *Dispatcher) CurrentJob() *job.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.job
}

// Connect creates the device if there is none and connects it within the
// configured connection timeout.
func (d *Dispatcher) Connect(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.Lock()
	dev := d.device
	if dev == nil {
		created, err := d.factory(d.cfg)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		dev = created
		d.device = dev
		d.unsubDevice = dev.Subscribe(d.onDeviceEvent)
	}
	d.mu.Unlock()

	d.publishDevice(dev.Status(), dev.Position())

	if d.cfg.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ConnectionTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := dev.Connect(ctx); err != nil {
		d.logger.Error("Failed to connect device", zap.Error(err))
		if dev.Status() == device.StatusDisconnected {
			d.dropDevice(dev)
		}
		return err
	}
	d.logger.Info("Device connected",
		zap.String("type", d.cfg.Type),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Disconnect cancels the current job, then disconnects and discards the
// device together with that job. A device that already lost its connection
// is discarded without I/O.
func (d *Dispatcher) Disconnect(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if err := d.stopJob(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	dev := d.device
	d.mu.Unlock()
	if dev == nil {
		return nil
	}

	if dev.Status() != device.StatusDisconnected {
		if err := dev.Disconnect(ctx); err != nil && dev.Status() != device.StatusDisconnected {
			return err
		}
	}

	d.dropDevice(dev)
	d.setJob(nil)
	d.publishDevice(device.StatusDisconnected, nil)
	d.logger.Info("Device disconnected")
	return nil
}

// stopJob cancels the current job and waits for its run to return.
func (d *Dispatcher) stopJob(ctx context.Context) error {
	d.mu.Lock()
	j, done := d.job, d.jobDone
	d.mu.Unlock()
	if j == nil {
		return nil
	}
	j.Cancel()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) dropDevice(dev device.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device != dev {
		return
	}
	if d.unsubDevice != nil {
		d.unsubDevice()
		d.unsubDevice = nil
	}
	d.device = nil
}

// setJob makes j current. The previous job is cancelled, which stops it if
// running and retires it if paused, and its events are no longer republished.
func (d *Dispatcher) setJob(j *job.Job) {
	d.mu.Lock()
	old, unsub := d.swapJobLocked(j)
	d.mu.Unlock()
	retire(old, unsub)
}

func (d *Dispatcher) swapJobLocked(j *job.Job) (*job.Job, func()) {
	if d.job == j {
		return nil, nil
	}
	old, unsub := d.job, d.unsubJob
	d.job, d.unsubJob = j, nil
	if j != nil {
		d.unsubJob = j.Subscribe(d.onJobStatus)
	}
	return old, unsub
}

func retire(old *job.Job, unsub func()) {
	if old == nil {
		return
	}
	old.Cancel()
	if unsub != nil {
		unsub()
	}
}

// ExecuteJob makes j the current job and runs it, waiting for a previous
// run to wind down first. It returns when j completes, fails, pauses or is
// cancelled.
func (d *Dispatcher) ExecuteJob(ctx context.Context, j *job.Job) error {
	run, err := d.begin(j)
	if err != nil {
		return err
	}
	return run(ctx)
}

// Start is ExecuteJob in the background. Setup errors are returned right
// away, the outcome of the run arrives on the channel.
func (d *Dispatcher) Start(j *job.Job) (<-chan error, error) {
	run, err := d.begin(j)
	if err != nil {
		return nil, err
	}
	result := make(chan error, 1)
	go func() { result <- run(context.Background()) }()
	return result, nil
}

// begin swaps in j and returns the func running it.
func (d *Dispatcher) begin(j *job.Job) (func(ctx context.Context) error, error) {
	d.mu.Lock()
	dev := d.device
	if dev == nil {
		d.mu.Unlock()
		return nil, ErrNotConnected
	}
	if d.job == j && j.Status() == job.StatusRunning {
		d.mu.Unlock()
		return nil, job.ErrAlreadyRunning
	}
	changed := d.job != j
	old, unsub := d.swapJobLocked(j)
	prevDone := d.jobDone
	done := make(chan struct{})
	d.jobDone = done
	d.mu.Unlock()

	retire(old, unsub)
	if changed {
		d.publish(Event{Type: EventJobStatus, Job: Snapshot(j)})
	}

	return func(ctx context.Context) error {
		defer close(done)
		if prevDone != nil {
			select {
			case <-prevDone:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return j.Execute(ctx, dev)
	}, nil
}

func (d *Dispatcher) pausedJob() (*job.Job, error) {
	j := d.CurrentJob()
	if j == nil {
		return nil, ErrNoJob
	}
	if j.Status() != job.StatusPaused {
		return nil, fmt.Errorf("%w: %s", ErrNotPaused, j.Status())
	}
	return j, nil
}

// ContinueJob resumes the current job if it is paused.
func (d *Dispatcher) ContinueJob(ctx context.Context) error {
	j, err := d.pausedJob()
	if err != nil {
		return err
	}
	return d.ExecuteJob(ctx, j)
}

// Resume is ContinueJob in the background.
func (d *Dispatcher) Resume() (<-chan error, error) {
	j, err := d.pausedJob()
	if err != nil {
		return nil, err
	}
	return d.Start(j)
}

// CancelJob cancels the current job.
func (d *Dispatcher) CancelJob() error {
	j := d.CurrentJob()
	if j == nil {
		return ErrNoJob
	}
	j.Cancel()
	return nil
}

// PauseJob asks the current job to pause at its next safe point.
func (d *Dispatcher) PauseJob() error {
	j := d.CurrentJob()
	if j == nil {
		return ErrNoJob
	}
	if !j.RequestPause() {
		return fmt.Errorf("%w: %s %s", ErrNotPausable, j.Title(), j.Status())
	}
	return nil
}

// Shutdown cancels the current job and disconnects the device.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	return d.Disconnect(ctx)
}

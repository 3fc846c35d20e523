package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MockOptions controls the simulated timing of a Mock device.
type MockOptions struct {
	WidthDots    int
	HeightDots   int
	TimePerPoint time.Duration
	ConnectDelay time.Duration
	HomingDelay  time.Duration
}

// Mock is a Device without hardware. Moves advance one dot per TimePerPoint.
type Mock struct {
	Base

	opts   MockOptions
	logger *zap.Logger

	lostMu sync.Mutex
	lost   chan struct{}
}

func NewMock(opts MockOptions, logger *zap.Logger) *Mock {
	return &Mock{
		opts:   opts,
		logger: logger,
		lost:   make(chan struct{}),
	}
}

func (m *Mock) Connect(ctx context.Context) error {
	tx, err := m.OpenTransition(StatusDisconnected, StatusConnecting)
	if err != nil {
		return err
	}
	defer tx.Close()

	m.lostMu.Lock()
	m.lost = make(chan struct{})
	m.lostMu.Unlock()

	if err := m.wait(ctx, m.opts.ConnectDelay); err != nil {
		return err
	}

	tx.Commit(StatusReady)
	m.logger.Info("Mock device connected")
	return nil
}

func (m *Mock) Disconnect(ctx context.Context) error {
	tx, err := m.OpenTransition(StatusReady, StatusDisconnecting)
	if err != nil {
		return err
	}
	defer tx.Close()

	if err := m.wait(ctx, m.opts.ConnectDelay); err != nil {
		return err
	}

	m.SetPosition(nil)
	tx.Commit(StatusDisconnected)
	m.logger.Info("Mock device disconnected")
	return nil
}

func (m *Mock) Home(ctx context.Context) error {
	tx, err := m.OpenIntermediate(StatusReady)
	if err != nil {
		return err
	}
	defer tx.Close()

	if err := m.wait(ctx, m.opts.HomingDelay); err != nil {
		m.SetPosition(nil)
		return err
	}

	m.SetPosition(&Point{X: m.opts.WidthDots / 2, Y: m.opts.HeightDots / 2})
	return nil
}

func (m *Mock) MoveRelative(ctx context.Context, v Vector) error {
	tx, err := m.OpenIntermediate(StatusReady)
	if err != nil {
		return err
	}
	defer tx.Close()

	if !v.FitsInt16() {
		return fmt.Errorf("%w: %+v", ErrOutOfRange, v)
	}

	pos := m.Position()
	if pos == nil {
		return ErrPositionUnknown
	}
	if v.IsZero() {
		return nil
	}

	if err := m.wait(ctx, time.Duration(float64(m.opts.TimePerPoint)*v.Length())); err != nil {
		return err
	}

	target := pos.Add(v)
	m.SetPosition(&target)
	return nil
}

// MoveAbsolute walks one dot per step towards p so observers see the head travel.
func (m *Mock) MoveAbsolute(ctx context.Context, p Point) error {
	tx, err := m.OpenIntermediate(StatusReady)
	if err != nil {
		return err
	}
	defer tx.Close()

	pos := m.Position()
	if pos == nil {
		return ErrPositionUnknown
	}

	for *pos != p {
		if err := m.wait(ctx, m.opts.TimePerPoint); err != nil {
			return err
		}
		step := p.Sub(*pos).Clamp(1)
		next := pos.Add(step)
		m.SetPosition(&next)
		pos = &next
	}
	return nil
}

func (m *Mock) Engrave(ctx context.Context, powerMw uint16, duration uint8, length int) error {
	tx, err := m.OpenIntermediate(StatusReady)
	if err != nil {
		return err
	}
	defer tx.Close()

	if length < 1 {
		return fmt.Errorf("%w: engrave length %d", ErrOutOfRange, length)
	}

	pos := m.Position()
	if pos == nil {
		return ErrPositionUnknown
	}

	if err := m.wait(ctx, m.opts.TimePerPoint*time.Duration(length)); err != nil {
		// unknown fraction burned
		m.SetPosition(nil)
		return err
	}

	end := pos.Add(Vector{X: length})
	m.SetPosition(&end)
	return nil
}

// SimulateDisconnect drops the device as if the cable was pulled.
// Operations in flight fail with ErrUnexpectedDisconnection.
func (m *Mock) SimulateDisconnect() {
	m.lostMu.Lock()
	select {
	case <-m.lost:
	default:
		close(m.lost)
	}
	m.lostMu.Unlock()

	m.SetStatus(StatusDisconnected)
	m.SetPosition(nil)
	m.logger.Warn("Mock device lost connection")
}

func (m *Mock) wait(ctx context.Context, d time.Duration) error {
	m.lostMu.Lock()
	lost := m.lost
	m.lostMu.Unlock()

	select {
	case <-lost:
		return ErrUnexpectedDisconnection
	default:
	}

	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-lost:
		return ErrUnexpectedDisconnection
	case <-timer.C:
		return nil
	}
}

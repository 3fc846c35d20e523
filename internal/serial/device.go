package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLaserCore/internal/config"
	"github.com/KevinKickass/OpenLaserCore/internal/device"
	"github.com/KevinKickass/OpenLaserCore/internal/engraver"
	"go.uber.org/zap"
)

// maxMoveStep bounds each axis of a chunked absolute move.
const maxMoveStep = 50

const abortTimeout = 5 * time.Second

// Device drives a real engraver through a Transport.
type Device struct {
	device.Base

	cfg    config.DeviceConfig
	ports  PortEnumerator
	open   Opener
	logger *zap.Logger

	mu        sync.Mutex
	transport *Transport
}

func NewDevice(cfg config.DeviceConfig, ports PortEnumerator, open Opener, logger *zap.Logger) *Device {
	if ports == nil {
		ports = SystemPorts{}
	}
	if open == nil {
		open = OpenPort
	}
	return &Device{
		cfg:    cfg,
		ports:  ports,
		open:   open,
		logger: logger,
	}
}

func (d *Device) Connect(ctx context.Context) error {
	tx, err := d.OpenTransition(device.StatusDisconnected, device.StatusConnecting)
	if err != nil {
		return err
	}
	defer tx.Close()

	if d.cfg.BaudRate <= 0 {
		return fmt.Errorf("%w: baud_rate", device.ErrMissingConfiguration)
	}

	name, err := ResolvePort(d.cfg.PortName, d.ports)
	if err != nil {
		return err
	}

	port, err := d.open(name, d.cfg.BaudRate)
	if err != nil {
		return err
	}

	t := NewTransport(port, d.logger.With(zap.String("port", name)))
	d.mu.Lock()
	d.transport = t
	d.mu.Unlock()
	go d.watch(t)

	handshake := []engraver.Frame{
		engraver.Simple(engraver.CommandConnect),
		engraver.Simple(engraver.CommandDiscrete),
		engraver.SettingsUpdate(d.cfg.Settings()),
	}
	for _, frame := range handshake {
		if err := t.Send(ctx, frame); err != nil {
			d.release(t)
			return fmt.Errorf("handshake %s: %w", frame.Type, err)
		}
	}

	tx.Commit(device.StatusReady)
	d.logger.Info("Engraver connected",
		zap.String("port", name),
		zap.Int("baud_rate", d.cfg.BaudRate))
	return nil
}

// watch marks the device disconnected when the read loop ends on its own.
func (d *Device) watch(t *Transport) {
	<-t.Done()
	if !t.Lost() {
		return
	}

	d.mu.Lock()
	current := d.transport == t
	if current {
		d.transport = nil
	}
	d.mu.Unlock()
	if !current {
		return
	}

	d.logger.Error("Engraver connection lost", zap.Error(t.Err()))
	if err := t.Close(); err != nil {
		d.logger.Warn("Failed to close serial port", zap.Error(err))
	}
	d.SetPosition(nil)
	d.SetStatus(device.StatusDisconnected)
}

func (d *Device) release(t *Transport) {
	d.mu.Lock()
	if d.transport == t {
		d.transport = nil
	}
	d.mu.Unlock()

	if err := t.Close(); err != nil {
		d.logger.Warn("Failed to close serial port", zap.Error(err))
	}
}

func (d *Device) current() (*Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.transport == nil {
		return nil, device.ErrUnexpectedDisconnection
	}
	return d.transport, nil
}

func (d *Device) Disconnect(ctx context.Context) error {
	tx, err := d.OpenTransition(device.StatusReady, device.StatusDisconnecting)
	if err != nil {
		return err
	}
	defer tx.Close()

	t, err := d.current()
	if err != nil {
		tx.Commit(device.StatusDisconnected)
		return err
	}

	sendErr := t.Send(ctx, engraver.Simple(engraver.CommandStop))
	d.release(t)
	d.SetPosition(nil)
	tx.Commit(device.StatusDisconnected)

	if sendErr != nil {
		return fmt.Errorf("stop before disconnect: %w", sendErr)
	}
	d.logger.Info("Engraver disconnected")
	return nil
}

func (d *Device) Home(ctx context.Context) error {
	tx, err := d.OpenIntermediate(device.StatusReady)
	if err != nil {
		return err
	}
	defer tx.Close()

	t, err := d.current()
	if err != nil {
		return err
	}

	center := device.Point{X: d.cfg.WidthDots / 2, Y: d.cfg.HeightDots / 2}
	return d.sendPositioned(ctx, t, engraver.Simple(engraver.CommandHomeCenter), center)
}

func (d *Device) MoveRelative(ctx context.Context, v device.Vector) error {
	tx, err := d.OpenIntermediate(device.StatusReady)
	if err != nil {
		return err
	}
	defer tx.Close()

	if !v.FitsInt16() {
		return fmt.Errorf("%w: %+v", device.ErrOutOfRange, v)
	}

	t, pos, err := d.positioned()
	if err != nil {
		return err
	}
	if v.IsZero() {
		return nil
	}
	return d.moveBy(ctx, t, pos, v)
}

// MoveAbsolute moves in one command, or in steps of at most 50 dots per
// axis when chunked moves are configured.
func (d *Device) MoveAbsolute(ctx context.Context, p device.Point) error {
	tx, err := d.OpenIntermediate(device.StatusReady)
	if err != nil {
		return err
	}
	defer tx.Close()

	t, pos, err := d.positioned()
	if err != nil {
		return err
	}

	v := p.Sub(pos)
	if !d.cfg.ChunkMoves {
		if !v.FitsInt16() {
			return fmt.Errorf("%w: %+v", device.ErrOutOfRange, v)
		}
		if v.IsZero() {
			return nil
		}
		return d.moveBy(ctx, t, pos, v)
	}

	for !v.IsZero() {
		step := v.Clamp(maxMoveStep)
		if err := d.moveBy(ctx, t, pos, step); err != nil {
			return err
		}
		pos = pos.Add(step)
		v = p.Sub(pos)
	}
	return nil
}

func (d *Device) moveBy(ctx context.Context, t *Transport, from device.Point, v device.Vector) error {
	return d.sendPositioned(ctx, t, engraver.Move(int16(v.X), int16(v.Y)), from.Add(v))
}

// Engrave burns length dots to the right of the current position and flushes
// the engrave buffer with a Reset. Cancellation stops the head immediately.
func (d *Device) Engrave(ctx context.Context, powerMw uint16, duration uint8, length int) error {
	tx, err := d.OpenIntermediate(device.StatusReady)
	if err != nil {
		return err
	}
	defer tx.Close()

	if length < 1 {
		return fmt.Errorf("%w: engrave length %d", device.ErrOutOfRange, length)
	}

	t, pos, err := d.positioned()
	if err != nil {
		return err
	}

	frame := engraver.Engrave(powerMw, duration, engraver.DirectionInline, length)
	if err := t.Send(ctx, frame); err != nil {
		if errors.Is(err, ErrNotWritten) {
			return err
		}
		return d.abortEngrave(ctx, t, err)
	}

	end := pos.Add(device.Vector{X: length})
	d.SetPosition(&end)

	// the burn runs while the flush is in flight
	if err := t.Send(ctx, engraver.Simple(engraver.CommandReset)); err != nil {
		return d.abortEngrave(ctx, t, fmt.Errorf("flush engrave: %w", err))
	}
	return nil
}

// abortEngrave recovers from an engrave frame that left without its flush
// completing. An unknown fraction was burned, so the head is stopped on
// cancellation and the position is dropped.
func (d *Device) abortEngrave(ctx context.Context, t *Transport, err error) error {
	if ctx.Err() != nil {
		d.stop(t)
	}
	d.SetPosition(nil)
	return err
}

func (d *Device) stop(t *Transport) {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()

	if err := t.Abort(ctx, engraver.Simple(engraver.CommandStop)); err != nil {
		d.logger.Warn("Failed to stop engraver after cancellation", zap.Error(err))
		return
	}
	d.logger.Info("Engraver stopped after cancellation")
}

func (d *Device) positioned() (*Transport, device.Point, error) {
	t, err := d.current()
	if err != nil {
		return nil, device.Point{}, err
	}
	pos := d.Position()
	if pos == nil {
		return nil, device.Point{}, device.ErrPositionUnknown
	}
	return t, *pos, nil
}

// sendPositioned sends a positioning frame whose acknowledgement means the
// head reached target. If the frame left but the wait was cut short, the
// position is unknown until a late acknowledgement confirms target.
func (d *Device) sendPositioned(ctx context.Context, t *Transport, frame engraver.Frame, target device.Point) error {
	var (
		mu       sync.Mutex
		reported bool
		arrived  bool
		lateErr  error
	)
	late := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		arrived, lateErr = true, err
		if reported && err == nil {
			d.SetPosition(&target)
		}
	}

	err := t.SendFunc(ctx, frame, late)
	if err == nil {
		d.SetPosition(&target)
		return nil
	}
	if errors.Is(err, ErrNotWritten) {
		return err
	}

	mu.Lock()
	reported = true
	if arrived && lateErr == nil {
		d.SetPosition(&target)
	} else {
		d.SetPosition(nil)
	}
	mu.Unlock()
	return err
}

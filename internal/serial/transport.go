package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/KevinKickass/OpenLaserCore/internal/device"
	"github.com/KevinKickass/OpenLaserCore/internal/engraver"
	"go.uber.org/zap"
)

// ErrNotWritten marks a send that was abandoned before its frame reached the port.
var ErrNotWritten = errors.New("frame not written")

// LateFunc receives the acknowledgement of a frame whose sender stopped waiting.
// It runs on the read loop and must not block.
type LateFunc func(err error)

// Transport exchanges frames with the engraver over a byte stream.
//
// Exactly one frame is unacknowledged at any time. A frame is written only
// after the gate is taken and the gate is released by the read loop when the
// acknowledgement byte for that frame arrives.
type Transport struct {
	port   io.ReadWriteCloser
	logger *zap.Logger

	sendLock chan struct{}
	gate     chan struct{}
	writeMu  sync.Mutex

	mu       sync.Mutex
	waiter   func(err error)
	previous engraver.CommandType
	extra    int
	extraCh  chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	closing   atomic.Bool
	lost      bool
	err       error
}

func NewTransport(port io.ReadWriteCloser, logger *zap.Logger) *Transport {
	t := &Transport{
		port:     port,
		logger:   logger,
		sendLock: make(chan struct{}, 1),
		gate:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Send writes frame and waits for its acknowledgement. A Reset is sent first
// whenever the frame switches into or out of engrave mode.
func (t *Transport) Send(ctx context.Context, frame engraver.Frame) error {
	return t.SendFunc(ctx, frame, nil)
}

// SendFunc is Send with a callback for the acknowledgement of a frame that was
// written but abandoned because ctx ended first.
func (t *Transport) SendFunc(ctx context.Context, frame engraver.Frame, late LateFunc) error {
	select {
	case <-t.done:
		return t.disconnected()
	default:
	}

	select {
	case t.sendLock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotWritten, ctx.Err())
	case <-t.done:
		return t.disconnected()
	}
	defer func() { <-t.sendLock }()

	if t.needsReset(frame) {
		if err := t.roundTrip(ctx, engraver.Simple(engraver.CommandReset), nil); err != nil {
			if errors.Is(err, ErrNotWritten) {
				return err
			}
			// the command itself never left
			return fmt.Errorf("reset before %s: %w: %w", frame.Type, ErrNotWritten, err)
		}
	}
	return t.roundTrip(ctx, frame, late)
}

func (t *Transport) needsReset(frame engraver.Frame) bool {
	if frame.Type == engraver.CommandReset {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return (t.previous == engraver.CommandEngrave) != frame.IsEngrave()
}

func (t *Transport) roundTrip(ctx context.Context, frame engraver.Frame, late LateFunc) error {
	select {
	case t.gate <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotWritten, ctx.Err())
	case <-t.done:
		return t.disconnected()
	}

	ack := make(chan error, 1)
	var (
		stateMu   sync.Mutex
		abandoned bool
		delivered bool
	)
	waiter := func(err error) {
		stateMu.Lock()
		delivered = true
		gone := abandoned
		stateMu.Unlock()
		if gone {
			if late != nil {
				late(err)
			}
			return
		}
		ack <- err
	}

	t.mu.Lock()
	t.waiter = waiter
	t.previous = frame.Type
	t.mu.Unlock()

	if err := t.write(frame.Encode()); err != nil {
		t.mu.Lock()
		t.waiter = nil
		t.mu.Unlock()
		<-t.gate
		return fmt.Errorf("write %s: %w", frame.Type, err)
	}

	select {
	case err := <-ack:
		return err
	case <-t.done:
		return t.disconnected()
	case <-ctx.Done():
		stateMu.Lock()
		if delivered {
			stateMu.Unlock()
			return <-ack
		}
		abandoned = true
		stateMu.Unlock()
		t.logger.Debug("Abandoned in-flight frame", zap.Stringer("command", frame.Type))
		return ctx.Err()
	}
}

// Abort writes frame immediately, bypassing the gate, and then waits until
// both the in-flight frame and frame itself are acknowledged. No other frame
// is sent in between.
func (t *Transport) Abort(ctx context.Context, frame engraver.Frame) error {
	select {
	case t.sendLock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.disconnected()
	}
	defer func() { <-t.sendLock }()

	extraDone := make(chan struct{})
	t.mu.Lock()
	t.extra++
	t.extraCh = extraDone
	t.mu.Unlock()

	if err := t.write(frame.Encode()); err != nil {
		t.mu.Lock()
		t.extra--
		t.mu.Unlock()
		return fmt.Errorf("write %s: %w", frame.Type, err)
	}

	select {
	case t.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.disconnected()
	}
	defer func() { <-t.gate }()

	select {
	case <-extraDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.disconnected()
	}
}

func (t *Transport) write(b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.port.Write(b)
	return err
}

func (t *Transport) readLoop() {
	buf := make([]byte, 64)
	for {
		n, err := t.port.Read(buf)
		for _, b := range buf[:n] {
			t.acknowledge(b)
		}
		if err != nil {
			t.shutdown(err)
			return
		}
	}
}

func (t *Transport) acknowledge(b byte) {
	result := engraver.CheckResponse(b)

	t.mu.Lock()
	w := t.waiter
	t.waiter = nil
	if w == nil && t.extra > 0 {
		t.extra--
		if t.extra == 0 && t.extraCh != nil {
			close(t.extraCh)
			t.extraCh = nil
		}
		t.mu.Unlock()
		t.logger.Debug("Abort acknowledged", zap.Uint8("response", b))
		return
	}
	t.mu.Unlock()

	if w == nil {
		t.logger.Warn("Dropping unsolicited response", zap.Uint8("response", b))
		return
	}

	w(result)
	<-t.gate
}

func (t *Transport) shutdown(err error) {
	t.closeOnce.Do(func() {
		if !t.closing.Load() {
			t.lost = true
			t.err = err
			t.logger.Warn("Serial read loop ended", zap.Error(err))
		}
		close(t.done)
	})
}

// disconnected is only valid once done is closed.
func (t *Transport) disconnected() error {
	if t.lost {
		return fmt.Errorf("%w: %v", device.ErrUnexpectedDisconnection, t.err)
	}
	return fmt.Errorf("%w: transport closed", device.ErrUnexpectedDisconnection)
}

// Done is closed once the read loop has ended.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Lost reports whether the read loop ended without Close being called.
// Valid after Done is closed.
func (t *Transport) Lost() bool {
	return t.lost
}

func (t *Transport) Err() error {
	return t.err
}

// Close closes the port and waits for the read loop to exit. It is also
// called after a lost connection to release the port handle.
func (t *Transport) Close() error {
	t.closing.Store(true)
	err := t.port.Close()
	<-t.done
	return err
}

package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KevinKickass/OpenLaserCore/internal/config"
	"github.com/KevinKickass/OpenLaserCore/internal/device"
	"github.com/KevinKickass/OpenLaserCore/internal/engraver"
	"github.com/KevinKickass/OpenLaserCore/internal/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type engraveCall struct {
	powerMw  uint16
	duration uint8
	length   int
	at       device.Point
}

// recordingDevice records calls and lets tests inject faults before they reach the mock.
type recordingDevice struct {
	device.Device

	mu            sync.Mutex
	moves         []device.Point
	engraves      []engraveCall
	beforeMove    func(n int) error
	beforeEngrave func(n int) error
}

func (r *recordingDevice) MoveAbsolute(ctx context.Context, p device.Point) error {
	r.mu.Lock()
	n := len(r.moves)
	r.moves = append(r.moves, p)
	hook := r.beforeMove
	r.mu.Unlock()

	if hook != nil {
		if err := hook(n); err != nil {
			return err
		}
	}
	return r.Device.MoveAbsolute(ctx, p)
}

func (r *recordingDevice) Engrave(ctx context.Context, powerMw uint16, duration uint8, length int) error {
	var at device.Point
	if pos := r.Device.Position(); pos != nil {
		at = *pos
	}

	r.mu.Lock()
	n := len(r.engraves)
	r.engraves = append(r.engraves, engraveCall{powerMw: powerMw, duration: duration, length: length, at: at})
	hook := r.beforeEngrave
	r.mu.Unlock()

	if hook != nil {
		if err := hook(n); err != nil {
			return err
		}
	}
	return r.Device.Engrave(ctx, powerMw, duration, length)
}

func (r *recordingDevice) burned() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, c := range r.engraves {
		total += c.length
	}
	return total
}

func readyMock(t *testing.T) *device.Mock {
	t.Helper()
	m := device.NewMock(device.MockOptions{WidthDots: 200, HeightDots: 200}, zaptest.NewLogger(t))
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Home(context.Background()))
	return m
}

type statusLog struct {
	mu       sync.Mutex
	statuses []Status
}

func (s *statusLog) listen(_ *Job, st Status) {
	s.mu.Lock()
	s.statuses = append(s.statuses, st)
	s.mu.Unlock()
}

func (s *statusLog) get() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Status(nil), s.statuses...)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "PAUSED", StatusPaused.String())
	assert.Equal(t, "UNKNOWN", Status(3).String())
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPaused.Terminal())
	assert.False(t, StatusNone.Terminal())
}

func TestHoming(t *testing.T) {
	m := device.NewMock(device.MockOptions{WidthDots: 200, HeightDots: 100, HomingDelay: 5 * time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, m.Connect(context.Background()))

	j := NewHoming()
	log := &statusLog{}
	j.Subscribe(log.listen)

	require.NoError(t, j.Execute(context.Background(), m))
	assert.Equal(t, StatusDone, j.Status())
	assert.Equal(t, []Status{StatusRunning, StatusDone}, log.get())
	assert.Equal(t, &device.Point{X: 100, Y: 50}, m.Position())
	assert.GreaterOrEqual(t, j.Elapsed(), 5*time.Millisecond)
	assert.Equal(t, TitleHoming, j.Title())
	assert.False(t, j.Pausable())
	assert.False(t, j.RequestPause())

	assert.ErrorIs(t, j.Execute(context.Background(), m), ErrFinished)
}

func TestMoveAbsolute_FailsWithoutPosition(t *testing.T) {
	m := device.NewMock(device.MockOptions{WidthDots: 200, HeightDots: 200}, zaptest.NewLogger(t))
	require.NoError(t, m.Connect(context.Background()))

	j := NewMoveAbsolute(device.Point{X: 10, Y: 10})
	err := j.Execute(context.Background(), m)

	require.ErrorIs(t, err, device.ErrPositionUnknown)
	assert.Equal(t, StatusFailed, j.Status())
	assert.ErrorIs(t, j.Err(), device.ErrPositionUnknown)
}

func TestMoveAbsolute_DisconnectionFails(t *testing.T) {
	dev := &recordingDevice{Device: readyMock(t)}
	dev.beforeMove = func(int) error {
		return fmt.Errorf("move: %w", device.ErrUnexpectedDisconnection)
	}

	j := NewMoveAbsolute(device.Point{X: 10, Y: 10})
	err := j.Execute(context.Background(), dev)

	require.ErrorIs(t, err, device.ErrUnexpectedDisconnection)
	assert.Equal(t, StatusFailed, j.Status())
}

func TestExecute_CallerCancellation(t *testing.T) {
	m := device.NewMock(device.MockOptions{WidthDots: 200, HeightDots: 200, HomingDelay: time.Minute}, zaptest.NewLogger(t))
	require.NoError(t, m.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	j := NewHoming()
	require.NoError(t, j.Execute(ctx, m))
	assert.Equal(t, StatusCancelled, j.Status())
	assert.NoError(t, j.Err())
	assert.Nil(t, m.Position())
	assert.Equal(t, device.StatusReady, m.Status())
}

func TestExecute_Twice(t *testing.T) {
	m := device.NewMock(device.MockOptions{WidthDots: 200, HeightDots: 200, HomingDelay: 100 * time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, m.Connect(context.Background()))

	j := NewHoming()
	done := make(chan error, 1)
	go func() { done <- j.Execute(context.Background(), m) }()

	require.Eventually(t, func() bool { return j.Status() == StatusRunning }, time.Second, time.Millisecond)
	assert.ErrorIs(t, j.Execute(context.Background(), m), ErrAlreadyRunning)
	require.NoError(t, <-done)
}

func TestExecute_ConcurrentCallsRunOnce(t *testing.T) {
	m := device.NewMock(device.MockOptions{WidthDots: 200, HeightDots: 200, HomingDelay: 100 * time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, m.Connect(context.Background()))

	j := NewHoming()
	var running atomic.Int32
	j.Subscribe(func(_ *Job, s Status) {
		if s == StatusRunning {
			running.Add(1)
		}
	})

	const callers = 8
	start := make(chan struct{})
	results := make(chan error, callers)
	for range callers {
		go func() {
			<-start
			results <- j.Execute(context.Background(), m)
		}()
	}
	close(start)

	var ok, busy int
	for range callers {
		err := <-results
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrFinished):
			busy++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, busy)
	assert.Equal(t, int32(1), running.Load())
	assert.Equal(t, StatusDone, j.Status())
}

func TestFraming_PauseResumeCancel(t *testing.T) {
	dev := &recordingDevice{Device: readyMock(t)}
	j := NewFraming(Rect{X: 90, Y: 90, Width: 20, Height: 10}, time.Millisecond)

	dev.beforeMove = func(n int) error {
		if n == 5 {
			j.RequestPause()
		}
		return nil
	}

	require.NoError(t, j.Execute(context.Background(), dev))
	assert.Equal(t, StatusPaused, j.Status())
	assert.Equal(t, []device.Point{
		{X: 90, Y: 90}, {X: 110, Y: 90}, {X: 110, Y: 100}, {X: 90, Y: 100},
		{X: 90, Y: 90}, {X: 110, Y: 90},
	}, dev.moves)

	dev.beforeMove = func(n int) error {
		if n == 7 {
			j.Cancel()
		}
		return nil
	}
	require.NoError(t, j.Execute(context.Background(), dev))
	assert.Equal(t, StatusCancelled, j.Status())
	assert.Equal(t, device.Point{X: 110, Y: 100}, dev.moves[6])
}

func TestCancel_PausedJob(t *testing.T) {
	dev := &recordingDevice{Device: readyMock(t)}
	j := NewFraming(Rect{X: 90, Y: 90, Width: 4, Height: 4}, time.Millisecond)
	dev.beforeMove = func(int) error {
		j.RequestPause()
		return nil
	}

	require.NoError(t, j.Execute(context.Background(), dev))
	require.Equal(t, StatusPaused, j.Status())

	j.Cancel()
	assert.Equal(t, StatusCancelled, j.Status())
	assert.ErrorIs(t, j.Execute(context.Background(), dev), ErrFinished)
}

func testPoints() []*planner.EngravePoint {
	var points []*planner.EngravePoint
	for y := 0; y < 6; y++ {
		for x := 0; x < 12; x++ {
			intensity := uint8(255)
			if x >= 6 {
				intensity = 128
			}
			if x == 3 && y == 2 {
				intensity = 0
			}
			points = append(points, &planner.EngravePoint{X: x, Y: y, Intensity: intensity})
		}
	}
	points[0].Visited = true
	return points
}

func visited(points []*planner.EngravePoint) int {
	n := 0
	for _, p := range points {
		if p.Visited {
			n++
		}
	}
	return n
}

func newTestEngrave(t *testing.T, mode string, points []*planner.EngravePoint) *Job {
	t.Helper()
	j, err := NewEngrave(EngraveOptions{
		MaxPowerMw: 1000,
		Burn:       config.BurnConfig{Duration: 42, PlottingMode: mode},
		Offset:     device.Vector{X: 10, Y: 20},
	}, points)
	require.NoError(t, err)
	return j
}

func TestEngrave_Completes(t *testing.T) {
	for _, mode := range []string{"raster", "raster_optimized"} {
		t.Run(mode, func(t *testing.T) {
			dev := &recordingDevice{Device: readyMock(t)}
			points := testPoints()
			j := newTestEngrave(t, mode, points)

			require.NoError(t, j.Execute(context.Background(), dev))
			assert.Equal(t, StatusDone, j.Status())
			assert.Equal(t, Progress{Done: 70, Total: 70}, j.Progress())
			assert.Equal(t, 70, dev.burned())
			assert.Equal(t, 71, visited(points))

			for _, c := range dev.engraves {
				assert.Equal(t, uint8(42), c.duration)
				assert.Contains(t, []uint16{1000, 501}, c.powerMw)
				if c.powerMw == 501 {
					assert.GreaterOrEqual(t, c.at.X, 16)
				}
				assert.GreaterOrEqual(t, c.at.Y, 20)
			}
		})
	}
}

func TestEngrave_RasterRuns(t *testing.T) {
	dev := &recordingDevice{Device: readyMock(t)}
	j := newTestEngrave(t, "raster", testPoints())

	require.NoError(t, j.Execute(context.Background(), dev))

	require.NotEmpty(t, dev.engraves)
	// row 0 starts after the visited corner
	assert.Equal(t, engraveCall{powerMw: 1000, duration: 42, length: 5, at: device.Point{X: 11, Y: 20}}, dev.engraves[0])
	assert.Equal(t, engraveCall{powerMw: 501, duration: 42, length: 6, at: device.Point{X: 16, Y: 20}}, dev.engraves[1])
	// 2 runs per row, one extra for the gap in row 2
	assert.Len(t, dev.engraves, 13)
}

func TestEngrave_CancelLosesPosition(t *testing.T) {
	m := readyMock(t)
	dev := &recordingDevice{Device: m}
	points := testPoints()
	j := newTestEngrave(t, "raster_optimized", points)

	dev.beforeEngrave = func(n int) error {
		if n == 2 {
			j.Cancel()
		}
		return nil
	}

	require.NoError(t, j.Execute(context.Background(), dev))
	assert.Equal(t, StatusCancelled, j.Status())
	assert.Nil(t, m.Position())
	assert.Equal(t, 1+dev.engraves[0].length+dev.engraves[1].length, visited(points))

	require.NoError(t, m.Home(context.Background()))
	assert.Equal(t, &device.Point{X: 100, Y: 100}, m.Position())
}

func TestEngrave_PauseAndResume(t *testing.T) {
	dev := &recordingDevice{Device: readyMock(t)}
	points := testPoints()
	j := newTestEngrave(t, "raster_optimized", points)
	log := &statusLog{}
	j.Subscribe(log.listen)

	dev.beforeEngrave = func(n int) error {
		if n == 1 {
			assert.True(t, j.RequestPause())
		}
		return nil
	}

	require.NoError(t, j.Execute(context.Background(), dev))
	assert.Equal(t, StatusPaused, j.Status())
	burnedBeforePause := dev.engraves[0].length + dev.engraves[1].length
	assert.Len(t, dev.engraves, 2)
	assert.Equal(t, Progress{Done: burnedBeforePause, Total: 70}, j.Progress())

	dev.beforeEngrave = nil
	require.NoError(t, j.Execute(context.Background(), dev))
	assert.Equal(t, StatusDone, j.Status())
	assert.Equal(t, 70, dev.burned())
	assert.Equal(t, 71, visited(points))

	assert.Equal(t, []Status{StatusRunning, StatusPaused, StatusRunning, StatusDone}, log.get())
}

func TestEngrave_DisconnectionPauses(t *testing.T) {
	m := readyMock(t)
	dev := &recordingDevice{Device: m}
	points := testPoints()
	j := newTestEngrave(t, "raster", points)

	dev.beforeEngrave = func(n int) error {
		if n == 3 {
			return fmt.Errorf("engrave: %w", device.ErrUnexpectedDisconnection)
		}
		return nil
	}

	require.NoError(t, j.Execute(context.Background(), dev))
	assert.Equal(t, StatusPaused, j.Status())
	assert.ErrorIs(t, j.Err(), device.ErrUnexpectedDisconnection)

	// a reconnected device has lost its position; resuming homes first
	m.SetPosition(nil)
	dev.beforeEngrave = nil
	require.NoError(t, j.Execute(context.Background(), dev))
	assert.Equal(t, StatusDone, j.Status())
	assert.NoError(t, j.Err())
	assert.Equal(t, 71, visited(points))
}

func TestEngrave_ProtocolErrorFails(t *testing.T) {
	dev := &recordingDevice{Device: readyMock(t)}
	j := newTestEngrave(t, "raster", testPoints())

	dev.beforeEngrave = func(int) error {
		return &engraver.UnexpectedResponseError{Bytes: []byte{0x08}}
	}

	err := j.Execute(context.Background(), dev)
	var unexpected *engraver.UnexpectedResponseError
	require.True(t, errors.As(err, &unexpected))
	assert.Equal(t, StatusFailed, j.Status())
	assert.Equal(t, Progress{Done: 0, Total: 70}, j.Progress())
}

func TestNewEngrave_InvalidMode(t *testing.T) {
	_, err := NewEngrave(EngraveOptions{Burn: config.BurnConfig{PlottingMode: "spiral"}}, nil)
	assert.Error(t, err)
}

func TestPowerMw(t *testing.T) {
	assert.Equal(t, uint16(1000), PowerMw(1000, 255))
	assert.Equal(t, uint16(501), PowerMw(1000, 128))
	assert.Equal(t, uint16(0), PowerMw(1000, 0))
	assert.Equal(t, uint16(65535), PowerMw(65535, 255))
}

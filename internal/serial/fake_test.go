package serial

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KevinKickass/OpenLaserCore/internal/engraver"
	"github.com/stretchr/testify/require"
)

// pipePort is the host side of an in-memory serial line.
type pipePort struct {
	acks *io.PipeReader
	cmds *io.PipeWriter

	closes atomic.Int32
}

func (p *pipePort) Read(b []byte) (int, error)  { return p.acks.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) { return p.cmds.Write(b) }

func (p *pipePort) Close() error {
	p.closes.Add(1)
	p.cmds.Close()
	return p.acks.Close()
}

// fakeEngraver decodes frames from the line and answers through respond.
// A nil answer leaves the frame unacknowledged until ack is called.
type fakeEngraver struct {
	cmds *io.PipeReader
	acks *io.PipeWriter
	port *pipePort

	mu      sync.Mutex
	frames  []engraver.Frame
	respond func(engraver.Frame) []byte

	received chan engraver.Frame
}

func newFakeEngraver() *fakeEngraver {
	ackR, ackW := io.Pipe()
	cmdR, cmdW := io.Pipe()
	f := &fakeEngraver{
		cmds:     cmdR,
		acks:     ackW,
		port:     &pipePort{acks: ackR, cmds: cmdW},
		respond:  func(engraver.Frame) []byte { return []byte{byte(engraver.ResponseCompleted)} },
		received: make(chan engraver.Frame, 1024),
	}
	go f.run()
	return f
}

func (f *fakeEngraver) run() {
	for {
		header := make([]byte, engraver.HeaderSize)
		if _, err := io.ReadFull(f.cmds, header); err != nil {
			return
		}
		buf := make([]byte, binary.BigEndian.Uint16(header[1:]))
		copy(buf, header)
		if _, err := io.ReadFull(f.cmds, buf[engraver.HeaderSize:]); err != nil {
			return
		}
		frame, err := engraver.DecodeFrame(buf)
		if err != nil {
			return
		}

		f.mu.Lock()
		f.frames = append(f.frames, frame)
		respond := f.respond
		f.mu.Unlock()
		f.received <- frame

		if answer := respond(frame); answer != nil {
			if _, err := f.acks.Write(answer); err != nil {
				return
			}
		}
	}
}

func (f *fakeEngraver) setRespond(fn func(engraver.Frame) []byte) {
	f.mu.Lock()
	f.respond = fn
	f.mu.Unlock()
}

func (f *fakeEngraver) ack(t *testing.T, b byte) {
	t.Helper()
	_, err := f.acks.Write([]byte{b})
	require.NoError(t, err)
}

// pull drops the line as if the cable was unplugged.
func (f *fakeEngraver) pull() {
	f.acks.CloseWithError(errors.New("cable pulled"))
}

func (f *fakeEngraver) types() []engraver.CommandType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engraver.CommandType, len(f.frames))
	for i, fr := range f.frames {
		out[i] = fr.Type
	}
	return out
}

func (f *fakeEngraver) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
	for {
		select {
		case <-f.received:
		default:
			return
		}
	}
}

func (f *fakeEngraver) next(t *testing.T) engraver.Frame {
	t.Helper()
	select {
	case fr := <-f.received:
		return fr
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return engraver.Frame{}
	}
}

// holdEngrave leaves engrave frames unacknowledged.
func holdEngrave(fr engraver.Frame) []byte {
	if fr.Type == engraver.CommandEngrave {
		return nil
	}
	return []byte{byte(engraver.ResponseCompleted)}
}

// holdFlush acknowledges engrave frames but leaves the Reset flushing them
// unacknowledged.
func holdFlush() func(engraver.Frame) []byte {
	var engraved atomic.Bool
	return func(fr engraver.Frame) []byte {
		switch fr.Type {
		case engraver.CommandEngrave:
			engraved.Store(true)
		case engraver.CommandReset:
			if engraved.Load() {
				return nil
			}
		}
		return []byte{byte(engraver.ResponseCompleted)}
	}
}

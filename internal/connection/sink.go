package connection

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/sensorfabric/sensord/internal/sensor"
)

// Sink is the transport a connection's drain loop writes delivered
// batches to: a plain local stream rather than a parcel/binder
// transaction, since binder-style IPC marshalling is out of scope.
type Sink interface {
	WriteEvents(events []sensor.Event) error
	Close() error
}

// wirePayloadSize is the byte length of the encoded Payload union:
// Vec3(12) + Vec4(16) + Scalar(4) + Accuracy(4) + MetaType(4) + DynHandle(4)
// + DynAdd, padded to a 4-byte boundary(4).
const wirePayloadSize = 12 + 16 + 4 + 4 + 4 + 4 + 4

// wireEventSize is the byte length of one fixed-layout event record:
// version(4) + handle(4) + type(4) + timestamp(8) + payload + flags(4).
const wireEventSize = 4 + 4 + 4 + 8 + wirePayloadSize + 4

// StreamSink encodes events in the fixed wire layout and writes them to an
// underlying local stream (a Unix domain socket in production, any
// io.WriteCloser in tests).
type StreamSink struct {
	w io.WriteCloser
}

func NewStreamSink(w io.WriteCloser) *StreamSink {
	return &StreamSink{w: w}
}

func (s *StreamSink) WriteEvents(events []sensor.Event) error {
	buf := make([]byte, 0, len(events)*wireEventSize)
	for _, evt := range events {
		buf = appendEvent(buf, evt)
	}
	if len(buf) == 0 {
		return nil
	}
	_, err := s.w.Write(buf)
	if err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}

func (s *StreamSink) Close() error { return s.w.Close() }

func appendEvent(buf []byte, evt sensor.Event) []byte {
	var tmp [wireEventSize]byte
	binary.LittleEndian.PutUint32(tmp[0:4], uint32(evt.Version))
	binary.LittleEndian.PutUint32(tmp[4:8], uint32(evt.SensorHandle))
	binary.LittleEndian.PutUint32(tmp[8:12], uint32(evt.Type))
	binary.LittleEndian.PutUint64(tmp[12:20], uint64(evt.TimestampNs))
	off := 20
	for _, v := range evt.Payload.Vec3 {
		binary.LittleEndian.PutUint32(tmp[off:off+4], math.Float32bits(v))
		off += 4
	}
	for _, v := range evt.Payload.Vec4 {
		binary.LittleEndian.PutUint32(tmp[off:off+4], math.Float32bits(v))
		off += 4
	}
	binary.LittleEndian.PutUint32(tmp[off:off+4], math.Float32bits(evt.Payload.Scalar))
	off += 4
	binary.LittleEndian.PutUint32(tmp[off:off+4], math.Float32bits(evt.Payload.Accuracy))
	off += 4
	binary.LittleEndian.PutUint32(tmp[off:off+4], uint32(evt.Payload.MetaType))
	off += 4
	binary.LittleEndian.PutUint32(tmp[off:off+4], uint32(evt.Payload.DynHandle))
	off += 4
	if evt.Payload.DynAdd {
		tmp[off] = 1
	}
	off += 4
	binary.LittleEndian.PutUint32(tmp[off:off+4], uint32(evt.Flags))
	off += 4
	if off != wireEventSize {
		panic("appendEvent: layout size mismatch")
	}
	return append(buf, tmp[:]...)
}

// MemorySink is an in-process Sink that appends to a slice, used by tests
// that want to inspect exactly what was delivered without decoding the
// wire format.
type MemorySink struct {
	Delivered [][]sensor.Event
	closed    bool
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) WriteEvents(events []sensor.Event) error {
	cp := append([]sensor.Event(nil), events...)
	m.Delivered = append(m.Delivered, cp)
	return nil
}

func (m *MemorySink) Close() error {
	m.closed = true
	return nil
}

func (m *MemorySink) Closed() bool { return m.closed }

// All flattens every delivered batch into one slice, in delivery order.
func (m *MemorySink) All() []sensor.Event {
	var out []sensor.Event
	for _, batch := range m.Delivered {
		out = append(out, batch...)
	}
	return out
}

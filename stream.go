package aqualink

import "io"

// Stream is the byte-stream abstraction the scheduler is given
// (spec.md §6): a place to write outgoing frames and read incoming
// bytes from. Opening, configuring (baud, parity, RS-485 mode via
// driver ioctls), and flushing the underlying device is host
// responsibility — see cmd/aqua-control, which wires a real tty
// through github.com/daedaluz/goserial. The scheduler only ever sees
// this interface.
type Stream interface {
	io.Reader
	io.Writer
}

// fakeStream is an in-memory Stream used by tests. Writes are recorded
// for inspection; Read blocks (like a real blocking tty read) until
// the test pushes a chunk or closes the stream, at which point it
// returns io.EOF — exercising the scheduler's fatal EOF path
// (spec.md §4.6).
type fakeStream struct {
	writes chan []byte
	chunks chan []byte
	closed chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		writes: make(chan []byte, 64),
		chunks: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	f.writes <- cp
	return len(p), nil
}

// push queues bytes to be returned by a future Read call.
func (f *fakeStream) push(p []byte) {
	f.chunks <- append([]byte(nil), p...)
}

// close makes the next (or already-blocked) Read return io.EOF.
func (f *fakeStream) close() {
	close(f.closed)
}

func (f *fakeStream) Read(p []byte) (int, error) {
	select {
	case chunk := <-f.chunks:
		return copy(p, chunk), nil
	case <-f.closed:
		return 0, io.EOF
	}
}

// written pops the next recorded write, or returns nil, false if none
// has happened yet.
func (f *fakeStream) written() ([]byte, bool) {
	select {
	case w := <-f.writes:
		return w, true
	default:
		return nil, false
	}
}

package mqtt

import "fmt"

// Arena is a fixed-capacity FIFO byte buffer.
//
// Writes are all-or-nothing: a frame either fits completely or the write
// fails with ErrArenaOverflow and the arena is left untouched. The
// backing slice is allocated once and never grows.
type Arena struct {
	buf []byte
	n   int
}

// NewArena allocates an arena holding at most capacity bytes.
func NewArena(capacity int) (*Arena, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &Arena{buf: make([]byte, capacity)}, nil
}

// Cap returns the fixed capacity.
func (a *Arena) Cap() int { return len(a.buf) }

// Len returns the number of buffered bytes.
func (a *Arena) Len() int { return a.n }

// Free returns the number of bytes that can still be written.
func (a *Arena) Free() int { return len(a.buf) - a.n }

// Bytes returns the buffered bytes. The slice aliases the arena and is
// only valid until the next mutating call.
func (a *Arena) Bytes() []byte { return a.buf[:a.n] }

// Append copies p to the end of the arena.
func (a *Arena) Append(p []byte) error {
	if len(p) > a.Free() {
		return fmt.Errorf("%w: frame of %d bytes, %d of %d free",
			ErrArenaOverflow, len(p), a.Free(), a.Cap())
	}
	a.n += copy(a.buf[a.n:], p)
	return nil
}

// Spare returns the unused tail of the arena for a reader to fill.
// Call Commit with the number of bytes written into it.
func (a *Arena) Spare() []byte { return a.buf[a.n:] }

// Commit marks n bytes of the spare region as buffered.
func (a *Arena) Commit(n int) {
	if n < 0 || n > a.Free() {
		panic(fmt.Sprintf("mqtt: arena commit of %d bytes with %d free", n, a.Free()))
	}
	a.n += n
}

// Consume drops the first n buffered bytes.
func (a *Arena) Consume(n int) {
	if n >= a.n {
		a.n = 0
		return
	}
	copy(a.buf, a.buf[n:a.n])
	a.n -= n
}

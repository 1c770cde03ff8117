package peer

import "github.com/chainwatch/hcd/errors"

// recvBuffer is the per-peer receive backlog: bytes accumulate at the tail
// and are consumed from a read-offset cursor at the head, so steady-state
// operation is O(1) amortized per byte with no front-erase. It is compacted
// once the consumed prefix passes half its length.
type recvBuffer struct {
	buf    []byte
	offset int
}

// unread returns the number of buffered, not-yet-consumed bytes.
func (b *recvBuffer) unread() int { return len(b.buf) - b.offset }

// append adds data to the tail, rejecting the write if the resulting unread
// total would exceed maxSize (DEFAULT_RECV_FLOOD_SIZE).
func (b *recvBuffer) append(data []byte, maxSize int) error {
	if b.unread()+len(data) > maxSize {
		return errors.New(errors.ERR_PROTOCOL_RECV_FLOOD, "receive buffer would exceed %d bytes", maxSize)
	}
	b.buf = append(b.buf, data...)
	return nil
}

// peek returns a view of the n unread bytes starting at rel (relative to the
// current read offset), or nil if fewer than n bytes are buffered.
func (b *recvBuffer) peek(rel, n int) []byte {
	start := b.offset + rel
	end := start + n
	if end > len(b.buf) {
		return nil
	}
	return b.buf[start:end]
}

// consume advances the read offset by n and compacts when the consumed
// prefix exceeds half the backing array.
func (b *recvBuffer) consume(n int) {
	b.offset += n
	if b.offset > len(b.buf)/2 && b.offset > 0 {
		b.compact()
	}
}

func (b *recvBuffer) compact() {
	remaining := b.buf[b.offset:]
	if len(remaining) == 0 {
		b.buf = nil
		b.offset = 0
		return
	}
	// Shrink the backing array back down once the live data is small
	// relative to a buffer that grew large handling a prior burst.
	if cap(b.buf) > 4*len(remaining) && cap(b.buf) > 4096 {
		fresh := make([]byte, len(remaining))
		copy(fresh, remaining)
		b.buf = fresh
	} else {
		copy(b.buf, remaining)
		b.buf = b.buf[:len(remaining)]
	}
	b.offset = 0
}

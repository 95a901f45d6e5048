package connection

import (
	"fmt"

	"golang.org/x/sys/unix"

	"streamgate/internal/sock"
)

// maxChunk bounds any single appended buffer or chunk size.
const maxChunk = 1 << 24

const bufsGrow = 16

// Bufs is a scatter-gather list for one send operation. Entries reference
// caller-owned memory; Bufs never copies payload bytes.
type Bufs struct {
	iov   [][]byte
	count int
	total int
}

// NewBufs creates a list with room for start entries when 0 < start < 500;
// otherwise the list starts empty and grows on the first Append.
func NewBufs(start int) *Bufs {
	b := &Bufs{}
	if start > 0 && start < 500 {
		b.iov = make([][]byte, start)
	}
	return b
}

// Flush empties the list without releasing entry storage.
func (b *Bufs) Flush() {
	b.count = 0
	b.total = 0
}

// Count returns the number of entries.
func (b *Bufs) Count() int { return b.count }

// Total returns the byte sum of all entries.
func (b *Bufs) Total() int { return b.total }

// Append adds one entry and returns the new total.
func (b *Bufs) Append(p []byte) int {
	if len(p) >= maxChunk {
		panic(fmt.Sprintf("connection: bufs entry of %d bytes fails sanity check", len(p)))
	}
	if b.count >= len(b.iov) {
		grown := make([][]byte, len(b.iov)+bufsGrow)
		copy(grown, b.iov)
		b.iov = grown
	}
	b.iov[b.count] = p
	b.count++
	b.total += len(p)
	return b.total
}

// locateStart finds the entry containing byte skip and advances it in
// place past the consumed portion. It returns the entry index, the saved
// original entry for restoration, and whether a mutation happened.
// Returns -1 when skip covers the whole list.
func (b *Bufs) locateStart(skip int) (int, []byte, bool) {
	if skip >= b.total {
		return -1, nil, false
	}
	sum := 0
	for i := 0; i < b.count; i++ {
		if sum+len(b.iov[i]) > skip {
			offset := skip - sum
			if offset > 0 {
				saved := b.iov[i]
				b.iov[i] = saved[offset:]
				return i, saved, true
			}
			return i, nil, false
		}
		sum += len(b.iov[i])
	}
	return -1, nil, false
}

// SendBufs writes the list from byte offset skip onward. Any in-place
// mutation of the first covered entry is reverted before returning. The
// return is the byte count written, or ErrTryAgain / a fatal error with
// the connection Error flag set.
func (c *Connection) SendBufs(v *Bufs, skip int) (int, error) {
	if skip > v.total {
		panic("connection: send skip exceeds vector total")
	}
	i, saved, mutated := v.locateStart(skip)
	if i < 0 {
		return 0, nil
	}
	var n int
	var err error
	if c.tlsConn == nil {
		n, err = unix.Writev(c.Fd, v.iov[i:v.count])
		if err != nil {
			if sock.Recoverable(err) {
				err = ErrTryAgain
			} else {
				c.Error = true
			}
			n = 0
		}
	} else {
		n, err = c.tlsSendv(v.iov[i:v.count])
	}
	if mutated {
		v.iov[i] = saved
	}
	if n > 0 {
		c.SentBytes += uint64(n)
		return n, nil
	}
	return 0, err
}

// ChunkStart formats a chunked-transfer size line into hdr, which must be
// caller-owned and live until the send completes, and appends it to the
// list. It returns the new total.
func (b *Bufs) ChunkStart(hdr []byte, chunkSz int) int {
	if chunkSz >= maxChunk {
		panic(fmt.Sprintf("connection: chunk of %d bytes fails sanity check", chunkSz))
	}
	n := copy(hdr, fmt.Sprintf("%x\r\n", chunkSz))
	return b.Append(hdr[:n])
}

// ChunkEnd appends the trailing CRLF of a chunk, reusing the tail of the
// header buffer written by ChunkStart.
func (b *Bufs) ChunkEnd(hdr []byte) int {
	for i := 0; i+1 < len(hdr); i++ {
		if hdr[i] == '\r' && hdr[i+1] == '\n' {
			return b.Append(hdr[i : i+2])
		}
	}
	panic("connection: chunk header has no EOL")
}

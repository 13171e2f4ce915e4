package engine

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const outBufSize = 4 << 10

// pool for response buffers, so we don't alloc new bufs for every resp
var outPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, outBufSize)
	},
}

// Buffer returns the session output buffer, taking one from pool when needed;
// builders append to it and hand it back with SetOut
func (s *Session) Buffer() []byte {
	if s.out == nil {
		s.out = outPool.Get().([]byte)[:0]
	}
	return s.out
}

// flush writes pending output until it is done or the socket would block
func (e *Engine) flush(s *Session) (bool, error) {
	for s.outOff < len(s.out) {
		n, err := unix.Write(s.Fd, s.out[s.outOff:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return false, nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return false, err
		}
		s.outOff += n
		s.touch(time.Now().UnixNano())
	}

	// everything is sent, buffer goes back to pool
	outPool.Put(s.out[:0])
	s.out = nil
	s.outOff = 0
	s.writeStart.Store(0)
	return true, nil
}

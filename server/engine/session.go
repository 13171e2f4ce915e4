package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the position of a session in its request/response cycle.
type State int32

const (
	StateAwaitingRequest State = iota
	StateParsing
	StateDispatching
	StateWritingResponse
	StateClosed
)

func (st State) String() string {
	switch st {
	case StateAwaitingRequest:
		return "awaiting-request"
	case StateParsing:
		return "parsing"
	case StateDispatching:
		return "dispatching"
	case StateWritingResponse:
		return "writing-response"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// request struct, raw because it refers to bytes so we can't use it in user scope
// all views are windows into Session.Buf for zero-copy
type RawRequest struct {
	Method   View // http method
	Protocol View // proto

	Path     View   // url without query
	RawQuery View   // url query (? ...) raw bc i wouldn't parse it if not needed
	Hcount   uint16 // header count

	Body          View // req body
	HeaderLen     int  // bytes up to and including the blank line, 0 until headers are complete
	ContentLength int

	KeepAlive      bool
	ExpectContinue bool
}

// view for slice
type View struct {
	St  uint32
	End uint32
}

// view as buffer based on Session
func (v View) AsBuf(s *Session) []byte {
	return s.Buf[v.St:v.End]
}

func (v View) Len() int {
	return int(v.End - v.St)
}

// header struct based on views
type HeaderView struct {
	Key, Val View
}

// session is an arena for pre-allocated data
// it manages buffers and fd for one connection, session is owned by one worker at a time !
// buf, offset for raw data, hbuf and req is pre-allocated buffer for headers and RawRequest
type Session struct {
	// Ctx is free for the protocol layer, it survives between requests of one connection
	Ctx any

	Buf []byte
	// ^-- big session buf ; all Views refer to THIS ;
	// buf sets off only when session need it, see Engine.read

	Hbuf [32]HeaderView
	Req  RawRequest

	Fd         int
	ID         uint64
	RemoteAddr string
	Offset     int

	// set by the protocol layer
	ContinueSent bool

	out        []byte // pending response bytes
	outOff     int
	closeAfter bool

	state      atomic.Int32
	lastActive atomic.Int64 // unix nanos of the last read or write
	readStart  atomic.Int64 // first byte of a request that is not complete yet
	writeStart atomic.Int64 // first blocked write
	timedOut   atomic.Bool

	// bumped before the fd is armed and loaded by the worker that gets the next event,
	// so everything the previous owner wrote is visible to the next one
	handoff atomic.Uint64

	// mu orders closing the fd against the timeout sweeper
	mu     sync.Mutex
	closed bool
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) SetState(st State) {
	s.state.Store(int32(st))
}

// Write queues p for sending, p is copied so it may alias Buf.
func (s *Session) Write(p []byte) {
	s.out = append(s.Buffer(), p...)
}

// SetOut replaces the pending output buffer, b must extend the slice returned by Buffer.
func (s *Session) SetOut(b []byte) {
	s.out = b
}

// CloseAfterWrite closes the connection once pending output is flushed.
func (s *Session) CloseAfterWrite() {
	s.closeAfter = true
}

// Consume drops the first n bytes of the read buffer, moving pipelined data to the front.
func (s *Session) Consume(n int) {
	rem := s.Offset - n
	if rem > 0 {
		copy(s.Buf, s.Buf[n:s.Offset])
	}
	s.Offset = rem
	s.Req = RawRequest{}
	s.ContinueSent = false
	if rem == 0 {
		s.readStart.Store(0)
		return
	}
	// leftover bytes are the start of the next request
	s.readStart.Store(time.Now().UnixNano())
}

func (s *Session) pending() bool {
	return s.outOff < len(s.out)
}

func (s *Session) touch(now int64) {
	s.lastActive.Store(now)
}

// expired reports whether one of the configured deadlines has passed, zero durations are disabled
func (s *Session) expired(now int64, cfg *Config) bool {
	if w := s.writeStart.Load(); w > 0 && cfg.WriteTimeout > 0 && now-w > int64(cfg.WriteTimeout) {
		return true
	}
	if r := s.readStart.Load(); r > 0 && cfg.ReadTimeout > 0 && now-r > int64(cfg.ReadTimeout) {
		return true
	}
	if s.State() == StateAwaitingRequest && s.readStart.Load() == 0 && cfg.IdleTimeout > 0 &&
		now-s.lastActive.Load() > int64(cfg.IdleTimeout) {
		return true
	}
	return false
}

// reset session for put it to pool
func (s *Session) reset() {
	s.Ctx = nil
	s.Buf = nil
	s.Offset = 0
	s.Req = RawRequest{}
	s.ContinueSent = false
	s.out = nil
	s.outOff = 0
	s.closeAfter = false
	s.RemoteAddr = ""
	s.readStart.Store(0)
	s.writeStart.Store(0)
	s.timedOut.Store(false)
}

// init is called for a session taken from pool, under mu bc the sweeper may still hold it
func (s *Session) init(fd int, id uint64, remote string) {
	s.mu.Lock()
	s.Fd = fd
	s.ID = id
	s.RemoteAddr = remote
	s.closed = false
	s.touch(time.Now().UnixNano())
	s.SetState(StateAwaitingRequest)
	s.mu.Unlock()
}

// worker pool and session lifecycle
package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Serve starts the fixed worker pool and the timeout sweeper, it does not block
func (e *Engine) Serve() error {
	if e.epfd < 0 {
		return ErrNotListening
	}
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine already serving")
	}

	for i := range e.cfg.Workers {
		e.wg.Add(1)
		go e.worker(i)
	}

	e.wg.Add(1)
	go e.sweeper()
	return nil
}

// every worker runs its own iteration of the event loop on the shared epoll fd,
// oneshot events guarantee that one fd is handled by one worker at a time
func (e *Engine) worker(id int) {
	defer e.wg.Done()

	events := make([]unix.EpollEvent, maxEvents)
	for {
		// number of events to handle
		n, err := unix.EpollWait(e.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			e.log.Error().Err(err).Int("worker", id).Msg("epoll_wait failed, worker exits")
			return
		}

		for i := range n {
			efd := int(events[i].Fd) // current event descriptor

			switch efd {
			case e.wakefd:
				return
			case e.lfd:
				e.accept()
				if err := e.arm(e.lfd, unix.EPOLLIN); err != nil && !e.closed.Load() {
					e.log.Error().Err(err).Msg("re-arm listener")
				}
			default:
				e.handle(efd, events[i].Events)
			}
		}
	}
}

// handle one readiness event of a session fd
func (e *Engine) handle(fd int, events uint32) {
	if fd < 0 || fd >= len(e.sessions) {
		return
	}
	s := e.sessions[fd].Load() // load pointer atomically so we don't get invalid ptr
	if s == nil {
		return
	}
	s.handoff.Load()

	if s.pending() {
		if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			e.closeSession(s, e.closeReason(s, ErrPeerClosed))
			return
		}
		e.flushAndRearm(s)
		return
	}
	e.read(s)
}

func (e *Engine) read(s *Session) {
	// give buffer to session only when needed
	// it is useful when we have many keep-alive conns that store bufs but not working
	if s.Buf == nil {
		s.Buf = e.bufPool.Get().([]byte)
	}
	if s.Offset >= len(s.Buf) {
		e.closeSession(s, errors.New("read buffer overflow"))
		return
	}

	n, err := unix.Read(s.Fd, s.Buf[s.Offset:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			e.rearmRead(s)
			return
		}
		e.closeSession(s, e.closeReason(s, err))
		return
	}
	if n == 0 {
		e.closeSession(s, e.closeReason(s, ErrPeerClosed))
		return
	}

	now := time.Now().UnixNano()
	s.touch(now)
	s.readStart.CompareAndSwap(0, now)
	s.Offset += n

	if err := e.onData(s); err != nil {
		e.closeSession(s, err)
		return
	}
	e.flushAndRearm(s)
}

// flush pending output, then wait for the next request or close
func (e *Engine) flushAndRearm(s *Session) {
	if s.pending() {
		s.SetState(StateWritingResponse)
		done, err := e.flush(s)
		if err != nil {
			e.closeSession(s, e.closeReason(s, err))
			return
		}
		if !done {
			s.writeStart.CompareAndSwap(0, time.Now().UnixNano())
			if err := e.rearm(s, unix.EPOLLOUT); err != nil {
				e.closeSession(s, fmt.Errorf("epoll_ctl mod: %w", err))
			}
			return
		}
	}

	if s.closeAfter {
		e.closeSession(s, nil)
		return
	}

	s.SetState(StateAwaitingRequest)
	e.rearmRead(s)
}

func (e *Engine) rearmRead(s *Session) {
	if s.Offset == 0 && s.Buf != nil {
		e.bufPool.Put(s.Buf[:cap(s.Buf)])
		s.Buf = nil
	}
	if err := e.rearm(s, unix.EPOLLIN); err != nil {
		e.closeSession(s, fmt.Errorf("epoll_ctl mod: %w", err))
	}
}

// if the sweeper shut the socket down, report that instead of what the worker saw
func (e *Engine) closeReason(s *Session, err error) error {
	if s.timedOut.Load() {
		return ErrTimeout
	}
	return err
}

// closeSession releases the fd and every buffer, it must run on the owning worker
func (e *Engine) closeSession(s *Session, reason error) {
	s.mu.Lock()
	fd := s.Fd
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	e.sessions[fd].Store(nil) // atomically zeroing our ptr to session
	unix.Close(fd)
	s.mu.Unlock()

	s.SetState(StateClosed)
	if e.OnClose != nil {
		e.OnClose(s, reason)
	}

	if s.Buf != nil {
		e.bufPool.Put(s.Buf[:cap(s.Buf)])
	}
	if s.out != nil {
		outPool.Put(s.out[:0])
	}
	// clearing session before put it to pool
	s.reset()
	e.sessionPool.Put(s)
}

// sweeper enforces read, write and idle timeouts; it only shuts sockets down,
// the owning worker sees EOF and closes the session itself
func (e *Engine) sweeper() {
	defer e.wg.Done()

	t := time.NewTicker(e.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-e.stop:
			return
		case now := <-t.C:
			e.sweep(now.UnixNano())
		}
	}
}

func (e *Engine) sweep(now int64) {
	maxfd := int(e.maxfd.Load())
	for fd := 0; fd <= maxfd && fd < len(e.sessions); fd++ {
		s := e.sessions[fd].Load()
		if s == nil {
			continue
		}

		s.mu.Lock()
		if !s.closed && !s.timedOut.Load() && s.expired(now, &e.cfg) {
			s.timedOut.Store(true)
			unix.Shutdown(s.Fd, unix.SHUT_RDWR)
			e.log.Debug().Uint64("session", s.ID).Str("state", s.State().String()).Msg("session timed out")
		}
		s.mu.Unlock()
	}
}

// Close stops the workers and abandons open sessions, in-flight requests are not drained
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.epfd < 0 {
		return nil
	}

	if e.started.Load() {
		var one [8]byte
		binary.NativeEndian.PutUint64(one[:], 1)
		if _, err := unix.Write(e.wakefd, one[:]); err != nil {
			e.log.Error().Err(err).Msg("wake workers")
		}
		close(e.stop)
		e.wg.Wait()
	}

	for fd := range e.sessions {
		if s := e.sessions[fd].Load(); s != nil {
			e.closeSession(s, ErrEngineClosed)
		}
	}

	err := errors.Join(unix.Close(e.lfd), unix.Close(e.wakefd), unix.Close(e.epfd))
	e.log.Info().Msg("engine stopped")
	return err
}

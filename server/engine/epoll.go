// file with epoll settings and socket creating
// only low level epoll and socket functional, no HTTP logic here
package engine

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	maxEvents = 128

	defaultBacklog    = 1024
	defaultBufferSize = 1 << 16
	defaultMaxConns   = 1 << 16
)

var (
	ErrPeerClosed   = errors.New("connection closed by peer")
	ErrTimeout      = errors.New("session timed out")
	ErrEngineClosed = errors.New("engine closed")
	ErrNotListening = errors.New("engine is not listening")
)

// Config holds the limits of one engine
type Config struct {
	Workers    int // number of event loop goroutines, NumCPU when 0
	Backlog    int
	BufferSize int // read buffer per active session, also caps one request
	MaxConns   int // size of the session table, fds above it are refused

	ReadTimeout   time.Duration // max time a partial request may stay buffered
	WriteTimeout  time.Duration // max time a response may stay blocked
	IdleTimeout   time.Duration // keep-alive connections without data
	SweepInterval time.Duration

	Logger *zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Backlog <= 0 {
		c.Backlog = defaultBacklog
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}

// callback func for handling raw data from socket,
// s is Session related to the ready descriptor, returning an error closes it
type DataFunc func(s *Session) error

// Engine owns the listening socket, the epoll instance and the worker pool
type Engine struct {
	cfg    Config
	onData DataFunc
	log    zerolog.Logger

	OnOpen  func(s *Session)            // called by the accepting worker
	OnClose func(s *Session, err error) // err is nil for a regular close after response

	lfd    int
	epfd   int
	wakefd int
	addr   net.Addr

	sessions []atomic.Pointer[Session] // indexed by fd
	maxfd    atomic.Int64
	nextID   atomic.Uint64

	bufPool     sync.Pool
	sessionPool sync.Pool

	wg      sync.WaitGroup
	stop    chan struct{}
	started atomic.Bool
	closed  atomic.Bool
}

// New creates an engine, Listen and Serve have to be called to accept connections
func New(cfg Config, onData DataFunc) *Engine {
	cfg.setDefaults()
	e := &Engine{
		cfg:    cfg,
		onData: onData,
		log:    cfg.Logger.With().Str("component", "engine").Logger(),
		lfd:    -1,
		epfd:   -1,
		wakefd: -1,
		stop:   make(chan struct{}),
	}
	size := cfg.BufferSize
	e.bufPool.New = func() any {
		return make([]byte, size)
	}
	e.sessionPool.New = func() any {
		return &Session{}
	}
	return e
}

// Listen binds address:port and registers the listener in a new epoll instance;
// it never blocks, bind errors are returned so the caller can stop
func (e *Engine) Listen(address string, port int) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	sa, family, err := resolveSockaddr(address, port)
	if err != nil {
		return err
	}

	fd, err := listenSocket(sa, family, e.cfg.Backlog)
	if err != nil {
		return fmt.Errorf("listen %s: %w", net.JoinHostPort(address, strconv.Itoa(port)), err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("getsockname: %w", err)
	}

	// creating new epoll instance
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("epoll_create1: %w", err)
	}

	// eventfd wakes every worker on Close, it is level triggered and never drained
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		unix.Close(fd)
		return fmt.Errorf("eventfd: %w", err)
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakefd),
	}); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		unix.Close(fd)
		return fmt.Errorf("epoll_ctl wakefd: %w", err)
	}

	// register listening socket to epoll, oneshot so one worker accepts at a time
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLONESHOT,
		Fd:     int32(fd),
	}); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		unix.Close(fd)
		return fmt.Errorf("epoll_ctl listener: %w", err)
	}

	e.lfd, e.epfd, e.wakefd = fd, epfd, wakefd
	e.addr = sockaddrToTCPAddr(bound)
	e.sessions = make([]atomic.Pointer[Session], sessionTableSize(e.cfg.MaxConns))

	e.log.Info().Str("addr", e.addr.String()).Int("workers", e.cfg.Workers).Msg("listening")
	return nil
}

// Addr returns the bound address, nil before Listen
func (e *Engine) Addr() net.Addr {
	return e.addr
}

// get r limit (means max count of descriptors) so the table is never larger than we can use
func sessionTableSize(max int) int {
	rlim := unix.Rlimit{}
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err == nil && rlim.Cur > 0 && rlim.Cur < uint64(max) {
		return int(rlim.Cur)
	}
	return max
}

// arm re-enables a oneshot descriptor for the given events
func (e *Engine) arm(fd int, events uint32) error {
	return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: events | unix.EPOLLONESHOT | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	})
}

// rearm hands the session over to whichever worker gets its next event,
// nothing may touch s after it returns nil
func (e *Engine) rearm(s *Session, events uint32) error {
	s.handoff.Add(1)
	return e.arm(s.Fd, events)
}

// accept drains the listen queue, it runs on whichever worker got the listener event
func (e *Engine) accept() {
	for {
		nfd, rsa, err := unix.Accept4(e.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN):
				return
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED), errors.Is(err, unix.EPROTO):
				continue
			default:
				// EMFILE, ENFILE, ENOBUFS... stop this burst, listener is re-armed by the caller
				e.log.Warn().Err(err).Msg("accept failed")
				return
			}
		}

		if nfd >= len(e.sessions) {
			e.log.Warn().Int("fd", nfd).Msg("session table full, refusing connection")
			unix.Close(nfd)
			continue
		}

		s := e.sessionPool.Get().(*Session)
		s.reset()
		s.init(nfd, e.nextID.Add(1), sockaddrToTCPAddr(rsa).String())
		e.sessions[nfd].Store(s)
		for {
			cur := e.maxfd.Load()
			if int64(nfd) <= cur || e.maxfd.CompareAndSwap(cur, int64(nfd)) {
				break
			}
		}

		if e.OnOpen != nil {
			e.OnOpen(s)
		}

		// adding new descriptor to epoll
		s.handoff.Add(1)
		if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, nfd, &unix.EpollEvent{
			Events: unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLONESHOT,
			Fd:     int32(nfd),
		}); err != nil {
			e.closeSession(s, fmt.Errorf("epoll_ctl add: %w", err))
		}
	}
}

// create new socket, bind and start listening
func listenSocket(sa unix.Sockaddr, family, backlog int) (int, error) {
	// SOCK_STREAM = TCP
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}

	if err := unix.Bind(fd, sa); err != nil { // bind socket to addr:port
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, backlog); err != nil { // start listening on addr:port
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func resolveSockaddr(address string, port int) (unix.Sockaddr, int, error) {
	if port < 0 || port > 65535 {
		return nil, 0, fmt.Errorf("invalid port %d", port)
	}

	var ip net.IP
	if address == "" {
		ip = net.IPv4zero
	} else if ip = net.ParseIP(address); ip == nil {
		ips, err := net.LookupIP(address)
		if err != nil || len(ips) == 0 {
			return nil, 0, fmt.Errorf("resolve %q: %w", address, err)
		}
		ip = ips[0]
	}

	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa, unix.AF_INET6, nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]).To16(), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	}
	return &net.TCPAddr{}
}

package server

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/kfcemployee/joyofenergy/server/engine"
	"github.com/kfcemployee/joyofenergy/server/protocol"
	"github.com/kfcemployee/joyofenergy/server/router"
)

// Config holds everything the HTTP layer needs on top of the engine limits
type Config struct {
	Engine       engine.Config
	MaxBodyBytes int // 0 lets the read buffer decide
	GzipMinBytes int // 0 disables compression

	Logger   *zerolog.Logger
	Observer Observer
}

// Observer receives server events, internal/metrics implements it
type Observer interface {
	ConnOpened()
	ConnClosed(reason error)
	RequestServed(method, route string, status int, took time.Duration)
	ProtocolError(status int)
	HandlerPanicked()
}

type nopObserver struct{}

func (nopObserver) ConnOpened() {}
func (nopObserver) ConnClosed(error) {}
func (nopObserver) RequestServed(string, string, int, time.Duration) {}
func (nopObserver) ProtocolError(int) {}
func (nopObserver) HandlerPanicked() {}

// Server glues engine, parser and router together
//
//	srv := server.New(cfg)
//	srv.R.Get("/readings/read/{meterId}", read)
//	err := srv.Run(ctx, "0.0.0.0", 8080)
type Server struct {
	R        *router.Router
	NotFound router.Handler

	cfg Config
	prs protocol.HTTPParser
	eng *engine.Engine
	log zerolog.Logger
	obs Observer
}

// New creates a server with an empty router
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Engine.Logger == nil {
		cfg.Engine.Logger = cfg.Logger
	}

	srv := &Server{
		R:        router.NewHTTPRouter(),
		NotFound: notFound,
		cfg:      cfg,
		prs:      protocol.HTTPParser{MaxBody: cfg.MaxBodyBytes},
		log:      cfg.Logger.With().Str("component", "http").Logger(),
		obs:      cfg.Observer,
	}

	srv.eng = engine.New(cfg.Engine, srv.onData)
	srv.eng.OnOpen = srv.onOpen
	srv.eng.OnClose = srv.onClose
	return srv
}

// Listen binds the listener, a failure here means the process cannot serve
func (srv *Server) Listen(address string, port int) error {
	return srv.eng.Listen(address, port)
}

// Serve freezes the route table and starts the worker pool, it does not block
func (srv *Server) Serve() error {
	srv.R.Freeze()
	for _, rt := range srv.R.Routes() {
		srv.log.Debug().Str("method", rt.Method).Str("pattern", rt.Pattern).Msg("route")
	}
	return srv.eng.Serve()
}

// Run listens, serves and blocks until ctx is done, then closes the server
func (srv *Server) Run(ctx context.Context, address string, port int) error {
	if err := srv.Listen(address, port); err != nil {
		return err
	}
	if err := srv.Serve(); err != nil {
		srv.eng.Close()
		return err
	}

	<-ctx.Done()
	return srv.Close()
}

// Addr is the bound listener address
func (srv *Server) Addr() net.Addr {
	return srv.eng.Addr()
}

// Close stops the workers, open connections are dropped without draining
func (srv *Server) Close() error {
	return srv.eng.Close()
}

func (srv *Server) onOpen(s *engine.Session) {
	srv.obs.ConnOpened()
	srv.log.Debug().Uint64("session", s.ID).Str("remote", s.RemoteAddr).Msg("connection opened")
}

func (srv *Server) onClose(s *engine.Session, err error) {
	srv.obs.ConnClosed(err)
	ev := srv.log.Debug().Uint64("session", s.ID).Str("remote", s.RemoteAddr)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("connection closed")
}

func notFound(req *router.Request, _ []string) router.Response {
	return router.JSON(404, map[string]string{
		"code":    "NOT_FOUND",
		"message": "no route for " + req.Method + " " + req.Path,
	})
}

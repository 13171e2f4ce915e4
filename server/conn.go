// http session logic on top of engine sessions: parse -> dispatch -> write
package server

import (
	"bytes"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/kfcemployee/joyofenergy/server/engine"
	"github.com/kfcemployee/joyofenergy/server/protocol"
	"github.com/kfcemployee/joyofenergy/server/router"
)

const requestIDHeader = "X-Request-ID"

var (
	hConnection      = []byte("Connection")
	hRequestID       = []byte(requestIDHeader)
	hContentType     = []byte("Content-Type")
	hContentEncoding = []byte("Content-Encoding")
	hVary            = []byte("Vary")

	vClose          = []byte("close")
	vKeepAlive      = []byte("keep-alive")
	vGzip           = []byte("gzip")
	vAcceptEncoding = []byte("Accept-Encoding")
	vText           = []byte("text/plain; charset=utf-8")
)

// conn is the per connection scratch kept in Session.Ctx
type conn struct {
	hdrs [32]protocol.Header
	resH [16]protocol.Header
	req  router.Request
}

var gzipPool = sync.Pool{
	New: func() any {
		w, _ := gzip.NewWriterLevel(nil, gzip.DefaultCompression)
		return w
	},
}

var gzbufPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// onData runs on the worker owning s, every complete request in the buffer is
// answered in arrival order; an incomplete one waits for the next read
func (srv *Server) onData(s *engine.Session) error {
	c, _ := s.Ctx.(*conn)
	if c == nil {
		c = &conn{}
		s.Ctx = c
	}

	for s.Offset > 0 {
		s.SetState(engine.StateParsing)
		n, err := srv.prs.Parse(s.Buf[:s.Offset], s.Hbuf[:], &s.Req)
		if errors.Is(err, protocol.ErrIncomplete) {
			if perr := checkCapacity(s); perr != nil {
				srv.protocolError(s, perr)
				return nil
			}
			if s.Req.HeaderLen > 0 && s.Req.ExpectContinue && !s.ContinueSent {
				s.SetOut(protocol.AppendContinue(s.Buffer()))
				s.ContinueSent = true
			}
			return nil
		}
		if err != nil {
			srv.protocolError(s, err)
			return nil
		}

		keepAlive := s.Req.KeepAlive
		s.SetState(engine.StateDispatching)
		srv.serveRequest(s, c, keepAlive)

		// views die here, response bytes were already copied to the output buffer
		s.Consume(n)
		if !keepAlive {
			s.CloseAfterWrite()
			return nil
		}
	}
	return nil
}

// an incomplete request that can never fit in the session buffer
func checkCapacity(s *engine.Session) error {
	if s.Req.HeaderLen == 0 {
		if s.Offset >= len(s.Buf) {
			return protocol.ErrHeadersTooLarge
		}
		return nil
	}
	if s.Req.HeaderLen+s.Req.ContentLength > len(s.Buf) {
		return protocol.ErrBodyTooLarge
	}
	return nil
}

// protocolError answers garbage locally and closes, the connection is not trusted anymore
func (srv *Server) protocolError(s *engine.Session, err error) {
	status := protocol.StatusOf(err)
	srv.obs.ProtocolError(status)
	srv.log.Debug().Uint64("session", s.ID).Str("remote", s.RemoteAddr).Int("status", status).Err(err).Msg("protocol error")

	s.SetState(engine.StateWritingResponse)
	s.SetOut(protocol.AppendResponse(s.Buffer(), status, []protocol.Header{
		{Key: hContentType, Val: vText},
		{Key: hConnection, Val: vClose},
	}, []byte(err.Error())))
	s.CloseAfterWrite()
}

func (srv *Server) serveRequest(s *engine.Session, c *conn, keepAlive bool) {
	start := time.Now()
	req := srv.buildRequest(s, c)

	route, h, params, ok := srv.R.Lookup(req.Method, req.Path)
	if !ok {
		route, h = "", srv.NotFound
	}
	req.Params = params

	resp := srv.call(h, req, params)
	srv.writeResponse(s, c, req, &resp, keepAlive)

	took := time.Since(start)
	srv.obs.RequestServed(req.Method, route, resp.Status, took)
	srv.log.Info().
		Str("request_id", req.RequestID).
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.Status).
		Int("bytes", len(resp.Body)).
		Dur("took", took).
		Msg("request")

	c.req = router.Request{}
}

// buildRequest turns session views into the handler facing request, no copies of body or headers
func (srv *Server) buildRequest(s *engine.Session, c *conn) *router.Request {
	raw := &s.Req
	hdrs := c.hdrs[:0]
	for i := range int(raw.Hcount) {
		hv := s.Hbuf[i]
		hdrs = append(hdrs, protocol.Header{Key: hv.Key.AsBuf(s), Val: hv.Val.AsBuf(s)})
	}

	c.req = router.Request{
		Method:     methodString(raw.Method.AsBuf(s)),
		Path:       string(raw.Path.AsBuf(s)),
		RawQuery:   raw.RawQuery.AsBuf(s),
		Proto:      string(raw.Protocol.AsBuf(s)),
		Headers:    hdrs,
		Body:       raw.Body.AsBuf(s),
		RemoteAddr: s.RemoteAddr,
	}
	if id := c.req.Header(requestIDHeader); len(id) > 0 && len(id) <= 128 {
		c.req.RequestID = string(id)
	} else {
		c.req.RequestID = uuid.NewString()
	}
	return &c.req
}

// call runs the handler, a panic becomes a 500 and never reaches the worker loop
func (srv *Server) call(h router.Handler, req *router.Request, params []string) (resp router.Response) {
	defer func() {
		if r := recover(); r != nil {
			srv.obs.HandlerPanicked()
			srv.log.Error().
				Str("request_id", req.RequestID).
				Str("method", req.Method).
				Str("path", req.Path).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			resp = router.JSON(500, map[string]string{
				"code":    "INTERNAL_ERROR",
				"message": "internal server error",
			})
		}
	}()
	return h(req, params)
}

func (srv *Server) writeResponse(s *engine.Session, c *conn, req *router.Request, resp *router.Response, keepAlive bool) {
	s.SetState(engine.StateWritingResponse)
	if resp.Status == 0 {
		resp.Status = 200
	}

	hdrs := append(c.resH[:0], resp.Headers...)
	hdrs = append(hdrs, protocol.Header{Key: hRequestID, Val: []byte(req.RequestID)})
	switch {
	case !keepAlive:
		hdrs = append(hdrs, protocol.Header{Key: hConnection, Val: vClose})
	case req.Proto == "HTTP/1.0":
		hdrs = append(hdrs, protocol.Header{Key: hConnection, Val: vKeepAlive})
	}

	body := resp.Body
	if srv.shouldGzip(req, resp) {
		buf := gzbufPool.Get().(*bytes.Buffer)
		defer gzbufPool.Put(buf)
		buf.Reset()

		if err := gzipTo(buf, body); err == nil {
			body = buf.Bytes()
			hdrs = append(hdrs,
				protocol.Header{Key: hContentEncoding, Val: vGzip},
				protocol.Header{Key: hVary, Val: vAcceptEncoding},
			)
		} else {
			srv.log.Warn().Err(err).Str("request_id", req.RequestID).Msg("gzip failed, sending identity")
		}
	}

	s.SetOut(protocol.AppendResponse(s.Buffer(), resp.Status, hdrs, body))
}

func (srv *Server) shouldGzip(req *router.Request, resp *router.Response) bool {
	if srv.cfg.GzipMinBytes <= 0 || len(resp.Body) < srv.cfg.GzipMinBytes {
		return false
	}
	if resp.HeaderValue("Content-Encoding") != "" {
		return false
	}
	return acceptsGzip(req.Header("Accept-Encoding"))
}

func gzipTo(buf *bytes.Buffer, body []byte) error {
	zw := gzipPool.Get().(*gzip.Writer)
	defer gzipPool.Put(zw)

	zw.Reset(buf)
	if _, err := zw.Write(body); err != nil {
		return err
	}
	return zw.Close()
}

// acceptsGzip checks Accept-Encoding for gzip without a zero q-value
func acceptsGzip(v []byte) bool {
	for len(v) > 0 {
		var part []byte
		if i := bytes.IndexByte(v, ','); i != -1 {
			part, v = v[:i], v[i+1:]
		} else {
			part, v = v, nil
		}
		coding, params, _ := bytes.Cut(part, []byte{';'})
		coding = bytes.TrimSpace(coding)
		if !bytes.EqualFold(coding, vGzip) && !bytes.Equal(coding, []byte("*")) {
			continue
		}
		q := bytes.ReplaceAll(bytes.TrimSpace(params), []byte(" "), nil)
		if bytes.HasPrefix(q, []byte("q=0")) && !bytes.ContainsAny(q[3:], "123456789") {
			continue
		}
		return true
	}
	return false
}

// methodString avoids an allocation for the common methods
func methodString(b []byte) string {
	switch string(b) {
	case "GET":
		return "GET"
	case "POST":
		return "POST"
	case "PUT":
		return "PUT"
	case "DELETE":
		return "DELETE"
	case "HEAD":
		return "HEAD"
	case "OPTIONS":
		return "OPTIONS"
	case "PATCH":
		return "PATCH"
	}
	return string(b)
}

// parse raw bytes to HTTP RawRequest struct w zero-alloc
// only parser logic
package protocol

import (
	"bytes"
	"strings"

	"github.com/kfcemployee/joyofenergy/server/engine"
)

var (
	proto10 = []byte("HTTP/1.0")
	proto11 = []byte("HTTP/1.1")

	hContentLength    = []byte("Content-Length")
	hTransferEncoding = []byte("Transfer-Encoding")
	hConnection       = []byte("Connection")
	hExpect           = []byte("Expect")

	tokClose     = []byte("close")
	tokKeepAlive = []byte("keep-alive")
	tok100       = []byte("100-continue")
)

// stateless HTTPParser struct
// MaxBody caps Content-Length, 0 means only the session buffer limits it
type HTTPParser struct {
	MaxBody int
}

// Parse parses one request from the start of raw into req; it returns the number of bytes
// the request takes, ErrIncomplete when more data is needed, or an *Error.
// On ErrIncomplete after a full header section req.HeaderLen and req.ContentLength are set.
func (p *HTTPParser) Parse(raw []byte, hbuf []engine.HeaderView, req *engine.RawRequest) (int, error) {
	*req = engine.RawRequest{}
	crs := 0

	// skip empty lines before request line, RFC 9112 2.2
	for crs+1 < len(raw) && raw[crs] == '\r' && raw[crs+1] == '\n' {
		crs += 2
	}

	// find a separator
	findsep := func(start int, sep byte) int {
		idx := bytes.IndexByte(raw[start:], sep)
		if idx == -1 {
			return -1
		}
		return start + idx
	}

	lineEnd := findsep(crs, '\n')
	if lineEnd == -1 {
		return 0, ErrIncomplete
	}
	if lineEnd == crs || raw[lineEnd-1] != '\r' {
		return 0, ErrInvalid
	}
	line := raw[crs : lineEnd-1]

	// find RawRequest method
	sp := bytes.IndexByte(line, ' ')
	if sp <= 0 || !isToken(line[:sp]) {
		return 0, ErrInvalidMethod
	}
	req.Method = view(crs, crs+sp)

	// find RawRequest target
	tst := sp + 1
	sp2 := bytes.IndexByte(line[tst:], ' ')
	if sp2 <= 0 {
		return 0, ErrInvalidTarget
	}
	target := line[tst : tst+sp2]
	if target[0] != '/' || !isTarget(target) {
		return 0, ErrInvalidTarget
	}
	abs := crs + tst
	if q := bytes.IndexByte(target, '?'); q != -1 {
		req.Path = view(abs, abs+q)
		req.RawQuery = view(abs+q+1, abs+len(target))
	} else {
		req.Path = view(abs, abs+len(target))
	}

	// find RawRequest protocol (basically HTTP/1.1)
	pst := tst + sp2 + 1
	protocol := line[pst:]
	switch {
	case bytes.Equal(protocol, proto11):
		req.KeepAlive = true
	case bytes.Equal(protocol, proto10):
		req.KeepAlive = false
	default:
		return 0, ErrUnsupportedProto
	}
	req.Protocol = view(crs+pst, crs+len(line))
	crs = lineEnd + 1

	// find RawRequest headers
	contentlen := -1
	var hc int
	for {
		// check if we are out of bounds
		if crs+1 >= len(raw) {
			return 0, ErrIncomplete
		}

		// CRLF means that headers is over
		if raw[crs] == '\r' && raw[crs+1] == '\n' {
			crs += 2
			break
		}

		// header parsing process
		lf := findsep(crs, '\n')
		if lf == -1 {
			return 0, ErrIncomplete
		}
		if raw[lf-1] != '\r' {
			return 0, ErrInvalidHeader
		}

		le := lf - 1
		coloni := findsep(crs, ':')
		if coloni == -1 || coloni > le || coloni == crs || !isToken(raw[crs:coloni]) {
			return 0, ErrInvalidHeader
		}

		vals := coloni + 1
		for vals < le && (raw[vals] == ' ' || raw[vals] == '\t') {
			vals++
		}
		vale := le
		for vale > vals && (raw[vale-1] == ' ' || raw[vale-1] == '\t') {
			vale--
		}

		key := raw[crs:coloni]
		val := raw[vals:vale]

		// max header count is len(hbuf) so we need to check overflow
		if hc >= len(hbuf) {
			return 0, ErrHeadersTooLarge
		}
		hbuf[hc] = engine.HeaderView{Key: view(crs, coloni), Val: view(vals, vale)}
		hc++

		switch {
		// note: no Content-Length means req has NO body
		case bytes.EqualFold(key, hContentLength):
			n, ok := parseLength(val)
			if !ok || (contentlen != -1 && contentlen != n) {
				return 0, ErrInvalidLength
			}
			contentlen = n
		case bytes.EqualFold(key, hTransferEncoding):
			return 0, ErrLengthRequired
		case bytes.EqualFold(key, hConnection):
			if hasToken(val, tokClose) {
				req.KeepAlive = false
			} else if hasToken(val, tokKeepAlive) {
				req.KeepAlive = true
			}
		case bytes.EqualFold(key, hExpect):
			req.ExpectContinue = bytes.EqualFold(val, tok100)
		}

		crs = lf + 1
	}

	req.Hcount = uint16(hc)
	req.HeaderLen = crs
	if contentlen < 0 {
		contentlen = 0
	}
	req.ContentLength = contentlen
	if p.MaxBody > 0 && contentlen > p.MaxBody {
		return 0, ErrBodyTooLarge
	}

	// parsing body
	if crs+contentlen > len(raw) {
		return 0, ErrIncomplete
	}
	req.Body = view(crs, crs+contentlen)
	crs += contentlen

	return crs, nil
}

func view(st, end int) engine.View {
	return engine.View{St: uint32(st), End: uint32(end)}
}

// tchar from RFC 9110 5.6.2
func isToken(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) != -1:
		default:
			return false
		}
	}
	return true
}

// visible ascii only, no spaces and no control bytes
func isTarget(b []byte) bool {
	for _, c := range b {
		if c <= ' ' || c >= 0x7f {
			return false
		}
	}
	return true
}

func parseLength(v []byte) (int, bool) {
	if len(v) == 0 || len(v) > 15 {
		return 0, false
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// hasToken reports whether a comma separated header value contains tok, case-insensitive
func hasToken(v, tok []byte) bool {
	for len(v) > 0 {
		var part []byte
		if i := bytes.IndexByte(v, ','); i != -1 {
			part, v = v[:i], v[i+1:]
		} else {
			part, v = v, nil
		}
		if bytes.EqualFold(bytes.TrimSpace(part), tok) {
			return true
		}
	}
	return false
}

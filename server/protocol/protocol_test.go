package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kfcemployee/joyofenergy/server/engine"
)

func BenchmarkAppendResponse(b *testing.B) {
	body := []byte("{\"status\":\"ok\",\"message\":\"hello world\"}")
	hdrs := []Header{{Key: []byte("Content-Type"), Val: []byte("application/json")}}
	dst := make([]byte, 0, 1024)

	b.ReportAllocs()
	for b.Loop() {
		_ = AppendResponse(dst[:0], 200, hdrs, body)
	}
}

func BenchmarkParse(b *testing.B) {
	p := &HTTPParser{}
	raw := []byte("POST /very/long/path/for/testing/purposes HTTP/1.1\r\n" +
		"Host: localhost:8080\r\n" +
		"User-Agent: joyofenergy-benchmark\r\n" +
		"Content-Length: 19\r\n" +
		"Content-Type: application/json\r\n" +
		"\r\n" +
		"{\"key\":\"value_123\"}")

	var hbuf [32]engine.HeaderView
	req := &engine.RawRequest{}

	b.ReportAllocs()
	for b.Loop() {
		if _, err := p.Parse(raw, hbuf[:], req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkParseHeavy(b *testing.B) {
	headers := ""
	for i := range 20 {
		headers += fmt.Sprintf("X-Header-%d: value-%d-extra-long-data-for-stress-test\r\n", i, i)
	}
	body := bytes.Repeat([]byte{'a'}, 1024)

	raw := []byte(fmt.Sprintf("POST /api/v1/resource/update/large HTTP/1.1\r\n"+
		"Host: localhost\r\n"+
		"Content-Length: %d\r\n"+
		"Content-Type: application/octet-stream\r\n"+
		"%s\r\n%s", len(body), headers, body))

	parser := &HTTPParser{}
	var hbuf [32]engine.HeaderView
	req := &engine.RawRequest{}

	b.ReportAllocs()
	for b.Loop() {
		if _, err := parser.Parse(raw, hbuf[:], req); err != nil {
			b.Fatal(err)
		}
	}
}

// parseAll parses every complete request in raw like the session loop does
func parseAll(p *HTTPParser, raw string) ([]*engine.Session, error) {
	var out []*engine.Session
	buf := []byte(raw)
	for len(buf) > 0 {
		s := &engine.Session{Buf: buf}
		n, err := p.Parse(buf, s.Hbuf[:], &s.Req)
		if err != nil {
			return out, err
		}
		out = append(out, s)
		buf = buf[n:]
	}
	return out, nil
}

func header(s *engine.Session, key string) string {
	for i := range int(s.Req.Hcount) {
		if strings.EqualFold(string(s.Hbuf[i].Key.AsBuf(s)), key) {
			return string(s.Hbuf[i].Val.AsBuf(s))
		}
	}
	return ""
}

func Test_parser_all_cases(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		maxBody      int
		expectError  error
		expectReqs   int
		checkRequest func(t *testing.T, s *engine.Session)
	}{
		{
			name:       "valid get request",
			raw:        "GET /index.html HTTP/1.1\r\nHost: localhost\r\nUser-Agent: test\r\n\r\n",
			expectReqs: 1,
			checkRequest: func(t *testing.T, s *engine.Session) {
				if string(s.Req.Method.AsBuf(s)) != "GET" {
					t.Error("wrong method")
				}
				if string(s.Req.Path.AsBuf(s)) != "/index.html" {
					t.Error("wrong path")
				}
				if s.Req.Hcount != 2 {
					t.Errorf("expected 2 headers, got %d", s.Req.Hcount)
				}
				if !s.Req.KeepAlive {
					t.Error("HTTP/1.1 must default to keep-alive")
				}
			},
		},
		{
			name:       "valid post with body",
			raw:        "POST /api/v1 HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world",
			expectReqs: 1,
			checkRequest: func(t *testing.T, s *engine.Session) {
				if string(s.Req.Body.AsBuf(s)) != "hello world" {
					t.Error("wrong body")
				}
				if s.Req.ContentLength != 11 {
					t.Errorf("content length = %d", s.Req.ContentLength)
				}
			},
		},
		{
			name:       "query is split from path",
			raw:        "GET /readings/read/m1?from=1&to=2 HTTP/1.1\r\n\r\n",
			expectReqs: 1,
			checkRequest: func(t *testing.T, s *engine.Session) {
				if got := string(s.Req.Path.AsBuf(s)); got != "/readings/read/m1" {
					t.Errorf("path = %q", got)
				}
				if got := string(s.Req.RawQuery.AsBuf(s)); got != "from=1&to=2" {
					t.Errorf("query = %q", got)
				}
			},
		},
		{
			name:       "header values lose surrounding whitespace",
			raw:        "GET / HTTP/1.1\r\nX-Id: \t abc \t\r\n\r\n",
			expectReqs: 1,
			checkRequest: func(t *testing.T, s *engine.Session) {
				if got := header(s, "x-id"); got != "abc" {
					t.Errorf("header = %q", got)
				}
			},
		},
		{
			name:       "leading empty lines are skipped",
			raw:        "\r\n\r\nGET / HTTP/1.1\r\n\r\n",
			expectReqs: 1,
		},
		{
			name:       "http/1.0 closes by default",
			raw:        "GET / HTTP/1.0\r\n\r\n",
			expectReqs: 1,
			checkRequest: func(t *testing.T, s *engine.Session) {
				if s.Req.KeepAlive {
					t.Error("HTTP/1.0 without Connection must not keep alive")
				}
			},
		},
		{
			name:       "http/1.0 keep-alive",
			raw:        "GET / HTTP/1.0\r\nConnection: Keep-Alive\r\n\r\n",
			expectReqs: 1,
			checkRequest: func(t *testing.T, s *engine.Session) {
				if !s.Req.KeepAlive {
					t.Error("expected keep-alive")
				}
			},
		},
		{
			name:       "http/1.1 connection close",
			raw:        "GET / HTTP/1.1\r\nConnection: foo, close\r\n\r\n",
			expectReqs: 1,
			checkRequest: func(t *testing.T, s *engine.Session) {
				if s.Req.KeepAlive {
					t.Error("expected close")
				}
			},
		},
		{
			name:       "expect continue",
			raw:        "POST / HTTP/1.1\r\nExpect: 100-continue\r\nContent-Length: 2\r\n\r\nok",
			expectReqs: 1,
			checkRequest: func(t *testing.T, s *engine.Session) {
				if !s.Req.ExpectContinue {
					t.Error("expected ExpectContinue")
				}
			},
		},
		{
			name:       "pipelined requests",
			raw:        "GET /1 HTTP/1.1\r\n\r\nGET /2 HTTP/1.1\r\n\r\n",
			expectReqs: 2,
			checkRequest: func(t *testing.T, s *engine.Session) {
				if string(s.Req.Method.AsBuf(s)) != "GET" {
					t.Error("wrong method")
				}
			},
		},
		{
			name:        "incomplete request",
			raw:         "GET /partial HTTP/1.1\r\nHost: local", // No double CRLF
			expectError: ErrIncomplete,
		},
		{
			name:        "body incomplete",
			raw:         "POST / HTTP/1.1\r\nContent-Length: 100\r\n\r\nsmall body",
			expectError: ErrIncomplete,
		},
		{
			name:        "invalid method",
			raw:         "G(T /sky HTTP/1.1\r\n\r\n",
			expectError: ErrInvalidMethod,
		},
		{
			name:        "target without slash",
			raw:         "GET sky HTTP/1.1\r\n\r\n",
			expectError: ErrInvalidTarget,
		},
		{
			name:        "unsupported protocol",
			raw:         "GET / HTTP/2.0\r\n\r\n",
			expectError: ErrUnsupportedProto,
		},
		{
			name:        "bare lf request line",
			raw:         "GET / HTTP/1.1\n\r\n",
			expectError: ErrInvalid,
		},
		{
			name:        "malformed header",
			raw:         "GET / HTTP/1.1\r\nNoColonHeader\r\n\r\n",
			expectError: ErrInvalidHeader,
		},
		{
			name:        "bad content length",
			raw:         "POST / HTTP/1.1\r\nContent-Length: 1x\r\n\r\n",
			expectError: ErrInvalidLength,
		},
		{
			name:        "conflicting content length",
			raw:         "POST / HTTP/1.1\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\nab",
			expectError: ErrInvalidLength,
		},
		{
			name:        "chunked is refused",
			raw:         "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n",
			expectError: ErrLengthRequired,
		},
		{
			name:        "body over limit",
			raw:         "POST / HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world",
			maxBody:     10,
			expectError: ErrBodyTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := &HTTPParser{MaxBody: tt.maxBody}

			reqs, err := parseAll(parser, tt.raw)
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if len(reqs) != tt.expectReqs {
				t.Errorf("expected %d requests, got %d", tt.expectReqs, len(reqs))
			}
			if tt.checkRequest != nil {
				for _, s := range reqs {
					tt.checkRequest(t, s)
				}
			}
		})
	}
}

func TestParseTooManyHeaders(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("GET / HTTP/1.1\r\n")
	for i := range 40 {
		fmt.Fprintf(&sb, "X-H-%d: v\r\n", i)
	}
	sb.WriteString("\r\n")

	var hbuf [32]engine.HeaderView
	var req engine.RawRequest
	_, err := (&HTTPParser{}).Parse([]byte(sb.String()), hbuf[:], &req)
	if !errors.Is(err, ErrHeadersTooLarge) || StatusOf(err) != 431 {
		t.Fatalf("got %v (status %d), want 431", err, StatusOf(err))
	}
}

func TestIncompleteBodyReportsLengths(t *testing.T) {
	raw := []byte("POST / HTTP/1.1\r\nContent-Length: 100\r\n\r\nab")
	var hbuf [32]engine.HeaderView
	var req engine.RawRequest

	_, err := (&HTTPParser{}).Parse(raw, hbuf[:], &req)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("err = %v", err)
	}
	if req.HeaderLen != len(raw)-2 || req.ContentLength != 100 {
		t.Errorf("HeaderLen = %d, ContentLength = %d", req.HeaderLen, req.ContentLength)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrInvalid, 400},
		{ErrLengthRequired, 411},
		{ErrBodyTooLarge, 413},
		{ErrHeadersTooLarge, 431},
		{fmt.Errorf("wrapped: %w", ErrBodyTooLarge), 413},
		{errors.New("anything else"), 400},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAppendResponse(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
		want string
	}{
		{
			name: "ok with body",
			code: 200,
			body: "hi",
			want: "HTTP/1.1 200 OK\r\nX-A: b\r\nContent-Length: 2\r\n\r\nhi",
		},
		{
			name: "empty body still has length",
			code: 200,
			want: "HTTP/1.1 200 OK\r\nX-A: b\r\nContent-Length: 0\r\n\r\n",
		},
		{
			name: "no content drops body",
			code: 204,
			body: "ignored",
			want: "HTTP/1.1 204 No Content\r\nX-A: b\r\n\r\n",
		},
		{
			name: "not found",
			code: 404,
			body: "{}",
			want: "HTTP/1.1 404 Not Found\r\nX-A: b\r\nContent-Length: 2\r\n\r\n{}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AppendResponse(nil, tt.code, []Header{{Key: []byte("X-A"), Val: []byte("b")}}, []byte(tt.body))
			if string(got) != tt.want {
				t.Errorf("got %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestStatusLine(t *testing.T) {
	if got := StatusLine(431); got != "431 Request Header Fields Too Large" {
		t.Errorf("431: %q", got)
	}
	if got := StatusLine(299); got != "299 " {
		t.Errorf("unknown code: %q", got)
	}
}

// request is the handler facing view of a parsed session request
package router

import (
	"bytes"

	"github.com/kfcemployee/joyofenergy/server/protocol"
)

// Request fields alias the session read buffer, they are valid only during the handler call
type Request struct {
	Method     string
	Path       string
	RawQuery   []byte
	Proto      string
	Headers    []protocol.Header
	Body       []byte
	Params     []string
	RequestID  string
	RemoteAddr string
}

// Header returns the first value of key, names are case-insensitive
func (r *Request) Header(key string) []byte {
	for _, h := range r.Headers {
		if len(h.Key) == len(key) && bytes.EqualFold(h.Key, []byte(key)) {
			return h.Val
		}
	}
	return nil
}

// QueryGet returns the raw value of key in the query string
func (r *Request) QueryGet(key string) []byte {
	q := r.RawQuery
	for len(q) > 0 {
		idx := bytes.IndexByte(q, '&')
		var pair []byte
		if idx == -1 {
			pair = q
			q = nil
		} else {
			pair = q[:idx]
			q = q[idx+1:]
		}

		before, after, _ := bytes.Cut(pair, []byte{'='})
		if string(before) == key {
			return after
		}
	}
	return nil
}

// Param returns the i-th placeholder value or "" when there is none
func (r *Request) Param(i int) string {
	if i < 0 || i >= len(r.Params) {
		return ""
	}
	return r.Params[i]
}

package router

import (
	"github.com/goccy/go-json"

	"github.com/kfcemployee/joyofenergy/server/protocol"
)

var (
	hContentType = []byte("Content-Type")
	mimeJSON     = []byte("application/json")
	mimeText     = []byte("text/plain; charset=utf-8")
)

// Response is what a handler returns, the session serializes it after the call
type Response struct {
	Status  int
	Headers []protocol.Header
	Body    []byte
}

// SetHeader adds a response header, the caller keeps ownership of key and val
func (r *Response) SetHeader(key, val string) {
	r.Headers = append(r.Headers, protocol.Header{Key: []byte(key), Val: []byte(val)})
}

// HeaderValue returns the first value of key as set by the handler
func (r *Response) HeaderValue(key string) string {
	for _, h := range r.Headers {
		if string(h.Key) == key {
			return string(h.Val)
		}
	}
	return ""
}

// Status builds a response with no body
func Status(code int) Response {
	return Response{Status: code}
}

// Text builds a plain text response
func Text(code int, body string) Response {
	return Response{
		Status:  code,
		Headers: []protocol.Header{{Key: hContentType, Val: mimeText}},
		Body:    []byte(body),
	}
}

// JSON encodes v, an encoding failure becomes a 500 response
func JSON(code int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		return Text(500, "failed to encode response: "+err.Error())
	}
	return Response{
		Status:  code,
		Headers: []protocol.Header{{Key: hContentType, Val: mimeJSON}},
		Body:    body,
	}
}

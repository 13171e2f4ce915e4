package protocol

import "strconv"

// lookup table for status codes
// i use flat list instead of map bc codes is fixed
var statusTable = [506]string{
	// 1xx
	100: "100 Continue",
	101: "101 Switching Protocols",

	// 2xx
	200: "200 OK",
	201: "201 Created",
	202: "202 Accepted",
	204: "204 No Content",

	// 3xx
	301: "301 Moved Permanently",
	302: "302 Found",
	304: "304 Not Modified",

	// 4xx
	400: "400 Bad Request",
	401: "401 Unauthorized",
	403: "403 Forbidden",
	404: "404 Not Found",
	405: "405 Method Not Allowed",
	408: "408 Request Timeout",
	411: "411 Length Required",
	413: "413 Payload Too Large",
	415: "415 Unsupported Media Type",
	422: "422 Unprocessable Entity",
	429: "429 Too Many Requests",
	431: "431 Request Header Fields Too Large",

	// 5xx
	500: "500 Internal Server Error",
	501: "501 Not Implemented",
	502: "502 Bad Gateway",
	503: "503 Service Unavailable",
	504: "504 Gateway Timeout",
	505: "505 HTTP Version Not Supported",
}

// header for response and for user facing request headers
type Header struct {
	Key, Val []byte
}

// for fast access
const (
	proto = "HTTP/1.1 "
	crlf  = "\r\n"
	colon = ": "
)

// StatusLine returns "code reason", unknown codes keep the code with no reason
func StatusLine(code int) string {
	if code >= 0 && code < len(statusTable) && statusTable[code] != "" {
		return statusTable[code]
	}
	return strconv.Itoa(code) + " "
}

// AppendResponse appends a full response to dst; Content-Length is always written,
// 1xx, 204 and 304 responses never carry a body
func AppendResponse(dst []byte, code int, headers []Header, body []byte) []byte {
	if code < 100 || code > 999 {
		code = 500
	}

	dst = append(dst, proto...)
	dst = append(dst, StatusLine(code)...)
	dst = append(dst, crlf...)

	for _, h := range headers {
		dst = append(dst, h.Key...)
		dst = append(dst, colon...)
		dst = append(dst, h.Val...)
		dst = append(dst, crlf...)
	}

	if !bodyless(code) {
		dst = append(dst, "Content-Length: "...)
		dst = strconv.AppendInt(dst, int64(len(body)), 10)
		dst = append(dst, crlf...)
	}
	dst = append(dst, crlf...)

	if len(body) > 0 && !bodyless(code) {
		dst = append(dst, body...)
	}
	return dst
}

// AppendContinue appends the interim response for Expect: 100-continue
func AppendContinue(dst []byte) []byte {
	return append(dst, "HTTP/1.1 100 Continue\r\n\r\n"...)
}

func bodyless(code int) bool {
	return code < 200 || code == 204 || code == 304
}

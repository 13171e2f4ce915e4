package protocol

import "errors"

// Error is a parse failure that is answered with a locally built response
type Error struct {
	Status int
	Msg    string
}

func (e *Error) Error() string {
	return e.Msg
}

// errors for parsing
var (
	ErrIncomplete = errors.New("incomplete request")

	ErrInvalid          = &Error{Status: 400, Msg: "invalid request"}
	ErrInvalidMethod    = &Error{Status: 400, Msg: "invalid method"}
	ErrInvalidTarget    = &Error{Status: 400, Msg: "invalid request target"}
	ErrUnsupportedProto = &Error{Status: 400, Msg: "unsupported protocol version"}
	ErrInvalidHeader    = &Error{Status: 400, Msg: "malformed header"}
	ErrInvalidLength    = &Error{Status: 400, Msg: "invalid content-length"}
	ErrLengthRequired   = &Error{Status: 411, Msg: "transfer-encoding is not supported, send content-length"}
	ErrBodyTooLarge     = &Error{Status: 413, Msg: "request body too large"}
	ErrHeadersTooLarge  = &Error{Status: 431, Msg: "request header fields too large"}
)

// StatusOf maps a parse error to the status code of its response, 400 for unknown errors
func StatusOf(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 400
}

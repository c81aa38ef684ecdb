package wire

import "fmt"

// ErrorCode is the fixed enumeration of operation errors reported through
// the error message. Values are wire-stable; never renumber.
//
// For every code except ErrWorkerDefined the accompanying text is a fixed
// context string (typically the path or host the operation touched) and the
// job side composes the user-visible message from the code. ErrWorkerDefined
// carries the complete free-text message itself.
type ErrorCode int32

const (
	ErrCannotOpenForReading ErrorCode = 101
	ErrCannotOpenForWriting ErrorCode = 102
	ErrInternal             ErrorCode = 104
	ErrMalformedURL         ErrorCode = 105
	ErrUnsupportedProtocol  ErrorCode = 106
	ErrUnsupportedAction    ErrorCode = 108
	ErrIsDirectory          ErrorCode = 109
	ErrIsFile               ErrorCode = 110
	ErrDoesNotExist         ErrorCode = 111
	ErrFileAlreadyExists    ErrorCode = 112
	ErrDirAlreadyExists     ErrorCode = 113
	ErrUnknownHost          ErrorCode = 114
	ErrAccessDenied         ErrorCode = 115
	ErrWriteAccessDenied    ErrorCode = 116
	ErrCannotEnterDirectory ErrorCode = 117
	ErrCyclicLink           ErrorCode = 119
	ErrUserCanceled         ErrorCode = 120
	ErrConnectionBroken     ErrorCode = 124
	ErrCannotRead           ErrorCode = 128
	ErrCannotWrite          ErrorCode = 129
	ErrCannotLogin          ErrorCode = 133
	ErrCannotStat           ErrorCode = 134
	ErrCannotMkdir          ErrorCode = 135
	ErrCannotDelete         ErrorCode = 137
	ErrWorkerDied           ErrorCode = 138
	ErrOutOfMemory          ErrorCode = 139
	ErrCannotAuthenticate   ErrorCode = 145
	ErrAborted              ErrorCode = 146
	ErrWorkerDefined        ErrorCode = 149 // text is the complete message
	ErrCannotRename         ErrorCode = 152
	ErrCannotChmod          ErrorCode = 153
	ErrCannotSymlink        ErrorCode = 158
	ErrCannotChown          ErrorCode = 161
	ErrCannotSetModTime     ErrorCode = 162
	ErrCannotResume         ErrorCode = 163
	ErrCannotSeek           ErrorCode = 164
	ErrCannotTruncate       ErrorCode = 165
)

// Error is an operation error carried on the wire as (code, text).
//
// Handlers return it from operation methods; the engine reports it through
// the error message, which is terminal for the current command.
type Error struct {
	Code ErrorCode
	Text string
}

func (e *Error) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("operation error %d: %s", e.Code, e.Text)
	}
	return fmt.Sprintf("operation error %d", e.Code)
}

// NewError builds an operation error. text is the fixed context string for
// the code (path, host, ...), or the full message for ErrWorkerDefined.
func NewError(code ErrorCode, text string) *Error {
	return &Error{Code: code, Text: text}
}

// ProtocolError reports a framing-level failure: a truncated frame, an
// unknown command tag, or a payload that does not decode. These are fatal
// to the connection; there is no recovery mid-frame.
type ProtocolError struct {
	Cmd    Cmd
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Cmd != 0 {
		return fmt.Sprintf("protocol error on %s: %s", e.Cmd, e.Reason)
	}
	return "protocol error: " + e.Reason
}

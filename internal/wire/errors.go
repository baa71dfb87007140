package wire

import "fmt"

// Error codes are a stable small-integer taxonomy, grouped by range, and are
// transmitted verbatim so clients can branch without string matching.
const (
	// 1xxx: connection-level.
	CodeUnknown         = 1000
	CodeInvalidPayload  = 1001
	CodeDuplicateClient = 1002
	CodeRateLimit       = 1003
	CodeForcedSwitch    = 1004
	CodeUnauthenticated = 1005

	// 2xxx: session-level.
	CodeSessionNotFound  = 2000
	CodeAlreadyInSession = 2001
	CodeUnauthorized     = 2002
	CodeBanned           = 2003
	CodeProgressLocked   = 2004
	CodeNotInSession     = 2005

	// 3xxx: node-level.
	CodeNodeNotFound      = 3000
	CodeNodeNotOpenable   = 3001
	CodeNodeNotExecutable = 3002
	CodeNodeNotRevealed   = 3003

	// 4xxx: action-level.
	CodeActionNotFound        = 4000
	CodeInsufficientResources = 4001

	// 5xxx: server-level.
	CodeServerError = 5000
)

// ErrorData is the payload of a MethodError event.
type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error is a protocol failure with a stable code. Request handlers return it
// and the handler boundary converts it into an error envelope addressed to
// the requester only.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("wire: code %d: %s", e.Code, e.Message)
}

// Errorf builds an Error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// SuppressesReconnect reports whether a received error code instructs the
// client to stop reconnecting, so the lifecycle machine classifies the
// resulting close as intentional rather than a loss.
func SuppressesReconnect(code int) bool {
	switch code {
	case CodeDuplicateClient, CodeRateLimit, CodeForcedSwitch, CodeUnauthenticated:
		return true
	}
	return false
}

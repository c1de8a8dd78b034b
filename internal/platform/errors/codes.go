// Package errors provides structured error handling for the session client.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Connection lifecycle errors
	CodeAuthMissing        Code = "AUTH_MISSING"
	CodeTransportFailure   Code = "TRANSPORT_FAILURE"
	CodeProtocolViolation  Code = "PROTOCOL_VIOLATION"
	CodeReconnectExhausted Code = "RECONNECT_EXHAUSTED"
	CodeNotConnected       Code = "NOT_CONNECTED"

	// Session action errors
	CodeActionRejected    Code = "ACTION_REJECTED"
	CodeRequestTimeout    Code = "REQUEST_TIMEOUT"
	CodeSessionJoinFailed Code = "SESSION_JOIN_FAILED"
	CodeSessionNotJoined  Code = "SESSION_NOT_JOINED"

	// Dice/mechanics errors
	CodeDiceInvalidNotation Code = "DICE_INVALID_NOTATION"
	CodeDiceTooManyDice     Code = "DICE_TOO_MANY_DICE"

	// Resource errors
	CodeNotFound Code = "NOT_FOUND"
)

// Retryable reports whether the condition behind the code is transient
// enough that repeating the operation can reasonably succeed.
func (c Code) Retryable() bool {
	switch c {
	case CodeTransportFailure, CodeRequestTimeout:
		return true
	default:
		return false
	}
}

// FromHTTPStatus maps a REST collaborator status to a domain code.
func FromHTTPStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeAuthMissing
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return CodeRequestTimeout
	case status >= 400 && status < 500:
		return CodeActionRejected
	default:
		return CodeTransportFailure
	}
}

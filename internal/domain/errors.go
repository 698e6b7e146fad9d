package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
)

// ErrorCode represents a specific error condition.
type ErrorCode string

const (
	ErrInvalidAPIKey      ErrorCode = "InvalidAPIKey"      // HTTP 401
	ErrBadRequest         ErrorCode = "BadRequest"         // HTTP 400, WS Close 4400
	ErrMalformedMessage   ErrorCode = "MalformedMessage"   // WS error event
	ErrValidationFailed   ErrorCode = "ValidationFailed"   // WS error event, HTTP 422
	ErrUnsupportedMessage ErrorCode = "UnsupportedMessage" // WS error event
	ErrInvalidIdentity    ErrorCode = "InvalidIdentity"    // WS Close 4422
	ErrHandshakeTimeout   ErrorCode = "HandshakeTimeout"   // WS Close 4408
	ErrSuperseded         ErrorCode = "Superseded"         // WS Close 4402
	ErrIdleTimeout        ErrorCode = "IdleTimeout"        // WS Close 4410
	ErrPersistenceFailed  ErrorCode = "PersistenceFailed"  // WS error event, HTTP 500
	ErrNotFound           ErrorCode = "NotFound"           // HTTP 404
	ErrInternal           ErrorCode = "InternalServerError"
)

// CloseCode maps the error code to the WebSocket close code used when the
// condition terminates a connection.
func (c ErrorCode) CloseCode() websocket.StatusCode {
	switch c {
	case ErrBadRequest, ErrMalformedMessage, ErrValidationFailed, ErrUnsupportedMessage:
		return StatusProtocolViolation
	case ErrInvalidIdentity:
		return StatusInvalidIdentity
	case ErrHandshakeTimeout:
		return StatusHandshakeTimeout
	case ErrSuperseded:
		return StatusSuperseded
	case ErrIdleTimeout:
		return StatusIdleTimeout
	default:
		return websocket.StatusInternalError
	}
}

// ErrorResponse is the standard error format returned to clients over HTTP JSON.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// NewErrorResponse creates a new ErrorResponse struct.
func NewErrorResponse(code ErrorCode, message string, details string) ErrorResponse {
	return ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WriteJSON sends an ErrorResponse as JSON with the given HTTP status code.
func (er ErrorResponse) WriteJSON(w http.ResponseWriter, httpStatusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	json.NewEncoder(w).Encode(er) // Best effort, error from Encode is not typically handled here.
}

// Receive loop outcomes. Connections report one of these (possibly wrapped)
// from ReadMessage so loops can tell a clean disconnect from a timeout.
var (
	ErrPeerClosed       = errors.New("peer closed the connection")
	ErrReadTimeout      = errors.New("read timed out")
	ErrConnectionClosed = errors.New("connection closed")
)

// Decode outcomes.
var (
	ErrMalformedFrame = errors.New("frame is not a JSON object")
	ErrMissingType    = errors.New("frame has no type")
)

// MissingFieldsError reports the required fields absent from a frame.
type MissingFieldsError struct {
	Type   string
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%s: missing required fields: %s", e.Type, strings.Join(e.Fields, ", "))
}

// InvalidFieldError reports a field that is present but unusable.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsProtocolViolation reports whether err is a decode or validation failure
// rather than a transport or programming error.
func IsProtocolViolation(err error) bool {
	var missing *MissingFieldsError
	var invalid *InvalidFieldError
	return errors.Is(err, ErrMalformedFrame) ||
		errors.Is(err, ErrMissingType) ||
		errors.As(err, &missing) ||
		errors.As(err, &invalid)
}

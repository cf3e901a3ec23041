package api

import "fmt"

// Response statuses returned by the remote API envelope.
const (
	statusOK       = "ok"
	statusFail     = "fail"
	statusAccepted = "accepted"
)

// codeNotFound is the machine-readable error code the API uses for items
// that no longer exist. Callers treat it as a legitimate absence, not an
// error.
const codeNotFound = "NotFoundError"

// Envelope is the common response wrapper: a status discriminator plus
// either a data payload or an error payload.
type Envelope struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data"`
	Error  *APIError      `json:"error"`
}

// APIError is the machine-readable error payload carried on failures.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RequestError is returned when the API answers with a non-success status
// that is not handled locally. It is not retried by the client; the caller
// decides whether it is fatal.
type RequestError struct {
	Operation string
	Status    string
	Path      string
	APIError  *APIError
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.APIError != nil {
		return fmt.Sprintf("%s: status=%s path=%s code=%s message=%s",
			e.Operation, e.Status, e.Path, e.APIError.Code, e.APIError.Message)
	}
	return fmt.Sprintf("%s: status=%s path=%s", e.Operation, e.Status, e.Path)
}

// DecodeError is returned when a response body is not a valid envelope,
// e.g. an HTML error page injected by an intermediary.
type DecodeError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response from %s: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying decoding error.
func (e *DecodeError) Unwrap() error { return e.Err }

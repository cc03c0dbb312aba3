package registry

import "fmt"

// StatusError carries an HTTP status across the adapter boundary. Ingress
// handlers map it onto the response exactly once; adapters never write HTTP.
type StatusError struct {
	Code    int
	Message string
}

// NewStatusError builds a StatusError with a formatted message.
func NewStatusError(code int, format string, args ...any) *StatusError {
	return &StatusError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *StatusError) Error() string { return e.Message }

// StatusCode implements the status-carrying error contract.
func (e *StatusError) StatusCode() int { return e.Code }

// StatusCodeOf extracts an HTTP status from any error, defaulting to 500.
func StatusCodeOf(err error) int {
	if se, ok := err.(interface{ StatusCode() int }); ok && se != nil {
		if code := se.StatusCode(); code > 0 {
			return code
		}
	}
	return 500
}

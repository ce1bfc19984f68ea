package gateway

import "fmt"

// AuthError is a credential or validation rejection: the backend
// answered, so reachability is unaffected. Message is the server-supplied
// error text or a generic fallback.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return e.Message
}

// NetworkError means no usable response: either the request never got an
// answer (StatusCode 0) or an authenticated endpoint returned a non-2xx
// status. Both flip the backend-online indicator off.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

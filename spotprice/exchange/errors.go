package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrentTrade is returned when a trade is submitted while another is in flight
	ErrConcurrentTrade = errors.New("cannot trade while there is a trade ongoing")

	// ErrNotConnected is returned when subscribing before the socket is open
	ErrNotConnected = errors.New("socket not connected")

	// ErrHubClosed is returned by a hub that has been closed
	ErrHubClosed = errors.New("hub closed")
)

// TransportError wraps a network failure
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ExchangeError is a non-success response. Raw holds the body as received.
type ExchangeError struct {
	Method  string
	Status  int
	Code    string
	Message string
	Raw     []byte
	Err     error
}

func (e *ExchangeError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("indodax %s: invalid response (status %d): %v", e.Method, e.Status, e.Err)
	case e.Message != "":
		return fmt.Sprintf("indodax %s: %s", e.Method, e.Message)
	default:
		return fmt.Sprintf("indodax %s: %s", e.Method, e.Raw)
	}
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// EncodingError reports a signing input that cannot be form-encoded
type EncodingError struct {
	Key   string
	Value interface{}
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode parameter %q of type %T", e.Key, e.Value)
}

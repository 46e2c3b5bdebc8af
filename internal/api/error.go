package api

import "fmt"

// Kind classifies an API failure. Background sync absorbs most of these;
// user-initiated calls surface them for display.
type Kind int

const (
	KindUnspecified Kind = iota
	// KindNetwork is a transport-level failure with no server response.
	KindNetwork
	// KindBadRequest is a 4xx with a parseable error body.
	KindBadRequest
	// KindServer is a 5xx or an unparseable error body.
	KindServer
	// KindParse means a success response body could not be decoded.
	KindParse
	// KindUnauthenticated means the call was attempted with no credentials.
	KindUnauthenticated
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network_error"
	case KindBadRequest:
		return "bad_request"
	case KindServer:
		return "server_error"
	case KindParse:
		return "parse_error"
	case KindUnauthenticated:
		return "unauthenticated"
	}
	return "unspecified"
}

// Error is the single discriminated failure value used across the client.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf extracts the failure kind from any error returned by this package.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnspecified
	}
	if apiErr, ok := err.(*Error); ok {
		return apiErr.Kind
	}
	return KindUnspecified
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorClass buckets backend failures into user-displayable categories.
type ErrorClass string

// Failure classes. Each maps to a distinct message shown to the user in
// place of model output.
const (
	ClassConnection    ErrorClass = "connection"
	ClassTimeout       ErrorClass = "timeout"
	ClassBadRequest    ErrorClass = "bad_request"
	ClassAuth          ErrorClass = "auth"
	ClassQuota         ErrorClass = "quota"
	ClassUnprocessable ErrorClass = "unprocessable"
	ClassRateLimited   ErrorClass = "rate_limited"
	ClassServer        ErrorClass = "server"
	ClassUnavailable   ErrorClass = "unavailable"
	ClassUnknown       ErrorClass = "unknown"
)

// ClassifyStatus maps an HTTP status code to an error class.
func ClassifyStatus(code int) ErrorClass {
	switch code {
	case 400:
		return ClassBadRequest
	case 401, 403:
		return ClassAuth
	case 402:
		return ClassQuota
	case 422:
		return ClassUnprocessable
	case 429:
		return ClassRateLimited
	case 500:
		return ClassServer
	case 502, 503, 504:
		return ClassUnavailable
	default:
		return ClassUnknown
	}
}

// ClassifyTransport maps a transport-level error to an error class.
func ClassifyTransport(err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return ClassConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassConnection
	}
	return ClassConnection
}

// Message renders the class as a user-displayable error for the given
// provider. These strings are shown verbatim in place of assistant output.
func (c ErrorClass) Message(provider, detail string) string {
	var base string
	switch c {
	case ClassConnection:
		base = fmt.Sprintf("Unable to reach the %s API. Check your network connection and base URL.", provider)
	case ClassTimeout:
		base = fmt.Sprintf("The %s API did not respond in time. Try again or simplify the request.", provider)
	case ClassBadRequest:
		base = fmt.Sprintf("The %s API rejected the request as malformed.", provider)
	case ClassAuth:
		base = fmt.Sprintf("Authentication with %s failed. Check your API key.", provider)
	case ClassQuota:
		base = fmt.Sprintf("Your %s account has run out of credit or quota.", provider)
	case ClassUnprocessable:
		base = fmt.Sprintf("The %s API could not process the request content.", provider)
	case ClassRateLimited:
		base = fmt.Sprintf("Rate limited by %s. Wait a moment and try again.", provider)
	case ClassServer:
		base = fmt.Sprintf("The %s API hit an internal error.", provider)
	case ClassUnavailable:
		base = fmt.Sprintf("The %s API is temporarily unavailable.", provider)
	default:
		base = fmt.Sprintf("The %s API returned an unexpected error.", provider)
	}
	if detail != "" {
		return base + " (" + detail + ")"
	}
	return base
}

// errorReply builds a FinishError reply from a transport error.
func errorReply(provider string, err error) Reply {
	class := ClassifyTransport(err)
	return Reply{FinishReason: FinishError, Content: class.Message(provider, err.Error())}
}

// statusReply builds a FinishError reply from an HTTP status and body detail.
func statusReply(provider string, code int, detail string) Reply {
	class := ClassifyStatus(code)
	if len(detail) > 300 {
		detail = detail[:300]
	}
	return Reply{FinishReason: FinishError, Content: class.Message(provider, detail)}
}

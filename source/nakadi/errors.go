package nakadi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the closed set of failure classes the consumer reacts to.
type Kind int

const (
	KindConnection Kind = iota + 1
	KindRequest
	KindNoSubscription
	KindForbidden
	KindConflict
	KindInvalidResponse
	KindCursorUnprocessable
	KindToken
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindRequest:
		return "request"
	case KindNoSubscription:
		return "no_subscription"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindInvalidResponse:
		return "invalid_response"
	case KindCursorUnprocessable:
		return "cursor_unprocessable"
	case KindToken:
		return "token"
	default:
		return "unknown"
	}
}

// Retryable reports whether repeating the same operation can succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindConnection, KindToken, KindInvalidResponse:
		return true
	}
	return false
}

// Fatal reports whether consumption has to stop.
func (k Kind) Fatal() bool {
	switch k {
	case KindRequest, KindNoSubscription, KindForbidden:
		return true
	}
	return false
}

func (k Kind) describe() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindRequest:
		return "the request was invalid"
	case KindNoSubscription:
		return "the subscription was not known"
	case KindForbidden:
		return "access is forbidden for the client or event type"
	case KindConflict:
		return "conflict"
	case KindInvalidResponse:
		return "the response made further processing impossible"
	case KindCursorUnprocessable:
		return "the cursor could not be processed"
	case KindToken:
		return "token error"
	default:
		return "error"
	}
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Context string
	Status  int // broker status code, 0 when no response was received
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.describe())
	if e.Context != "" {
		fmt.Fprintf(&b, ": '%s'", e.Context)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(k Kind, context string, err error) *Error {
	return &Error{Kind: k, Context: context, Err: err}
}

// ErrInvalidFrame marks a stream line that is not a valid batch.
var ErrInvalidFrame = errors.New("invalid frame")

// TokenError is returned by token providers.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string { return "token: " + e.Err.Error() }
func (e *TokenError) Unwrap() error { return e.Err }

// Classify maps any failure to a classified *Error. It is pure: the same
// input always yields the same kind.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	var te *TokenError
	if errors.As(err, &te) {
		return newError(KindToken, "token acquisition failed", err)
	}
	var se *json.SyntaxError
	var ue *json.UnmarshalTypeError
	if errors.As(err, &se) || errors.As(err, &ue) || errors.Is(err, ErrInvalidFrame) {
		return newError(KindInvalidResponse, "undecodable frame", err)
	}
	return newError(KindConnection, "transport failure", err)
}

// Op names the broker call a status code was returned for.
type Op int

const (
	OpStream Op = iota
	OpCommit
)

const maxContextBytes = 512

// FromStatus classifies a non-2xx broker response.
func FromStatus(op Op, status int, body []byte) *Error {
	ctx := strings.TrimSpace(string(body))
	if len(ctx) > maxContextBytes {
		ctx = ctx[:maxContextBytes]
	}
	if ctx == "" {
		ctx = http.StatusText(status)
	}

	var k Kind
	switch {
	case status == http.StatusUnauthorized:
		k = KindToken
	case status == http.StatusForbidden:
		k = KindForbidden
	case status == http.StatusNotFound:
		k = KindNoSubscription
	case status == http.StatusConflict:
		k = KindConflict
	case status == http.StatusUnprocessableEntity && op == OpCommit:
		k = KindCursorUnprocessable
	case status == http.StatusTooManyRequests, status >= 500:
		k = KindConnection
	case status >= 400 && status < 500:
		k = KindRequest
	default:
		k = KindInvalidResponse
	}
	return &Error{Kind: k, Context: ctx, Status: status}
}

// CommitError is the outcome of a cursor that could not be committed.
type CommitError struct {
	Cursor    Cursor
	Attempts  int
	Exhausted bool // transient failures outlasted the retry budget
	Err       *Error
}

func (e *CommitError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("commit %s: gave up after %d attempts: %v", e.Cursor, e.Attempts, e.Err)
	}
	return fmt.Sprintf("commit %s: %v", e.Cursor, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Fatal reports whether the consumer has to stop.
func (e *CommitError) Fatal() bool {
	return e.Exhausted || e.Err.Kind.Fatal()
}

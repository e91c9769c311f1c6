package rest

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
)

// Kind classifies a failed request so callers can branch without parsing messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindForbidden
	KindUnauthorized
	KindInvalid
	KindMalformed
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalid:
		return "invalid"
	case KindMalformed:
		return "malformed"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound     = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict     = &Error{Kind: KindConflict, Message: "already exists"}
	ErrForbidden    = &Error{Kind: KindForbidden, Message: "not allowed"}
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Message: "not authorized"}
)

// Error is the failure returned by every facade operation.
// Code carries the backend's machine code (postgres SQLSTATE or PGRST code) when one was sent.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Code == "" && t.Kind == e.Kind
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// KindOf returns the kind of err, KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// postgrest-go reports api failures as "(<code>) <message>".
var apiError = regexp.MustCompile(`^\(([^)]*)\) (.*)$`)

var codeKinds = map[string]Kind{
	"PGRST116": KindNotFound,
	"23505":    KindConflict,
	"23503":    KindInvalid,
	"23502":    KindInvalid,
	"22P02":    KindInvalid,
	"42501":    KindForbidden,
	"PGRST301": KindUnauthorized,
	"PGRST302": KindUnauthorized,
	"PGRST204": KindInvalid,
}

// translate turns an error returned by postgrest-go into an *Error.
func translate(err error) error {
	if err == nil {
		return nil
	}

	m := apiError.FindStringSubmatch(err.Error())
	if m == nil {
		return &Error{Kind: KindTransport, Message: err.Error(), Err: err}
	}

	kind, ok := codeKinds[m[1]]
	if !ok {
		kind = KindUnknown
	}

	return &Error{Kind: kind, Code: m[1], Message: m[2], Err: err}
}

// StatusKind classifies an http status returned by a backend api.
func StatusKind(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindInvalid
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	default:
		return KindUnknown
	}
}

func malformed(err error) error {
	return &Error{Kind: KindMalformed, Message: err.Error(), Err: err}
}

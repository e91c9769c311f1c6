package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrInvalidCredentials = &Error{Code: "invalid_credentials", Message: "invalid login credentials"}
	ErrEmailNotConfirmed  = &Error{Code: "email_not_confirmed", Message: "email not confirmed"}
	ErrUserAlreadyExists  = &Error{Code: "user_already_exists", Message: "user already registered"}
	ErrSessionNotFound    = &Error{Code: "session_not_found", Message: "session not found"}

	ErrNoServiceRole = errors.New("service role key is not configured")
	ErrUserNotFound  = errors.New("user not found")
)

// Error is a failure reported by the auth service.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("auth: %s (%d)", e.Message, e.Status)
	}

	return fmt.Sprintf("auth: %s: %s", e.Code, e.Message)
}

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Code != "" && t.Code == e.Code
}

// older deployments report the condition only in the message.
var messageCodes = map[string]string{
	"invalid login credentials": ErrInvalidCredentials.Code,
	"email not confirmed":       ErrEmailNotConfirmed.Code,
	"user already registered":   ErrUserAlreadyExists.Code,
}

// errorBody covers both the current and the legacy error formats.
type errorBody struct {
	Code             interface{} `json:"code"`
	ErrorCode        string      `json:"error_code"`
	Msg              string      `json:"msg"`
	Message          string      `json:"message"`
	Error            string      `json:"error"`
	ErrorDescription string      `json:"error_description"`
}

func (b *errorBody) toError(status int) *Error {
	e := &Error{Status: status, Code: b.ErrorCode}

	for _, m := range []string{b.Msg, b.Message, b.ErrorDescription, b.Error} {
		if m != "" {
			e.Message = m
			break
		}
	}

	if e.Code == "" {
		if code, ok := b.Code.(string); ok {
			e.Code = code
		}
	}

	if e.Code == "" || e.Code == "invalid_grant" {
		if code, ok := messageCodes[strings.ToLower(e.Message)]; ok {
			e.Code = code
		}
	}

	if e.Message == "" {
		e.Message = "request failed"
	}

	return e
}

// gotrue-go reports api failures as "response status code <status>: <body>".
var apiError = regexp.MustCompile(`(?s)^response status code (\d+)(?:: (.*))?$`)

// translate turns an error returned by gotrue-go into an *Error, other failures are returned as is.
func translate(err error) error {
	if err == nil {
		return nil
	}

	m := apiError.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}

	status, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return err
	}

	return statusError(status, []byte(m[2]))
}

func statusError(status int, body []byte) *Error {
	eb := &errorBody{}
	err := json.Unmarshal(body, eb)
	if err != nil {
		return &Error{Status: status, Message: statusText(status)}
	}

	return eb.toError(status)
}

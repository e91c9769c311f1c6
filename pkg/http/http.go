// Package http contains utility functions for request and response handling.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

type ErrorCode int

const (
	ErrorCodeInvalidRequestBody ErrorCode = 3
	ErrorCodeInvalidEmail       ErrorCode = 5
	ErrorCodeFailedToLogin      ErrorCode = 8
	ErrorCodeMissingParameter   ErrorCode = 10
	ErrorCodeAuthFailed         ErrorCode = 11
	ErrorCodeInvalidState       ErrorCode = 12
)

// JsonError writes an Error to the ResponseWriter with the provided information.
func JsonError(w http.ResponseWriter, responseCode int, code ErrorCode, msg string) {
	type ErrorResponse struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(responseCode)

	err := json.NewEncoder(w).Encode(ErrorResponse{Code: code, Message: msg})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode error response")
	}
}

// JsonEncode marshals an interface and writes it to the response.
func JsonEncode(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

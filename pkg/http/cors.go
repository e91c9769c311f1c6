package http

import (
	"net/http"

	"github.com/gorilla/handlers"
)

func AllowedHeaders() handlers.CORSOption {
	return handlers.AllowedHeaders([]string{
		"Content-Type",
		"Accept",
		"Accept-Language",
		"Origin",
	})
}

func AllowedOrigins(origins []string) handlers.CORSOption {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return handlers.AllowedOrigins(origins)
}

func AllowedMethods() handlers.CORSOption {
	return handlers.AllowedMethods([]string{
		"GET",
		"HEAD",
		"POST",
		"OPTIONS",
	})
}

// Wrap applies CORS and panic recovery to a handler.
func Wrap(h http.Handler, origins ...string) http.Handler {
	recovered := handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(h)
	return handlers.CORS(AllowedOrigins(origins), AllowedHeaders(), AllowedMethods())(recovered)
}

package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"
)

// CORS applies the configured origin allow-list. A wildcard origin disables
// credentialed requests, which browsers would refuse anyway.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			idempotencyHeader,
			requestIDHeader,
		},
		ExposedHeaders:   []string{requestIDHeader, replayedHeader},
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           600,
	}).Handler
}

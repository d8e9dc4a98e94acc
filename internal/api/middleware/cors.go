// cors.go — CORS для браузерного клиента.
package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS разрешает запросы с указанных origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", LegacyTokenHeader},
		ExposedHeaders:   []string{"Content-Disposition", "Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

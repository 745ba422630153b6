package middleware

import (
	"log/slog"
	"net/http"
)

// NewRequestLogger creates a middleware that logs details about each incoming request.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			var ip string
			if ok {
				ip = reqMeta.IP
			}

			// the path carries the ticket, so only the route is logged
			logger.Info("Incoming HTTP request",
				slog.String("method", r.Method),
				slog.String("route", r.Pattern),
				slog.String("ip", ip),
			)
			next.ServeHTTP(w, r)
		})
	}
}

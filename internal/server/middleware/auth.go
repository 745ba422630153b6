package middleware

import (
	"log/slog"
	"net/http"

	"github.com/a-essam23/go-roomsync/pkg/ticket"
)

// TicketSource extracts the raw join ticket from a request.
type TicketSource func(r *http.Request) string

// PathTicket reads the ticket from the named path wildcard.
func PathTicket(name string) TicketSource {
	return func(r *http.Request) string { return r.PathValue(name) }
}

// NewTicketMiddleware admits requests carrying a valid join ticket and
// records the room and display name it grants.
func NewTicketMiddleware(logger *slog.Logger, secret string, source TicketSource) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			raw := source(r)
			if raw == "" {
				logger.Warn("Join ticket missing in request", slog.String("ip", reqMeta.IP))
				http.Error(w, "Missing ticket", http.StatusUnauthorized)
				return
			}

			claims, err := ticket.Parse(secret, raw)
			if err != nil {
				logger.Warn("Invalid join ticket presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.RoomID = claims.Room
			reqMeta.Name = claims.Name
			next.ServeHTTP(w, r)
		})
	}
}

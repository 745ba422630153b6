package middleware

import (
	"log/slog"
	"net/http"
)

type RoomMemberCounter func(roomID string) int

// NewRoomCapacityLimiter rejects joins into rooms that already hold capacity
// participants. A capacity of zero or less disables the limit.
func NewRoomCapacityLimiter(logger *slog.Logger, counter RoomMemberCounter, capacity int) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if capacity <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Room limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if reqMeta.RoomID == "" {
				logger.Warn("Room limiter could not determine the room; blocking request for safety.")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			count := counter(reqMeta.RoomID)
			if count < capacity {
				next.ServeHTTP(w, r)
				return
			}
			logger.Warn("Room capacity reached", slog.String("roomID", reqMeta.RoomID), slog.Int("count", count))
			http.Error(w, "Room Is Full", http.StatusServiceUnavailable)
		})
	}
}

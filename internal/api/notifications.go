package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/myhubcares/clinic-scheduling/internal/notification"
)

type notificationResponse struct {
	ID        uuid.UUID            `json:"id"`
	Title     string               `json:"title"`
	Body      string               `json:"body"`
	Priority  string               `json:"priority"`
	Payload   notification.Payload `json:"payload"`
	Read      bool                 `json:"read"`
	CreatedAt time.Time            `json:"created_at"`
}

// listNotificationsHandler returns the acting user's in-app messages, newest
// first.
func listNotificationsHandler(store notification.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())

		q := r.URL.Query()
		unreadOnly := q.Get("unread") == "true"

		msgs, err := store.ListByUser(r.Context(), actor.UserID, unreadOnly, intQuery(q.Get("limit")), intQuery(q.Get("offset")))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error", err.Error())
			return
		}

		out := make([]notificationResponse, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, notificationResponse{
				ID:        m.ID,
				Title:     m.Title,
				Body:      m.Body,
				Priority:  string(m.Priority),
				Payload:   m.Payload,
				Read:      m.Read,
				CreatedAt: m.CreatedAt,
			})
		}
		writeData(w, http.StatusOK, out)
	}
}

// markNotificationReadHandler marks one of the acting user's messages read.
// The user scoping makes it a no-op on someone else's message.
func markNotificationReadHandler(store notification.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid notification id", "id must be a valid UUID")
			return
		}

		actor, _ := ActorFromContext(r.Context())

		if err := store.MarkRead(r.Context(), id, actor.UserID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error", err.Error())
			return
		}
		writeData(w, http.StatusOK, map[string]bool{"read": true})
	}
}

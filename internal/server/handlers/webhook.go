package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/deploybot/internal/errors"
	"github.com/3leaps/deploybot/internal/observability"
	"github.com/3leaps/deploybot/pkg/buildwatch"
)

const maxWebhookBody = 1 << 20

// EventSink consumes build notifications.
//
// *buildwatch.Registry satisfies EventSink.
type EventSink interface {
	HandleEvent(ctx context.Context, ev buildwatch.Event) int
}

// WebhookResponse is the body of an accepted notification.
type WebhookResponse struct {
	Job      string `json:"job"`
	Phase    string `json:"phase"`
	Notified int    `json:"notified"`
}

// WebhookHandler accepts Jenkins Notification plugin posts. When secret is
// set, the token query parameter must match it.
func WebhookHandler(secret string, sink EventSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret != "" {
			token := r.URL.Query().Get("token")
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				respondWithError(w, r, apperrors.NewForbiddenError("invalid webhook token"))
				return
			}
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			respondWithError(w, r, apperrors.NewValidationError("unreadable body"))
			return
		}

		ev, err := buildwatch.ParseEvent(body)
		if err != nil {
			observability.CLILogger.Info("Rejected build notification", zap.Error(err))
			respondWithError(w, r, apperrors.NewValidationError(err.Error()))
			return
		}

		notified := sink.HandleEvent(r.Context(), ev)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(WebhookResponse{
			Job:      ev.JobPath(),
			Phase:    ev.Build.Phase,
			Notified: notified,
		})
	}
}

package alertapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/lookout/internal/prefs"
)

func (a *API) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("lookout.delivery.id", id))

	d, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get delivery", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("lookout.delivery.status", string(d.Status)))
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	rid := recipient(r)
	limit, ok := listLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be an integer in [1, 1000]")
		return
	}

	list, err := a.svc.List(r.Context(), rid, limit)
	if err != nil {
		a.fail(w, r, err, "failed to list deliveries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": list})
}

func (a *API) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	rid := recipient(r)
	p, err := a.svc.Preferences(r.Context(), rid)
	if err != nil {
		a.fail(w, r, err, "failed to load preferences")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	rid := recipient(r)

	var p prefs.Preferences
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if p.RecipientID != "" && p.RecipientID != rid {
		writeError(w, http.StatusBadRequest, "recipientId does not match the path")
		return
	}
	p.RecipientID = rid

	if err := a.svc.SetPreferences(r.Context(), &p); err != nil {
		a.fail(w, r, err, "failed to store preferences")
		return
	}

	a.logger.Info(r.Context(), "preferences updated", "recipient", rid)
	writeJSON(w, http.StatusOK, &p)
}

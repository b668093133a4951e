package alertapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/lookout/internal/alert"
	"github.com/linnemanlabs/lookout/internal/prefs"
)

type batchRequest struct {
	Alerts []alert.Alert `json:"alerts"`
}

type prioritizeRequest struct {
	Preferences *prefs.Preferences `json:"preferences,omitempty"`
	Alerts      []alert.Alert      `json:"alerts"`
	WindowHours float64            `json:"windowHours,omitempty"`
}

func decodeBatch(w http.ResponseWriter, r *http.Request) ([]alert.Alert, bool) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return nil, false
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int("lookout.alerts", len(req.Alerts)))
	return req.Alerts, true
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	rid := recipient(r)
	alerts, ok := decodeBatch(w, r)
	if !ok {
		return
	}

	res, err := a.svc.Submit(r.Context(), rid, alerts)
	if err != nil {
		a.fail(w, r, err, "failed to submit alerts")
		return
	}

	a.logger.Info(r.Context(), "alerts submitted",
		"recipient", rid,
		"accepted", len(res.Accepted),
		"rejected", len(res.Rejected),
		"filtered", len(res.Filtered),
	)
	writeJSON(w, http.StatusAccepted, res)
}

func (a *API) handleCluster(w http.ResponseWriter, r *http.Request) {
	rid := recipient(r)
	hours, ok := windowHours(r, a.windowHours)
	if !ok {
		writeError(w, http.StatusBadRequest, "windowHours must be a number in (0, 168]")
		return
	}
	alerts, ok := decodeBatch(w, r)
	if !ok {
		return
	}

	res, err := a.svc.Cluster(r.Context(), rid, alerts, hours)
	if err != nil {
		a.fail(w, r, err, "failed to cluster alerts")
		return
	}

	a.logger.Info(r.Context(), "alerts clustered",
		"recipient", rid,
		"clusters", len(res.Clusters),
		"window_hours", hours,
	)
	writeJSON(w, http.StatusOK, res)
}

// handlePrioritize is a stateless dry run: nothing is stored or sent.
func (a *API) handlePrioritize(w http.ResponseWriter, r *http.Request) {
	var req prioritizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	hours := a.windowHours
	if req.WindowHours != 0 {
		if !(req.WindowHours > 0 && req.WindowHours <= maxWindowHours) {
			writeError(w, http.StatusBadRequest, "windowHours must be a number in (0, 168]")
			return
		}
		hours = req.WindowHours
	}

	p := req.Preferences
	if p != nil {
		if p.RecipientID == "" {
			p.RecipientID = "preview"
		}
		if err := p.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, a.svc.Preview(p, req.Alerts, hours))
}

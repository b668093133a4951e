// Package alertapi exposes the delivery service over HTTP.
package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/lookout/internal/alert"
	"github.com/linnemanlabs/lookout/internal/delivery"
	"github.com/linnemanlabs/lookout/internal/prefs"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxWindowHours   = 168
)

// DeliveryService defines the business operations alertapi needs.
type DeliveryService interface {
	Submit(ctx context.Context, recipientID string, alerts []alert.Alert) (*delivery.SubmitResult, error)
	Cluster(ctx context.Context, recipientID string, alerts []alert.Alert, windowHours float64) (*delivery.ClusterResult, error)
	Preview(p *prefs.Preferences, alerts []alert.Alert, windowHours float64) *delivery.PreviewResult
	Get(ctx context.Context, id string) (*delivery.Delivery, bool, error)
	List(ctx context.Context, recipientID string, limit int) ([]*delivery.Delivery, error)
	Preferences(ctx context.Context, recipientID string) (*prefs.Preferences, error)
	SetPreferences(ctx context.Context, p *prefs.Preferences) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger      log.Logger
	svc         DeliveryService
	windowHours float64
	stream      http.Handler
}

// Option configures an API.
type Option func(*API)

// WithClusterWindow sets the clustering window used when a request names none.
func WithClusterWindow(hours float64) Option {
	return func(a *API) {
		if hours > 0 {
			a.windowHours = hours
		}
	}
}

// WithStream mounts h on GET /api/v1/recipients/{recipient}/stream.
func WithStream(h http.Handler) Option {
	return func(a *API) { a.stream = h }
}

// New creates a new API handler.
func New(logger log.Logger, svc DeliveryService, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("delivery service is required"))
	}
	a := &API{
		logger:      logger,
		svc:         svc,
		windowHours: 1,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/prioritize", a.handlePrioritize)
		r.Get("/deliveries/{id}", a.handleGetDelivery)

		r.Route("/recipients/{recipient}", func(r chi.Router) {
			r.Post("/alerts", a.handleSubmit)
			r.Post("/clusters", a.handleCluster)
			r.Get("/deliveries", a.handleListDeliveries)
			r.Get("/preferences", a.handleGetPreferences)
			r.Put("/preferences", a.handlePutPreferences)
			if a.stream != nil {
				r.Get("/stream", a.stream.ServeHTTP)
			}
		})
	})
}

// recipient reads the {recipient} path parameter and tags the span with it.
func recipient(r *http.Request) string {
	id := chi.URLParam(r, "recipient")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("lookout.recipient_id", id))
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps service errors onto HTTP statuses. Unexpected errors are logged
// and reported as 500 without detail.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, delivery.ErrRecipientRequired), errors.Is(err, prefs.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error(r.Context(), err, msg)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// windowHours reads ?windowHours=, falling back to fallback when absent.
func windowHours(r *http.Request, fallback float64) (float64, bool) {
	raw := r.URL.Query().Get("windowHours")
	if raw == "" {
		return fallback, true
	}
	h, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(h > 0 && h <= maxWindowHours) {
		return 0, false
	}
	return h, true
}

// listLimit reads ?limit=, defaulting to defaultListLimit.
func listLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, false
	}
	return n, true
}

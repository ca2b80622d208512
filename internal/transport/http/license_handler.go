// Package http exposes a consumer license manager over REST.
package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	lerrors "github.com/christian-schlichtherle/truelicense-sub000/internal/errors"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/infrastructure"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/license"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/middleware"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/store"
)

const (
	tracerName = "license-handler"
	// DefaultMaxKeyBytes bounds an uploaded license key
	DefaultMaxKeyBytes = 1 << 20
)

// LicenseHandler serves the license of one subject
type LicenseHandler struct {
	manager     license.ConsumerManager
	logger      *slog.Logger
	maxKeyBytes int64
}

// NewLicenseHandler creates a handler for manager. A non-positive
// maxKeyBytes selects DefaultMaxKeyBytes.
func NewLicenseHandler(manager license.ConsumerManager, logger *slog.Logger, maxKeyBytes int64) *LicenseHandler {
	if maxKeyBytes <= 0 {
		maxKeyBytes = DefaultMaxKeyBytes
	}
	return &LicenseHandler{
		manager:     manager,
		logger:      logger.With(slog.String("handler", "license")),
		maxKeyBytes: maxKeyBytes,
	}
}

// SubjectResponse is the JSON form of the licensing subject
type SubjectResponse struct {
	Subject string `json:"subject"`
}

// Routes returns the router to mount at /license
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/subject", h.Subject)
	r.Get("/", h.Load)
	r.Post("/", h.Install)
	r.Delete("/", h.Uninstall)
	return r
}

// Subject handles GET /license/subject. Clients accepting text/plain but
// not JSON get the bare subject.
func (h *LicenseHandler) Subject(w http.ResponseWriter, r *http.Request) {
	subject := h.manager.Subject()
	if prefersText(r) {
		render.PlainText(w, r, subject)
		return
	}
	render.JSON(w, r, SubjectResponse{Subject: subject})
}

// Install handles POST /license with the license key as request body
func (h *LicenseHandler) Install(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "install")
	defer span.End()

	key, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxKeyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(ctx, w, r, span, http.StatusRequestEntityTooLarge, err)
			return
		}
		h.fail(ctx, w, r, span, http.StatusBadRequest, err)
		return
	}
	if len(key) == 0 {
		render.Render(w, r, lerrors.ErrInvalidRequest("license key is empty"))
		return
	}

	if err := h.manager.Install(ctx, store.NewMemoryStoreWith(key)); err != nil {
		h.fail(ctx, w, r, span, http.StatusBadRequest, err)
		return
	}
	http.Redirect(w, r, strings.TrimSuffix(r.URL.Path, "/"), http.StatusSeeOther)
}

// Load handles GET /license. With verify=true the license terms are
// validated as well.
func (h *LicenseHandler) Load(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "load")
	defer span.End()

	verify := false
	if v := r.URL.Query().Get("verify"); v != "" {
		var err error
		if verify, err = strconv.ParseBool(v); err != nil {
			render.Render(w, r, lerrors.ErrInvalidRequest("verify must be a boolean"))
			return
		}
	}
	span.SetAttributes(attribute.Bool("verify", verify))

	l, err := h.manager.Load(ctx)
	if err != nil {
		h.fail(ctx, w, r, span, http.StatusNotFound, err)
		return
	}
	if verify {
		if err := h.manager.Verify(ctx); err != nil {
			h.fail(ctx, w, r, span, http.StatusPaymentRequired, err)
			return
		}
	}
	render.JSON(w, r, l)
}

// Uninstall handles DELETE /license
func (h *LicenseHandler) Uninstall(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.start(r, "uninstall")
	defer span.End()

	if err := h.manager.Uninstall(ctx); err != nil {
		h.fail(ctx, w, r, span, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LicenseHandler) start(r *http.Request, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(r.Context(), "license_handler."+op,
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
			attribute.String("component", "license_handler"),
			attribute.String("operation", op),
			attribute.String("subject", h.manager.Subject()),
		))
}

// fail renders err with status, unless authorization throttled the call.
// Only the public message of err leaves the process.
func (h *LicenseHandler) fail(ctx context.Context, w http.ResponseWriter, r *http.Request, span trace.Span, status int, err error) {
	if errors.Is(err, license.ErrRateLimited) {
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", "1")
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, lerrors.KindOf(err).String())

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, "request failed",
		slog.String("error", err.Error()),
		slog.String("error_kind", lerrors.KindOf(err).String()),
		slog.Int("status", status),
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.Time("timestamp", time.Now().UTC()),
	)

	resp := lerrors.NewErrResponse(status, err)
	resp.TraceID = infrastructure.GetTraceID(ctx)
	render.Render(w, r, resp)
}

func prefersText(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/plain") && !strings.Contains(accept, "application/json")
}

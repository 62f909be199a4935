package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/nestuniq/internal/adapters/document"
	"github.com/atvirokodosprendimai/nestuniq/internal/core/domain"
	"github.com/atvirokodosprendimai/nestuniq/internal/core/usecase"
	"github.com/atvirokodosprendimai/nestuniq/uniqueness"
)

type ctxKey string

const (
	timeFormat             = "2006-01-02T15:04:05.999999999Z07:00"
	tenantIDCtxKey  ctxKey = "tenant_id"
	apiActorCtxKey  ctxKey = "api_actor"
	maxJSONBodySize        = 1 << 20
)

type Handler struct {
	formService *usecase.FormService
	authService *usecase.AuthService
	metrics     http.Handler
	log         logrus.FieldLogger
}

// NewHandler wires the HTTP API. metrics, when set, is served on /metrics.
func NewHandler(formService *usecase.FormService, authService *usecase.AuthService, metrics http.Handler, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{formService: formService, authService: authService, metrics: metrics, log: logger}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAPIKey)
		pr.Post("/v1/forms:validate", h.validateForm)
		pr.Post("/v1/forms", h.createForm)
		pr.Put("/v1/forms/{id}", h.updateForm)
		pr.Get("/v1/forms/{id}", h.getForm)
	})

	return r
}

type formResponse struct {
	document.Document
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type saveResponse struct {
	Form   formResponse  `json:"form"`
	Report domain.Report `json:"report"`
}

func (h *Handler) validateForm(w http.ResponseWriter, r *http.Request) {
	form, ok := readForm(w, r)
	if !ok {
		return
	}

	report, err := h.formService.Validate(r.Context(), tenantIDFromContext(r.Context()), form)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) createForm(w http.ResponseWriter, r *http.Request) {
	form, ok := readForm(w, r)
	if !ok {
		return
	}
	if form.ID != "" {
		writeError(w, http.StatusBadRequest, "id is assigned by the server, use PUT to replace a form")
		return
	}
	h.saveForm(w, r, form, http.StatusCreated)
}

func (h *Handler) updateForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	form, ok := readForm(w, r)
	if !ok {
		return
	}
	if form.ID != "" && form.ID != id {
		writeError(w, http.StatusBadRequest, "id in body does not match path")
		return
	}
	if err := domain.ValidateIdent(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form id")
		return
	}
	form.ID = id
	h.saveForm(w, r, form, http.StatusOK)
}

func (h *Handler) saveForm(w http.ResponseWriter, r *http.Request, form *domain.Form, status int) {
	actor := actorFromContext(r.Context())
	report, err := h.formService.Save(r.Context(), tenantIDFromContext(r.Context()), form)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"tenant": form.TenantID,
		"form":   form.ID,
		"actor":  actor,
	}).Info("form saved")
	writeJSON(w, status, saveResponse{Form: toFormResponse(form), Report: report})
}

func (h *Handler) getForm(w http.ResponseWriter, r *http.Request) {
	form, err := h.formService.Get(r.Context(), tenantIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toFormResponse(form))
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapiSpec())
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if token == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}

		apiKey, err := h.authService.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, usecase.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			h.handleError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), tenantIDCtxKey, apiKey.TenantID)
		ctx = context.WithValue(ctx, apiActorCtxKey, apiKey.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// readForm decodes the body as a form document. It writes the error
// response itself and reports false when the body is unusable.
func readForm(w http.ResponseWriter, r *http.Request) (*domain.Form, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}

	doc, err := document.DecodeJSON(data)
	if err != nil {
		handleDomainError(w, err)
		return nil, false
	}
	return doc.ToForm(), true
}

func toFormResponse(form *domain.Form) formResponse {
	resp := formResponse{Document: document.FromForm(form)}
	if !form.CreatedAt.IsZero() {
		resp.CreatedAt = form.CreatedAt.UTC().Format(timeFormat)
	}
	if !form.UpdatedAt.IsZero() {
		resp.UpdatedAt = form.UpdatedAt.UTC().Format(timeFormat)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		logrus.WithError(err).Error("encode json response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		logrus.WithError(err).Warn("write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if status := errorStatus(err); status == http.StatusInternalServerError {
		h.log.WithError(err).WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("request failed")
	}
	handleDomainError(w, err)
}

func errorStatus(err error) int {
	var violation *domain.ErrUniquenessViolation
	switch {
	case errors.As(err, &violation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, document.ErrInvalidDocument),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidDataset),
		errors.Is(err, domain.ErrInvalidTenant),
		errors.Is(err, domain.ErrInvalidForm),
		errors.Is(err, uniqueness.ErrCyclicStructure),
		errors.Is(err, uniqueness.ErrMaxDepthExceeded):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func handleDomainError(w http.ResponseWriter, err error) {
	status := errorStatus(err)

	var violation *domain.ErrUniquenessViolation
	if errors.As(err, &violation) {
		writeJSON(w, status, violation.Report)
		return
	}
	var invalid *document.ViolationError
	if errors.As(err, &invalid) {
		writeJSON(w, status, map[string]any{"error": document.ErrInvalidDocument.Error(), "details": invalid.Errors})
		return
	}

	switch status {
	case http.StatusInternalServerError:
		writeError(w, status, "internal server error")
	default:
		writeError(w, status, err.Error())
	}
}

func tenantIDFromContext(ctx context.Context) string {
	tenant, _ := ctx.Value(tenantIDCtxKey).(string)
	return tenant
}

func actorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(apiActorCtxKey).(string)
	if actor == "" {
		return "api"
	}
	return actor
}

func openapiSpec() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "nestuniq",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/v1/forms:validate": map[string]any{
				"post": map[string]any{"summary": "Validate a form without saving it"},
			},
			"/v1/forms": map[string]any{
				"post": map[string]any{"summary": "Create form"},
			},
			"/v1/forms/{id}": map[string]any{
				"put": map[string]any{"summary": "Replace form"},
				"get": map[string]any{"summary": "Get form"},
			},
		},
	}
}
